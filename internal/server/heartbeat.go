package server

import "github.com/npezzotti/go-huddle/internal/stats"

// checkHeartbeats runs once per heartbeat interval. A connection that has not
// answered a ping since the previous tick counts a miss; after
// MaxMissedPings consecutive misses it is terminated and cleaned up like any
// other disconnect.
func (cs *ChatServer) checkHeartbeats() {
	for c := range cs.clients {
		if c.alive.Swap(false) {
			c.missedPings = 0
		} else {
			c.missedPings++
		}

		if c.missedPings >= cs.cfg.MaxMissedPings {
			cs.log.Printf("client %s: missed %d pings, terminating", c.id, c.missedPings)
			cs.stats.Incr(stats.NumTerminatedConnections)
			c.terminate()
			cs.disconnect(c)
			continue
		}

		c.requestPing()
	}
}
