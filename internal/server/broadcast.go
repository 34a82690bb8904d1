package server

// Delivery never blocks the run loop: a client whose buffer is full misses
// the event and everyone else still gets it.

func (cs *ChatServer) broadcast(ev ServerEvent) {
	for c := range cs.clients {
		c.queueMessage(ev)
	}
}

func (cs *ChatServer) broadcastExcept(ev ServerEvent, skip *Client) {
	for c := range cs.clients {
		if c == skip {
			continue
		}
		c.queueMessage(ev)
	}
}

func (cs *ChatServer) sendToUser(userId int, ev ServerEvent) int {
	sent := 0
	for _, c := range cs.registry.connectionsFor(userId) {
		if c.queueMessage(ev) {
			sent++
		}
	}
	return sent
}
