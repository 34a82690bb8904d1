package server

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/npezzotti/go-huddle/internal/config"
	"github.com/npezzotti/go-huddle/internal/database"
	"github.com/npezzotti/go-huddle/internal/notify"
	"github.com/npezzotti/go-huddle/internal/stats"
	"github.com/npezzotti/go-huddle/internal/types"
)

type inboundEvent struct {
	client *Client
	event  ClientEvent
}

// ChatServer is the realtime hub. All hub state is owned by the goroutine
// running Run; everything else talks to it over channels.
type ChatServer struct {
	log      *log.Logger
	db       database.Repository
	stats    stats.StatsProvider
	notifier notify.Notifier
	cfg      config.HubConfig
	now      func() time.Time

	clients  map[*Client]struct{}
	registry *connRegistry
	presence *presenceTracker
	rooms    *voiceRooms

	registerChan   chan *Client
	unregisterChan chan *Client
	inbound        chan inboundEvent
	completions    chan func()
	profileChan    chan types.Profile
	stop           chan struct{}
	stopOnce       sync.Once
	done           chan struct{}
}

func NewChatServer(logger *log.Logger, db database.Repository, su stats.StatsProvider, notifier notify.Notifier,
	cfg config.HubConfig) (*ChatServer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("hub config: %w", err)
	}

	for _, metric := range stats.HubMetrics {
		su.RegisterMetric(metric)
	}

	return &ChatServer{
		log:            logger,
		db:             db,
		stats:          su,
		notifier:       notifier,
		cfg:            cfg,
		now:            time.Now,
		clients:        make(map[*Client]struct{}),
		registry:       newConnRegistry(),
		presence:       newPresenceTracker(),
		rooms:          newVoiceRooms(),
		registerChan:   make(chan *Client),
		unregisterChan: make(chan *Client),
		inbound:        make(chan inboundEvent, 256),
		completions:    make(chan func()),
		profileChan:    make(chan types.Profile, 16),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}, nil
}

func (cs *ChatServer) Run() {
	heartbeat := time.NewTicker(cs.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	idleSweep := time.NewTicker(cs.cfg.IdleSweepInterval)
	defer idleSweep.Stop()

	for {
		select {
		case c := <-cs.registerChan:
			cs.addClient(c)
		case c := <-cs.unregisterChan:
			cs.disconnect(c)
		case in := <-cs.inbound:
			cs.handleEvent(in.client, in.event)
		case fn := <-cs.completions:
			fn()
		case p := <-cs.profileChan:
			cs.handleProfileUpdate(p)
		case <-heartbeat.C:
			cs.checkHeartbeats()
		case <-idleSweep.C:
			cs.sweepIdle()
		case <-cs.stop:
			cs.log.Printf("closing %d connections", len(cs.clients))
			for c := range cs.clients {
				c.terminate()
			}

			close(cs.done)
			return
		}
	}
}

func (cs *ChatServer) RegisterClient(c *Client) bool {
	select {
	case cs.registerChan <- c:
		return true
	case <-cs.done:
		return false
	}
}

func (cs *ChatServer) UnregisterClient(c *Client) {
	select {
	case cs.unregisterChan <- c:
	case <-cs.done:
	}
}

// ProfileUpdated announces a saved profile change to every connection.
func (cs *ChatServer) ProfileUpdated(p types.Profile) {
	select {
	case cs.profileChan <- p:
	case <-cs.done:
	}
}

func (cs *ChatServer) submit(c *Client, ev ClientEvent) bool {
	select {
	case cs.inbound <- inboundEvent{client: c, event: ev}:
		return true
	case <-cs.done:
		return false
	}
}

// complete hands the result of background work back to the run loop.
func (cs *ChatServer) complete(fn func()) {
	select {
	case cs.completions <- fn:
	case <-cs.done:
	}
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")
	cs.stopOnce.Do(func() {
		close(cs.stop)
	})

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clients[c] = struct{}{}
	cs.stats.Incr(stats.NumConnections)
	cs.log.Printf("client %s connected", c.id)
}

// disconnect is the single cleanup path for a connection, whether it closed
// on its own or was terminated by the heartbeat monitor.
func (cs *ChatServer) disconnect(c *Client) {
	if _, ok := cs.clients[c]; !ok {
		return
	}
	delete(cs.clients, c)
	cs.stats.Decr(stats.NumConnections)

	cs.leaveVoice(c)

	userId := c.userId
	if !cs.registry.forget(c) {
		return
	}

	cs.stats.Decr(stats.NumOnlineUsers)
	if p, ok := cs.presence.markOffline(userId); ok {
		cs.broadcast(newPresenceUpdatedEvent(p))
	}
	cs.log.Printf("user %d has no open connections", userId)
}

// bind attaches c to userId. A connection is bound at most once, and never to
// a user other than the one its session was issued for. first reports
// whether c is the user's only open connection.
func (cs *ChatServer) bind(c *Client, userId int) (ok bool, first bool) {
	if c.authUserId != 0 && c.authUserId != userId {
		return false, false
	}
	if c.userId != 0 {
		return c.userId == userId, false
	}

	c.userId = userId
	first = cs.registry.add(userId, c)
	if first {
		cs.stats.Incr(stats.NumOnlineUsers)
	}

	return true, first
}

// claim binds c for events other than hello, bringing an offline user back
// online when this is their first connection.
func (cs *ChatServer) claim(c *Client, userId int) bool {
	ok, first := cs.bind(c, userId)
	if !ok {
		return false
	}

	if first {
		if p, changed := cs.presence.markOnline(userId, cs.now()); changed {
			cs.broadcast(newPresenceUpdatedEvent(p))
		}
	}

	return true
}

func (cs *ChatServer) handleEvent(c *Client, ev ClientEvent) {
	if _, ok := cs.clients[c]; !ok {
		return
	}

	switch ev := ev.(type) {
	case *ChatSend:
		cs.handleChatSend(c, ev)
	case *ChatEdit:
		cs.handleChatEdit(c, ev)
	case *ChatDelete:
		cs.handleChatDelete(c, ev)
	case *PresenceHello:
		cs.handleHello(c, ev)
	case *PresenceActivity:
		cs.handleActivity(c, ev)
	case *VoiceJoin:
		cs.handleVoiceJoin(c, ev)
	case *VoiceLeave:
		cs.handleVoiceLeave(c, ev)
	case *VoiceSignal:
		cs.handleVoiceSignal(c, ev)
	case *VoiceGetParticipants:
		cs.handleGetParticipants(c, ev)
	case *VoiceStateUpdate:
		cs.handleVoiceState(c, ev)
	case *Typing:
		cs.handleTyping(c, ev)
	default:
		cs.log.Printf("client %s: unhandled event %T", c.id, ev)
	}
}

func (cs *ChatServer) handleProfileUpdate(p types.Profile) {
	cs.presence.rename(p.UserId, p.DisplayName)
	cs.broadcast(newProfileUpdatedEvent(p))
}

// persist runs work off the loop. The function work returns, if any, is run
// back on the loop; it must not assume the originating connection still
// exists.
func (cs *ChatServer) persist(work func() func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				cs.log.Printf("persist: recovered from panic: %v", r)
			}
		}()

		if fn := work(); fn != nil {
			cs.complete(fn)
		}
	}()
}
