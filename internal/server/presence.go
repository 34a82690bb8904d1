package server

import (
	"fmt"
	"sort"
	"time"

	"github.com/npezzotti/go-huddle/internal/types"
)

func placeholderName(userId int) string {
	return fmt.Sprintf("User %d", userId)
}

// presenceTracker holds one record per user introduced by a hello. Updates
// for unknown users are no-ops.
type presenceTracker struct {
	records map[int]*types.Presence
}

func newPresenceTracker() *presenceTracker {
	return &presenceTracker{records: make(map[int]*types.Presence)}
}

// identify creates or refreshes the record for userId. changed reports
// whether other connections need to hear about it.
func (pt *presenceTracker) identify(userId int, displayName string, now time.Time) (types.Presence, bool) {
	rec, ok := pt.records[userId]
	if !ok {
		if displayName == "" {
			displayName = placeholderName(userId)
		}
		rec = &types.Presence{
			Id:           userId,
			DisplayName:  displayName,
			Status:       types.StatusOnline,
			LastActiveAt: now,
		}
		pt.records[userId] = rec
		return *rec, true
	}

	changed := false
	rec.LastActiveAt = now
	if rec.Status == types.StatusOffline {
		rec.Status = types.StatusOnline
		changed = true
	}
	if displayName != "" && displayName != rec.DisplayName {
		rec.DisplayName = displayName
		changed = true
	}

	return *rec, changed
}

// touch records activity for userId. A status change back to online or a
// different activity is a change; a repeat of the current state is not.
func (pt *presenceTracker) touch(userId int, now time.Time, activitySet bool, activity *types.Activity) (types.Presence, bool) {
	rec, ok := pt.records[userId]
	if !ok {
		return types.Presence{}, false
	}

	changed := false
	rec.LastActiveAt = now
	if rec.Status != types.StatusOnline {
		rec.Status = types.StatusOnline
		changed = true
	}
	if activitySet && !rec.Activity.Equal(activity) {
		rec.Activity = activity
		changed = true
	}

	return *rec, changed
}

func (pt *presenceTracker) markOnline(userId int, now time.Time) (types.Presence, bool) {
	rec, ok := pt.records[userId]
	if !ok || rec.Status != types.StatusOffline {
		return types.Presence{}, false
	}

	rec.Status = types.StatusOnline
	rec.LastActiveAt = now
	return *rec, true
}

func (pt *presenceTracker) markOffline(userId int) (types.Presence, bool) {
	rec, ok := pt.records[userId]
	if !ok || rec.Status == types.StatusOffline {
		return types.Presence{}, false
	}

	rec.Status = types.StatusOffline
	rec.Activity = nil
	return *rec, true
}

func (pt *presenceTracker) rename(userId int, displayName string) (types.Presence, bool) {
	rec, ok := pt.records[userId]
	if !ok || displayName == "" || rec.DisplayName == displayName {
		return types.Presence{}, false
	}

	rec.DisplayName = displayName
	return *rec, true
}

// sweep moves online users silent for at least threshold to idle and returns
// the records that changed.
func (pt *presenceTracker) sweep(now time.Time, threshold time.Duration) []types.Presence {
	var idle []types.Presence
	for _, rec := range pt.records {
		if rec.Status != types.StatusOnline {
			continue
		}
		if now.Sub(rec.LastActiveAt) < threshold {
			continue
		}

		rec.Status = types.StatusIdle
		idle = append(idle, *rec)
	}

	sortPresence(idle)
	return idle
}

func (pt *presenceTracker) get(userId int) (types.Presence, bool) {
	rec, ok := pt.records[userId]
	if !ok {
		return types.Presence{}, false
	}
	return *rec, true
}

func (pt *presenceTracker) displayName(userId int) string {
	if p, ok := pt.get(userId); ok && p.DisplayName != "" {
		return p.DisplayName
	}
	return placeholderName(userId)
}

func (pt *presenceTracker) snapshot() []types.Presence {
	users := make([]types.Presence, 0, len(pt.records))
	for _, rec := range pt.records {
		users = append(users, *rec)
	}

	sortPresence(users)
	return users
}

func sortPresence(users []types.Presence) {
	sort.Slice(users, func(i, j int) bool {
		return users[i].Id < users[j].Id
	})
}

func (cs *ChatServer) handleHello(c *Client, ev *PresenceHello) {
	if c.identified {
		cs.log.Printf("client %s: already identified as user %d", c.id, c.userId)
		return
	}
	if ok, _ := cs.bind(c, ev.UserId); !ok {
		cs.log.Printf("client %s: rejected hello for user %d", c.id, ev.UserId)
		return
	}
	c.identified = true

	p, changed := cs.presence.identify(ev.UserId, ev.DisplayName, cs.now())
	c.queueMessage(newPresenceStateEvent(cs.presence.snapshot()))
	if changed {
		cs.broadcastExcept(newPresenceUpdatedEvent(p), c)
	}

	if ev.DisplayName == "" && p.DisplayName == placeholderName(ev.UserId) {
		cs.resolveDisplayName(ev.UserId)
	}
}

func (cs *ChatServer) resolveDisplayName(userId int) {
	cs.persist(func() func() {
		name, err := cs.db.GetDisplayName(userId)
		if err != nil {
			cs.log.Printf("resolve display name for user %d: %v", userId, err)
			return nil
		}

		return func() {
			if p, ok := cs.presence.rename(userId, name); ok {
				cs.broadcast(newPresenceUpdatedEvent(p))
			}
		}
	})
}

func (cs *ChatServer) handleActivity(c *Client, ev *PresenceActivity) {
	if c.userId != ev.UserId {
		return
	}

	if p, changed := cs.presence.touch(ev.UserId, cs.now(), ev.activitySet, ev.activity); changed {
		cs.broadcast(newPresenceUpdatedEvent(p))
	}
}

func (cs *ChatServer) sweepIdle() {
	for _, p := range cs.presence.sweep(cs.now(), cs.cfg.IdleThreshold) {
		cs.broadcast(newPresenceUpdatedEvent(p))
	}
}
