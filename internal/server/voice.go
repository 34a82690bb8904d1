package server

import (
	"github.com/npezzotti/go-huddle/internal/stats"
	"github.com/npezzotti/go-huddle/internal/types"
)

type voiceState struct {
	muted    bool
	deafened bool
	speaking bool
}

type voiceRoom struct {
	id string
	// members is in join order; the first member hosts the call.
	members []int
	conns   map[int]map[*Client]struct{}
	states  map[int]voiceState
}

// voiceRooms tracks room membership per user and, underneath it, per
// connection, so one device leaving does not evict a user whose other device
// is still in the call.
type voiceRooms struct {
	rooms map[string]*voiceRoom
}

func newVoiceRooms() *voiceRooms {
	return &voiceRooms{rooms: make(map[string]*voiceRoom)}
}

// join attaches c to roomId for userId. The connection must not be in
// another room. created reports whether the room did not exist before.
func (vr *voiceRooms) join(c *Client, userId int, roomId string) (created bool) {
	room, ok := vr.rooms[roomId]
	if !ok {
		room = &voiceRoom{
			id:     roomId,
			conns:  make(map[int]map[*Client]struct{}),
			states: make(map[int]voiceState),
		}
		vr.rooms[roomId] = room
		created = true
	}

	set, ok := room.conns[userId]
	if !ok {
		set = make(map[*Client]struct{})
		room.conns[userId] = set
		room.members = append(room.members, userId)
	}
	set[c] = struct{}{}
	c.roomId = roomId

	return created
}

// leave detaches c from its room. userRemoved reports whether the user lost
// membership; roomDeleted whether the room went with them.
func (vr *voiceRooms) leave(c *Client) (userRemoved, roomDeleted bool) {
	if c.roomId == "" {
		return false, false
	}

	room, ok := vr.rooms[c.roomId]
	c.roomId = ""
	if !ok {
		return false, false
	}

	if set, ok := room.conns[c.userId]; ok {
		delete(set, c)
	}

	return vr.prune(room, c.userId)
}

// prune removes userId from room once they have no connection left in it,
// and the room once it has no members.
func (vr *voiceRooms) prune(room *voiceRoom, userId int) (userRemoved, roomDeleted bool) {
	if len(room.conns[userId]) == 0 {
		if _, ok := room.conns[userId]; ok {
			delete(room.conns, userId)
			delete(room.states, userId)
			for i, id := range room.members {
				if id == userId {
					room.members = append(room.members[:i], room.members[i+1:]...)
					break
				}
			}
			userRemoved = true
		}
	}

	if len(room.members) == 0 {
		delete(vr.rooms, room.id)
		roomDeleted = true
	}

	return userRemoved, roomDeleted
}

func (vr *voiceRooms) isMember(roomId string, userId int) bool {
	room, ok := vr.rooms[roomId]
	if !ok {
		return false
	}
	_, ok = room.conns[userId]
	return ok
}

func (vr *voiceRooms) hostOf(roomId string) (int, bool) {
	room, ok := vr.rooms[roomId]
	if !ok || len(room.members) == 0 {
		return 0, false
	}
	return room.members[0], true
}

func (vr *voiceRooms) membersOf(roomId string) []int {
	room, ok := vr.rooms[roomId]
	if !ok {
		return nil
	}
	members := make([]int, len(room.members))
	copy(members, room.members)
	return members
}

func (vr *voiceRooms) stateOf(roomId string, userId int) voiceState {
	if room, ok := vr.rooms[roomId]; ok {
		return room.states[userId]
	}
	return voiceState{}
}

func (vr *voiceRooms) setState(roomId string, userId int, state voiceState) bool {
	room, ok := vr.rooms[roomId]
	if !ok {
		return false
	}
	if _, ok := room.conns[userId]; !ok {
		return false
	}
	room.states[userId] = state
	return true
}

func (cs *ChatServer) participant(roomId string, userId int) types.Participant {
	state := cs.rooms.stateOf(roomId, userId)
	return types.Participant{
		Id:          userId,
		DisplayName: cs.presence.displayName(userId),
		Muted:       state.muted,
		Deafened:    state.deafened,
		Speaking:    state.speaking,
	}
}

func (cs *ChatServer) participantsOf(roomId string) []types.Participant {
	members := cs.rooms.membersOf(roomId)
	participants := make([]types.Participant, 0, len(members))
	for _, userId := range members {
		participants = append(participants, cs.participant(roomId, userId))
	}
	return participants
}

func (cs *ChatServer) participantsEvent(roomId string) *VoiceParticipantsEvent {
	var host *int
	if id, ok := cs.rooms.hostOf(roomId); ok {
		host = &id
	}
	return newVoiceParticipantsEvent(roomId, cs.participantsOf(roomId), host)
}

func (cs *ChatServer) handleVoiceJoin(c *Client, ev *VoiceJoin) {
	if !cs.claim(c, ev.UserId) {
		return
	}

	if c.roomId == ev.RoomId {
		c.queueMessage(cs.participantsEvent(ev.RoomId))
		return
	}

	// A connection is in one room at a time; joining another moves it.
	if c.roomId != "" {
		cs.leaveVoice(c)
	}

	if cs.rooms.join(c, ev.UserId, ev.RoomId) {
		cs.stats.Incr(stats.NumVoiceRooms)
	}
	cs.broadcast(cs.participantsEvent(ev.RoomId))
}

func (cs *ChatServer) handleVoiceLeave(c *Client, ev *VoiceLeave) {
	if c.userId != ev.UserId || c.roomId != ev.RoomId {
		return
	}
	cs.leaveVoice(c)
}

// leaveVoice takes c out of its room, if any, and tells everyone when the
// user's membership changed. A deleted room is announced with an empty
// participant list.
func (cs *ChatServer) leaveVoice(c *Client) {
	roomId := c.roomId
	userRemoved, roomDeleted := cs.rooms.leave(c)
	if roomDeleted {
		cs.stats.Decr(stats.NumVoiceRooms)
	}
	if userRemoved {
		cs.broadcast(cs.participantsEvent(roomId))
	}
}

func (cs *ChatServer) handleGetParticipants(c *Client, ev *VoiceGetParticipants) {
	for _, roomId := range ev.rooms() {
		if !c.queueMessage(cs.participantsEvent(roomId)) {
			return
		}
	}
}

func (cs *ChatServer) handleVoiceState(c *Client, ev *VoiceStateUpdate) {
	if c.userId != ev.UserId || c.roomId != ev.RoomId {
		return
	}

	state := voiceState{muted: ev.Muted, deafened: ev.Deafened, speaking: ev.Speaking}
	if !cs.rooms.setState(ev.RoomId, ev.UserId, state) {
		return
	}
	cs.broadcast(newVoiceStateEvent(ev.RoomId, cs.participant(ev.RoomId, ev.UserId)))
}
