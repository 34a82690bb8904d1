package server

// handleVoiceSignal relays an offer, answer or ICE candidate to every
// connection of the target user. Both peers must be in the room; anything
// else is a stale signal and is dropped. The payload is not inspected.
func (cs *ChatServer) handleVoiceSignal(c *Client, ev *VoiceSignal) {
	if c.userId != ev.FromUserId {
		return
	}
	if !cs.rooms.isMember(ev.RoomId, ev.FromUserId) || !cs.rooms.isMember(ev.RoomId, ev.ToUserId) {
		return
	}

	cs.sendToUser(ev.ToUserId, newVoiceSignalEvent(ev))
}
