package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/npezzotti/go-huddle/internal/types"
)

// Inbound event types.
const (
	TypeMessage              = "message"
	TypeMessageEdit          = "message:edit"
	TypeMessageDelete        = "message:delete"
	TypePresenceHello        = "presence:hello"
	TypePresenceActivity     = "presence:activity"
	TypeVoiceJoin            = "voice:join"
	TypeVoiceLeave           = "voice:leave"
	TypeVoiceSignal          = "voice:signal"
	TypeVoiceGetParticipants = "voice:get_participants"
	TypeVoiceState           = "voice:state"
	TypeTyping               = "typing"
)

// Outbound event types not shared with inbound ones.
const (
	TypeMessageUpdated    = "message:updated"
	TypeMessageDeleted    = "message:deleted"
	TypePresenceState     = "presence:state"
	TypePresenceUpdated   = "presence:updated"
	TypeVoiceParticipants = "voice:participants"
	TypeProfileUpdated    = "profileUpdated"
)

// maxParticipantRooms bounds a voice:get_participants request so its replies
// fit in a connection's send buffer.
const maxParticipantRooms = 64

var (
	errMissingField = errors.New("missing required field")
	errTooManyRooms = errors.New("too many rooms requested")
)

// ClientEvent is one decoded inbound frame. The concrete type identifies the
// event kind.
type ClientEvent interface {
	validate() error
}

type ChatSend struct {
	Channel       string       `json:"channel"`
	Sender        string       `json:"sender"`
	SenderId      *int         `json:"senderId,omitempty"`
	Content       string       `json:"content"`
	Embed         *types.Embed `json:"embed,omitempty"`
	AttachmentIds []int        `json:"attachmentIds,omitempty"`
}

func (e *ChatSend) validate() error {
	if e.Channel == "" || e.Sender == "" {
		return errMissingField
	}
	return nil
}

type ChatEdit struct {
	MessageId  int    `json:"messageId"`
	Content    string `json:"content"`
	SenderName string `json:"senderName"`
}

func (e *ChatEdit) validate() error {
	if e.MessageId <= 0 {
		return errMissingField
	}
	return nil
}

type ChatDelete struct {
	MessageId  int    `json:"messageId"`
	SenderName string `json:"senderName"`
}

func (e *ChatDelete) validate() error {
	if e.MessageId <= 0 {
		return errMissingField
	}
	return nil
}

type PresenceHello struct {
	UserId      int    `json:"userId"`
	DisplayName string `json:"displayName"`
}

func (e *PresenceHello) validate() error {
	if e.UserId <= 0 {
		return errMissingField
	}
	return nil
}

type PresenceActivity struct {
	UserId   int             `json:"userId"`
	Activity json.RawMessage `json:"activity,omitempty"`

	// activitySet reports whether the frame carried an activity key at all;
	// activity is nil when the key was null, which clears the activity.
	activitySet bool
	activity    *types.Activity
}

func (e *PresenceActivity) validate() error {
	if e.UserId <= 0 {
		return errMissingField
	}
	if len(e.Activity) == 0 {
		return nil
	}

	e.activitySet = true
	if string(e.Activity) == "null" {
		return nil
	}

	var a types.Activity
	if err := json.Unmarshal(e.Activity, &a); err != nil {
		return fmt.Errorf("activity: %w", err)
	}
	if a.Type != "game" && a.Type != "app" {
		return fmt.Errorf("activity: unknown type %q", a.Type)
	}
	if a.Name == "" {
		return errMissingField
	}
	e.activity = &a
	return nil
}

type VoiceJoin struct {
	RoomId string `json:"roomId"`
	UserId int    `json:"userId"`
}

func (e *VoiceJoin) validate() error {
	if e.RoomId == "" || e.UserId <= 0 {
		return errMissingField
	}
	return nil
}

type VoiceLeave struct {
	RoomId string `json:"roomId"`
	UserId int    `json:"userId"`
}

func (e *VoiceLeave) validate() error {
	if e.RoomId == "" || e.UserId <= 0 {
		return errMissingField
	}
	return nil
}

type VoiceSignal struct {
	RoomId     string          `json:"roomId"`
	FromUserId int             `json:"fromUserId"`
	ToUserId   int             `json:"toUserId"`
	SignalType string          `json:"signalType"`
	Data       json.RawMessage `json:"data,omitempty"`
}

func (e *VoiceSignal) validate() error {
	if e.RoomId == "" || e.FromUserId <= 0 || e.ToUserId <= 0 || e.SignalType == "" {
		return errMissingField
	}
	return nil
}

type VoiceGetParticipants struct {
	RoomId  string   `json:"roomId,omitempty"`
	RoomIds []string `json:"roomIds,omitempty"`
}

func (e *VoiceGetParticipants) validate() error {
	n := len(e.rooms())
	if n == 0 {
		return errMissingField
	}
	if n > maxParticipantRooms {
		return errTooManyRooms
	}
	return nil
}

// rooms returns the requested room ids in request order without duplicates.
func (e *VoiceGetParticipants) rooms() []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, id := range append([]string{e.RoomId}, e.RoomIds...) {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

type VoiceStateUpdate struct {
	RoomId   string `json:"roomId"`
	UserId   int    `json:"userId"`
	Muted    bool   `json:"muted"`
	Deafened bool   `json:"deafened"`
	Speaking bool   `json:"speaking"`
}

func (e *VoiceStateUpdate) validate() error {
	if e.RoomId == "" || e.UserId <= 0 {
		return errMissingField
	}
	return nil
}

type Typing struct {
	Channel string `json:"channel"`
	UserId  int    `json:"userId"`
}

func (e *Typing) validate() error {
	if e.Channel == "" || e.UserId <= 0 {
		return errMissingField
	}
	return nil
}

// parseClientEvent decodes a raw frame into its event type. Unparseable
// frames, unknown types and missing required fields are errors.
func parseClientEvent(raw []byte) (ClientEvent, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var ev ClientEvent
	switch envelope.Type {
	case TypeMessage:
		ev = &ChatSend{}
	case TypeMessageEdit:
		ev = &ChatEdit{}
	case TypeMessageDelete:
		ev = &ChatDelete{}
	case TypePresenceHello:
		ev = &PresenceHello{}
	case TypePresenceActivity:
		ev = &PresenceActivity{}
	case TypeVoiceJoin:
		ev = &VoiceJoin{}
	case TypeVoiceLeave:
		ev = &VoiceLeave{}
	case TypeVoiceSignal:
		ev = &VoiceSignal{}
	case TypeVoiceGetParticipants:
		ev = &VoiceGetParticipants{}
	case TypeVoiceState:
		ev = &VoiceStateUpdate{}
	case TypeTyping:
		ev = &Typing{}
	default:
		return nil, fmt.Errorf("unknown event type %q", envelope.Type)
	}

	if err := json.Unmarshal(raw, ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", envelope.Type, err)
	}
	if err := ev.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", envelope.Type, err)
	}

	return ev, nil
}

// ServerEvent is an outbound frame. Every implementation embeds eventHeader
// so the JSON carries a top-level "type".
type ServerEvent interface {
	EventType() string
}

type eventHeader struct {
	Type string `json:"type"`
}

func (h eventHeader) EventType() string {
	return h.Type
}

type MessageEvent struct {
	eventHeader
	types.Message
}

type MessageDeletedEvent struct {
	eventHeader
	Id      int    `json:"id"`
	Channel string `json:"channel"`
}

type PresenceStateEvent struct {
	eventHeader
	Users []types.Presence `json:"users"`
}

type PresenceUpdatedEvent struct {
	eventHeader
	types.Presence
}

type VoiceParticipantsEvent struct {
	eventHeader
	RoomId       string              `json:"roomId"`
	Participants []types.Participant `json:"participants"`
	HostUserId   *int                `json:"hostUserId"`
}

type VoiceSignalEvent struct {
	eventHeader
	RoomId     string          `json:"roomId"`
	FromUserId int             `json:"fromUserId"`
	ToUserId   int             `json:"toUserId"`
	SignalType string          `json:"signalType"`
	Data       json.RawMessage `json:"data,omitempty"`
}

type VoiceStateEvent struct {
	eventHeader
	RoomId string `json:"roomId"`
	types.Participant
}

type TypingEvent struct {
	eventHeader
	Channel     string `json:"channel"`
	UserId      int    `json:"userId"`
	DisplayName string `json:"displayName"`
}

type ProfileUpdatedEvent struct {
	eventHeader
	types.Profile
}

func newMessageEvent(eventType string, msg types.Message) *MessageEvent {
	return &MessageEvent{eventHeader: eventHeader{Type: eventType}, Message: msg}
}

func newMessageDeletedEvent(id int, channel string) *MessageDeletedEvent {
	return &MessageDeletedEvent{eventHeader: eventHeader{Type: TypeMessageDeleted}, Id: id, Channel: channel}
}

func newPresenceStateEvent(users []types.Presence) *PresenceStateEvent {
	if users == nil {
		users = []types.Presence{}
	}
	return &PresenceStateEvent{eventHeader: eventHeader{Type: TypePresenceState}, Users: users}
}

func newPresenceUpdatedEvent(p types.Presence) *PresenceUpdatedEvent {
	return &PresenceUpdatedEvent{eventHeader: eventHeader{Type: TypePresenceUpdated}, Presence: p}
}

func newVoiceParticipantsEvent(roomId string, participants []types.Participant, host *int) *VoiceParticipantsEvent {
	if participants == nil {
		participants = []types.Participant{}
	}
	return &VoiceParticipantsEvent{
		eventHeader:  eventHeader{Type: TypeVoiceParticipants},
		RoomId:       roomId,
		Participants: participants,
		HostUserId:   host,
	}
}

func newVoiceSignalEvent(sig *VoiceSignal) *VoiceSignalEvent {
	return &VoiceSignalEvent{
		eventHeader: eventHeader{Type: TypeVoiceSignal},
		RoomId:      sig.RoomId,
		FromUserId:  sig.FromUserId,
		ToUserId:    sig.ToUserId,
		SignalType:  sig.SignalType,
		Data:        sig.Data,
	}
}

func newVoiceStateEvent(roomId string, p types.Participant) *VoiceStateEvent {
	return &VoiceStateEvent{eventHeader: eventHeader{Type: TypeVoiceState}, RoomId: roomId, Participant: p}
}

func newTypingEvent(channel string, userId int, displayName string) *TypingEvent {
	return &TypingEvent{
		eventHeader: eventHeader{Type: TypeTyping},
		Channel:     channel,
		UserId:      userId,
		DisplayName: displayName,
	}
}

func newProfileUpdatedEvent(p types.Profile) *ProfileUpdatedEvent {
	return &ProfileUpdatedEvent{eventHeader: eventHeader{Type: TypeProfileUpdated}, Profile: p}
}

func serializeMessage(msg ServerEvent) ([]byte, error) {
	return json.Marshal(msg)
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
