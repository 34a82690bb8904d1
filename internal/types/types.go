package types

import (
	"time"
)

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusIdle    PresenceStatus = "idle"
	StatusOffline PresenceStatus = "offline"
)

type Activity struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Details string `json:"details,omitempty"`
}

func (a *Activity) Equal(other *Activity) bool {
	if a == nil || other == nil {
		return a == other
	}
	return *a == *other
}

type Presence struct {
	Id           int            `json:"id"`
	DisplayName  string         `json:"displayName"`
	Status       PresenceStatus `json:"status"`
	Activity     *Activity      `json:"activity,omitempty"`
	LastActiveAt time.Time      `json:"lastActiveAt"`
}

type Participant struct {
	Id          int    `json:"id"`
	DisplayName string `json:"displayName"`
	Muted       bool   `json:"muted"`
	Deafened    bool   `json:"deafened"`
	Speaking    bool   `json:"speaking"`
}

type Embed struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Url         string `json:"url,omitempty"`
	ImageUrl    string `json:"imageUrl,omitempty"`
	Color       int    `json:"color,omitempty"`
}

type Attachment struct {
	Id       int    `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	Url      string `json:"url"`
}

type Message struct {
	Id          int          `json:"id"`
	Channel     string       `json:"channel"`
	Sender      string       `json:"sender"`
	SenderId    *int         `json:"senderId,omitempty"`
	Content     string       `json:"content"`
	Embed       *Embed       `json:"embed,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	EditedAt    *time.Time   `json:"editedAt,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type Profile struct {
	UserId      int    `json:"userId"`
	DisplayName string `json:"displayName"`
	AvatarUrl   string `json:"avatarUrl,omitempty"`
}
