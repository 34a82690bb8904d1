package database

import "time"

type User struct {
	Id          int
	DisplayName string
	AvatarUrl   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Attachment struct {
	Id       int
	Filename string
	MimeType string
	Size     int64
	Url      string
}

type Embed struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Url         string `json:"url,omitempty"`
	ImageUrl    string `json:"imageUrl,omitempty"`
	Color       int    `json:"color,omitempty"`
}

type Message struct {
	Id          int
	Channel     string
	Sender      string
	SenderId    *int
	Content     string
	Embed       *Embed
	CreatedAt   time.Time
	EditedAt    *time.Time
	Attachments []Attachment
}

// MessageOwner identifies who may edit or delete a message. SenderId is nil
// when the row predates sender tracking or the column does not exist.
type MessageOwner struct {
	MessageId  int
	Channel    string
	SenderName string
	SenderId   *int
}

type CreateMessageParams struct {
	Channel       string
	Sender        string
	SenderId      *int
	Content       string
	Embed         *Embed
	AttachmentIds []int
	CreatedAt     time.Time
}

type UpdateProfileParams struct {
	UserId      int
	DisplayName string
	AvatarUrl   string
}
