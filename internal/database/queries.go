package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const (
	insertMessageQuery = "INSERT INTO messages (channel, sender, sender_id, content, embed, created_at) " +
		"VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at"
	insertMessageLegacyQuery = "INSERT INTO messages (channel, sender, content, created_at) " +
		"VALUES ($1, $2, $3, $4) RETURNING id, created_at"
	linkAttachmentsQuery = "UPDATE uploads SET message_id = $1 " +
		"WHERE id = ANY($2) AND message_id IS NULL RETURNING id, filename, mime_type, size, url"
	updateMessageQuery = "UPDATE messages SET content = $2, edited_at = $3 WHERE id = $1 " +
		"RETURNING id, channel, sender, sender_id, content, embed, created_at, edited_at"
	updateMessageLegacyQuery = "UPDATE messages SET content = $2, edited_at = $3 WHERE id = $1 " +
		"RETURNING id, channel, sender, content, created_at, edited_at"
	listAttachmentsQuery = "SELECT id, filename, mime_type, size, url FROM uploads " +
		"WHERE message_id = $1 ORDER BY id"
	messageOwnerQuery       = "SELECT id, channel, sender, sender_id FROM messages WHERE id = $1 LIMIT 1"
	messageOwnerLegacyQuery = "SELECT id, channel, sender FROM messages WHERE id = $1 LIMIT 1"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// marshalEmbed encodes an embed for a jsonb column. lib/pq sends []byte as
// bytea, so the value is passed as text.
func marshalEmbed(e *Embed) (sql.NullString, error) {
	if e == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalEmbed(raw []byte) (*Embed, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var e Embed
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func nullableId(id sql.NullInt64) *int {
	if !id.Valid {
		return nil
	}
	v := int(id.Int64)
	return &v
}

func scanAttachments(rows *sql.Rows) ([]Attachment, error) {
	defer rows.Close()

	var attachments []Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.Id, &a.Filename, &a.MimeType, &a.Size, &a.Url); err != nil {
			return nil, err
		}
		attachments = append(attachments, a)
	}

	return attachments, rows.Err()
}

// InsertMessage stores a chat message and links any uploaded attachments to
// it. On a schema without sender_id/embed the message is stored without them
// and the returned row reflects what was actually persisted.
func (db *PgRepository) InsertMessage(params CreateMessageParams) (Message, error) {
	var msg Message

	err := db.withSchemaFallback(
		func() error {
			var err error
			msg, err = db.insertMessage(params, false)
			return err
		},
		func() error {
			var err error
			msg, err = db.insertMessage(params, true)
			return err
		},
	)

	return msg, err
}

func (db *PgRepository) insertMessage(params CreateMessageParams, legacy bool) (Message, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Message{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	msg := Message{
		Channel: params.Channel,
		Sender:  params.Sender,
		Content: params.Content,
	}

	var row *sql.Row
	if legacy {
		row = tx.QueryRow(
			insertMessageLegacyQuery,
			params.Channel,
			params.Sender,
			params.Content,
			params.CreatedAt,
		)
	} else {
		embed, err := marshalEmbed(params.Embed)
		if err != nil {
			return Message{}, fmt.Errorf("marshal embed: %w", err)
		}

		var senderId sql.NullInt64
		if params.SenderId != nil {
			senderId = sql.NullInt64{Int64: int64(*params.SenderId), Valid: true}
		}

		row = tx.QueryRow(
			insertMessageQuery,
			params.Channel,
			params.Sender,
			senderId,
			params.Content,
			embed,
			params.CreatedAt,
		)
		msg.SenderId = params.SenderId
		msg.Embed = params.Embed
	}

	if err := row.Scan(&msg.Id, &msg.CreatedAt); err != nil {
		return Message{}, err
	}

	if len(params.AttachmentIds) > 0 {
		rows, err := tx.Query(linkAttachmentsQuery, msg.Id, pq.Array(params.AttachmentIds))
		if err != nil {
			return Message{}, &attachmentError{op: "link attachments", err: err}
		}

		msg.Attachments, err = scanAttachments(rows)
		if err != nil {
			return Message{}, &attachmentError{op: "scan attachments", err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("commit: %w", err)
	}

	return msg, nil
}

func (db *PgRepository) UpdateMessage(messageId int, content string) (Message, error) {
	var msg Message
	editedAt := time.Now().UTC()

	err := db.withSchemaFallback(
		func() error {
			var err error
			msg, err = scanMessage(db.conn.QueryRow(updateMessageQuery, messageId, content, editedAt), false)
			return err
		},
		func() error {
			var err error
			msg, err = scanMessage(db.conn.QueryRow(updateMessageLegacyQuery, messageId, content, editedAt), true)
			return err
		},
	)
	if err != nil {
		return Message{}, err
	}

	rows, err := db.conn.Query(listAttachmentsQuery, msg.Id)
	if err != nil {
		return Message{}, fmt.Errorf("list attachments: %w", err)
	}

	msg.Attachments, err = scanAttachments(rows)
	if err != nil {
		return Message{}, fmt.Errorf("scan attachments: %w", err)
	}

	return msg, nil
}

func scanMessage(row rowScanner, legacy bool) (Message, error) {
	var (
		msg      Message
		editedAt sql.NullTime
	)

	if legacy {
		err := row.Scan(&msg.Id, &msg.Channel, &msg.Sender, &msg.Content, &msg.CreatedAt, &editedAt)
		if err != nil {
			return Message{}, err
		}
	} else {
		var (
			senderId sql.NullInt64
			embed    []byte
		)
		err := row.Scan(&msg.Id, &msg.Channel, &msg.Sender, &senderId, &msg.Content, &embed, &msg.CreatedAt, &editedAt)
		if err != nil {
			return Message{}, err
		}

		msg.SenderId = nullableId(senderId)
		if msg.Embed, err = unmarshalEmbed(embed); err != nil {
			return Message{}, fmt.Errorf("unmarshal embed: %w", err)
		}
	}

	if editedAt.Valid {
		msg.EditedAt = &editedAt.Time
	}

	return msg, nil
}

// DeleteMessage removes a message. It returns sql.ErrNoRows when no message
// has the given id.
func (db *PgRepository) DeleteMessage(messageId int) error {
	res, err := db.conn.Exec("DELETE FROM messages WHERE id = $1", messageId)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	return nil
}

func (db *PgRepository) FetchMessageOwner(messageId int) (MessageOwner, error) {
	var owner MessageOwner

	err := db.withSchemaFallback(
		func() error {
			var senderId sql.NullInt64
			err := db.conn.QueryRow(messageOwnerQuery, messageId).Scan(
				&owner.MessageId,
				&owner.Channel,
				&owner.SenderName,
				&senderId,
			)
			owner.SenderId = nullableId(senderId)
			return err
		},
		func() error {
			owner.SenderId = nil
			return db.conn.QueryRow(messageOwnerLegacyQuery, messageId).Scan(
				&owner.MessageId,
				&owner.Channel,
				&owner.SenderName,
			)
		},
	)

	return owner, err
}

func (db *PgRepository) GetDisplayName(userId int) (string, error) {
	var name string
	err := db.conn.QueryRow(
		"SELECT display_name FROM accounts WHERE id = $1 LIMIT 1",
		userId,
	).Scan(&name)

	return name, err
}

func (db *PgRepository) UpdateProfile(params UpdateProfileParams) (User, error) {
	res := db.conn.QueryRow(
		"UPDATE accounts SET display_name = $2, avatar_url = $3, updated_at = $4 "+
			"WHERE id = $1 RETURNING id, display_name, COALESCE(avatar_url, ''), created_at, updated_at",
		params.UserId,
		params.DisplayName,
		params.AvatarUrl,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.DisplayName,
		&u.AvatarUrl,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}
