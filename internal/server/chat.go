package server

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/npezzotti/go-huddle/internal/database"
	"github.com/npezzotti/go-huddle/internal/notify"
	"github.com/npezzotti/go-huddle/internal/stats"
	"github.com/npezzotti/go-huddle/internal/types"
)

// actorOf is the user a connection acts as: the identity it is bound to, or
// failing that the one its session names.
func actorOf(c *Client) int {
	if c.userId != 0 {
		return c.userId
	}
	return c.authUserId
}

func (cs *ChatServer) handleChatSend(c *Client, ev *ChatSend) {
	if strings.TrimSpace(ev.Content) == "" && len(ev.AttachmentIds) == 0 {
		return
	}

	senderId := ev.SenderId
	if actor := actorOf(c); actor != 0 {
		if senderId != nil && *senderId != actor {
			cs.log.Printf("client %s: user %d sent as user %d", c.id, actor, *senderId)
			return
		}
		senderId = &actor
	}

	params := database.CreateMessageParams{
		Channel:       ev.Channel,
		Sender:        ev.Sender,
		SenderId:      senderId,
		Content:       ev.Content,
		Embed:         toDbEmbed(ev.Embed),
		AttachmentIds: ev.AttachmentIds,
		CreatedAt:     Now(),
	}

	cs.persist(func() func() {
		msg, err := cs.db.InsertMessage(params)
		if err != nil {
			cs.log.Printf("insert message in %q: %v", params.Channel, err)
			return nil
		}

		return func() {
			cs.deliverMessage(toMessage(msg))
		}
	})
}

func (cs *ChatServer) deliverMessage(msg types.Message) {
	cs.stats.Incr(stats.NumMessagesPersisted)
	cs.broadcast(newMessageEvent(TypeMessage, msg))
	cs.notifyOffline(msg)
}

// notifyOffline pushes msg to known users with no open connection. Delivery
// runs detached; its failures are only logged.
func (cs *ChatServer) notifyOffline(msg types.Message) {
	if cs.notifier == nil {
		return
	}

	var recipients []int
	for _, p := range cs.presence.snapshot() {
		if p.Status != types.StatusOffline || cs.registry.isConnected(p.Id) {
			continue
		}
		if msg.SenderId != nil && *msg.SenderId == p.Id {
			continue
		}
		recipients = append(recipients, p.Id)
	}
	if len(recipients) == 0 {
		return
	}

	n := notify.Notification{
		MessageId: msg.Id,
		Channel:   msg.Channel,
		Sender:    msg.Sender,
		Preview:   notify.Preview(msg.Content),
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				cs.log.Printf("notify: recovered from panic: %v", r)
			}
		}()

		for _, userId := range recipients {
			n.UserId = userId
			if err := cs.notifier.Notify(n); err != nil {
				cs.log.Printf("notify user %d of message %d: %v", userId, msg.Id, err)
			}
		}
	}()
}

// ownsMessage reports whether actorId, or failing that senderName, matches
// the stored owner. Rows with a sender id are only matched by id.
func ownsMessage(owner database.MessageOwner, actorId int, senderName string) bool {
	if owner.SenderId != nil {
		return actorId != 0 && *owner.SenderId == actorId
	}
	return senderName != "" && owner.SenderName == senderName
}

func (cs *ChatServer) handleChatEdit(c *Client, ev *ChatEdit) {
	if strings.TrimSpace(ev.Content) == "" {
		return
	}

	actorId := actorOf(c)
	cs.persist(func() func() {
		owner, ok := cs.authorize(ev.MessageId, actorId, ev.SenderName)
		if !ok {
			return nil
		}

		msg, err := cs.db.UpdateMessage(owner.MessageId, ev.Content)
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				cs.log.Printf("update message %d: %v", owner.MessageId, err)
			}
			return nil
		}

		return func() {
			cs.broadcast(newMessageEvent(TypeMessageUpdated, toMessage(msg)))
		}
	})
}

func (cs *ChatServer) handleChatDelete(c *Client, ev *ChatDelete) {
	actorId := actorOf(c)
	cs.persist(func() func() {
		owner, ok := cs.authorize(ev.MessageId, actorId, ev.SenderName)
		if !ok {
			return nil
		}

		if err := cs.db.DeleteMessage(owner.MessageId); err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				cs.log.Printf("delete message %d: %v", owner.MessageId, err)
			}
			return nil
		}

		return func() {
			cs.broadcast(newMessageDeletedEvent(owner.MessageId, owner.Channel))
		}
	})
}

// authorize loads the owner of messageId and checks the actor against it.
// It runs off the loop.
func (cs *ChatServer) authorize(messageId, actorId int, senderName string) (database.MessageOwner, bool) {
	owner, err := cs.db.FetchMessageOwner(messageId)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			cs.log.Printf("fetch owner of message %d: %v", messageId, err)
		}
		return database.MessageOwner{}, false
	}

	if !ownsMessage(owner, actorId, senderName) {
		cs.log.Printf("user %d may not modify message %d", actorId, messageId)
		return database.MessageOwner{}, false
	}

	return owner, true
}

func (cs *ChatServer) handleTyping(c *Client, ev *Typing) {
	if c.userId != ev.UserId {
		return
	}
	cs.broadcastExcept(newTypingEvent(ev.Channel, ev.UserId, cs.presence.displayName(ev.UserId)), c)
}

func toDbEmbed(e *types.Embed) *database.Embed {
	if e == nil {
		return nil
	}
	return &database.Embed{
		Title:       e.Title,
		Description: e.Description,
		Url:         e.Url,
		ImageUrl:    e.ImageUrl,
		Color:       e.Color,
	}
}

func toMessage(m database.Message) types.Message {
	msg := types.Message{
		Id:        m.Id,
		Channel:   m.Channel,
		Sender:    m.Sender,
		SenderId:  m.SenderId,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
		EditedAt:  m.EditedAt,
	}

	if m.Embed != nil {
		msg.Embed = &types.Embed{
			Title:       m.Embed.Title,
			Description: m.Embed.Description,
			Url:         m.Embed.Url,
			ImageUrl:    m.Embed.ImageUrl,
			Color:       m.Embed.Color,
		}
	}

	for _, a := range m.Attachments {
		msg.Attachments = append(msg.Attachments, types.Attachment{
			Id:       a.Id,
			Filename: a.Filename,
			MimeType: a.MimeType,
			Size:     a.Size,
			Url:      a.Url,
		})
	}

	return msg
}
