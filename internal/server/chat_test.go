package server

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/npezzotti/go-huddle/internal/database"
	"github.com/npezzotti/go-huddle/internal/notify"
	"github.com/npezzotti/go-huddle/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func intPtr(i int) *int {
	return &i
}

func TestChatServer_handleChatSend(t *testing.T) {
	createdAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("persisted message is broadcast to everyone", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)
		db.On("InsertMessage", mock.MatchedBy(func(p database.CreateMessageParams) bool {
			return p.Channel == "general" && p.Sender == "Alice" && p.Content == "hi" &&
				p.SenderId != nil && *p.SenderId == 1
		})).Return(database.Message{
			Id:        42,
			Channel:   "general",
			Sender:    "Alice",
			SenderId:  intPtr(1),
			Content:   "hi",
			CreatedAt: createdAt,
		}, nil).Once()

		cs := newTestChatServer(t, db, &notify.MockNotifier{})
		alice := newTestClient(t, cs)
		bob := newTestClient(t, cs)
		hello(t, cs, alice, 1, "Alice")
		drain(bob)

		cs.handleEvent(alice, &ChatSend{Channel: "general", Sender: "Alice", SenderId: intPtr(1), Content: "hi"})
		runCompletion(t, cs)

		expected := types.Message{
			Id:        42,
			Channel:   "general",
			Sender:    "Alice",
			SenderId:  intPtr(1),
			Content:   "hi",
			CreatedAt: createdAt,
		}
		for _, c := range []*Client{alice, bob} {
			ev, ok := recv(t, c).(*MessageEvent)
			if assert.True(t, ok, "expected message on %s", c.id) {
				assert.Equal(t, TypeMessage, ev.EventType())
				assert.Equal(t, expected, ev.Message)
			}
		}
	})

	t.Run("attachments and embed are carried", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)
		db.On("InsertMessage", mock.MatchedBy(func(p database.CreateMessageParams) bool {
			return p.Content == "" && assert.ObjectsAreEqual([]int{7}, p.AttachmentIds) &&
				p.Embed != nil && p.Embed.Title == "clip"
		})).Return(database.Message{
			Id:          43,
			Channel:     "general",
			Sender:      "Alice",
			Embed:       &database.Embed{Title: "clip"},
			Attachments: []database.Attachment{{Id: 7, Filename: "a.png", MimeType: "image/png", Size: 10, Url: "/u/a.png"}},
		}, nil).Once()

		cs := newTestChatServer(t, db, &notify.MockNotifier{})
		c := newTestClient(t, cs)

		cs.handleEvent(c, &ChatSend{
			Channel:       "general",
			Sender:        "Alice",
			Embed:         &types.Embed{Title: "clip"},
			AttachmentIds: []int{7},
		})
		runCompletion(t, cs)

		ev := recv(t, c).(*MessageEvent)
		assert.Equal(t, &types.Embed{Title: "clip"}, ev.Embed)
		assert.Equal(t, []types.Attachment{{Id: 7, Filename: "a.png", MimeType: "image/png", Size: 10, Url: "/u/a.png"}},
			ev.Attachments)
		assert.Nil(t, ev.SenderId, "expected anonymous sender without identity")
	})

	t.Run("empty message is ignored", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db, &notify.MockNotifier{})
		c := newTestClient(t, cs)

		cs.handleEvent(c, &ChatSend{Channel: "general", Sender: "Alice", Content: "   "})
		assertNoCompletion(t, cs)
		assertNoMessage(t, c)
	})

	t.Run("sender id must match identity", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db, &notify.MockNotifier{})
		c := newTestClient(t, cs)
		hello(t, cs, c, 1, "Alice")

		cs.handleEvent(c, &ChatSend{Channel: "general", Sender: "Bob", SenderId: intPtr(2), Content: "hi"})
		assertNoCompletion(t, cs)
	})

	t.Run("persistence failure drops the message", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)
		db.On("InsertMessage", mock.Anything).Return(database.Message{}, errors.New("connection refused")).Once()

		cs := newTestChatServer(t, db, &notify.MockNotifier{})
		c := newTestClient(t, cs)

		cs.handleEvent(c, &ChatSend{Channel: "general", Sender: "Alice", Content: "hi"})
		assertNoCompletion(t, cs)
		assertNoMessage(t, c)
	})

	t.Run("sender disconnected while saving", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)
		db.On("InsertMessage", mock.Anything).Return(database.Message{Id: 44, Channel: "general", Content: "bye"}, nil).Once()

		cs := newTestChatServer(t, db, &notify.MockNotifier{})
		alice := newTestClient(t, cs)
		bob := newTestClient(t, cs)

		cs.handleEvent(alice, &ChatSend{Channel: "general", Sender: "Alice", Content: "bye"})
		cs.disconnect(alice)
		runCompletion(t, cs)

		ev, ok := recv(t, bob).(*MessageEvent)
		if assert.True(t, ok) {
			assert.Equal(t, 44, ev.Id)
		}
	})
}

func TestChatServer_notifyOffline(t *testing.T) {
	db := &database.MockRepository{}
	db.On("InsertMessage", mock.Anything).Return(database.Message{
		Id:       42,
		Channel:  "general",
		Sender:   "Alice",
		SenderId: intPtr(1),
		Content:  "hi",
	}, nil).Once()

	notified := make(chan notify.Notification, 1)
	notifier := &notify.MockNotifier{}
	defer notifier.AssertExpectations(t)
	notifier.On("Notify", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		notified <- args.Get(0).(notify.Notification)
	}).Once()

	cs := newTestChatServer(t, db, notifier)
	alice := newTestClient(t, cs)
	bob := newTestClient(t, cs)
	carol := newTestClient(t, cs)
	hello(t, cs, alice, 1, "Alice")
	hello(t, cs, bob, 2, "Bob")
	hello(t, cs, carol, 3, "Carol")
	cs.disconnect(bob)

	cs.handleEvent(alice, &ChatSend{Channel: "general", Sender: "Alice", Content: "hi"})
	runCompletion(t, cs)

	select {
	case n := <-notified:
		assert.Equal(t, notify.Notification{
			UserId:    2,
			MessageId: 42,
			Channel:   "general",
			Sender:    "Alice",
			Preview:   "hi",
		}, n)
	case <-time.After(time.Second):
		t.Fatal("expected offline user to be notified")
	}
}

func Test_ownsMessage(t *testing.T) {
	tcases := []struct {
		name       string
		owner      database.MessageOwner
		actorId    int
		senderName string
		expected   bool
	}{
		{
			name:     "matching sender id",
			owner:    database.MessageOwner{SenderName: "Alice", SenderId: intPtr(1)},
			actorId:  1,
			expected: true,
		},
		{
			name:       "different sender id with matching name",
			owner:      database.MessageOwner{SenderName: "Alice", SenderId: intPtr(1)},
			actorId:    2,
			senderName: "Alice",
			expected:   false,
		},
		{
			name:       "unknown actor on tracked message",
			owner:      database.MessageOwner{SenderName: "Alice", SenderId: intPtr(1)},
			senderName: "Alice",
			expected:   false,
		},
		{
			name:       "legacy row matched by name",
			owner:      database.MessageOwner{SenderName: "Alice"},
			actorId:    1,
			senderName: "Alice",
			expected:   true,
		},
		{
			name:       "legacy row with other name",
			owner:      database.MessageOwner{SenderName: "Alice"},
			senderName: "Mallory",
			expected:   false,
		},
		{
			name:     "legacy row without name",
			owner:    database.MessageOwner{SenderName: ""},
			expected: false,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ownsMessage(tc.owner, tc.actorId, tc.senderName))
		})
	}
}

func TestChatServer_handleChatEdit(t *testing.T) {
	owner := database.MessageOwner{MessageId: 42, Channel: "general", SenderName: "Alice", SenderId: intPtr(1)}

	t.Run("owner edits", func(t *testing.T) {
		editedAt := time.Date(2024, 5, 1, 12, 5, 0, 0, time.UTC)
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)
		db.On("FetchMessageOwner", 42).Return(owner, nil).Once()
		db.On("UpdateMessage", 42, "hello").Return(database.Message{
			Id:       42,
			Channel:  "general",
			Sender:   "Alice",
			SenderId: intPtr(1),
			Content:  "hello",
			EditedAt: &editedAt,
		}, nil).Once()

		cs := newTestChatServer(t, db, &notify.MockNotifier{})
		alice := newTestClient(t, cs)
		bob := newTestClient(t, cs)
		hello(t, cs, alice, 1, "Alice")
		drain(bob)

		cs.handleEvent(alice, &ChatEdit{MessageId: 42, Content: "hello", SenderName: "Alice"})
		runCompletion(t, cs)

		ev, ok := recv(t, bob).(*MessageEvent)
		if assert.True(t, ok) {
			assert.Equal(t, TypeMessageUpdated, ev.EventType())
			assert.Equal(t, "hello", ev.Content)
			assert.Equal(t, &editedAt, ev.EditedAt)
		}
	})

	t.Run("non-owner is ignored", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)
		db.On("FetchMessageOwner", 42).Return(owner, nil).Once()

		cs := newTestChatServer(t, db, &notify.MockNotifier{})
		mallory := newTestClient(t, cs)
		hello(t, cs, mallory, 2, "Mallory")

		cs.handleEvent(mallory, &ChatEdit{MessageId: 42, Content: "pwned", SenderName: "Alice"})
		assertNoCompletion(t, cs)
		db.AssertNotCalled(t, "UpdateMessage", mock.Anything, mock.Anything)
	})

	t.Run("legacy owner matched by name", func(t *testing.T) {
		legacy := database.MessageOwner{MessageId: 42, Channel: "general", SenderName: "Alice"}
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)
		db.On("FetchMessageOwner", 42).Return(legacy, nil).Once()
		db.On("UpdateMessage", 42, "hello").Return(database.Message{Id: 42, Content: "hello"}, nil).Once()

		cs := newTestChatServer(t, db, &notify.MockNotifier{})
		c := newTestClient(t, cs)

		cs.handleEvent(c, &ChatEdit{MessageId: 42, Content: "hello", SenderName: "Alice"})
		runCompletion(t, cs)

		_, ok := recv(t, c).(*MessageEvent)
		assert.True(t, ok)
	})

	t.Run("missing message", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)
		db.On("FetchMessageOwner", 99).Return(database.MessageOwner{}, sql.ErrNoRows).Once()

		cs := newTestChatServer(t, db, &notify.MockNotifier{})
		c := newTestClient(t, cs)
		hello(t, cs, c, 1, "Alice")

		cs.handleEvent(c, &ChatEdit{MessageId: 99, Content: "hello"})
		assertNoCompletion(t, cs)
	})

	t.Run("blank edit is ignored", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db, &notify.MockNotifier{})
		c := newTestClient(t, cs)

		cs.handleEvent(c, &ChatEdit{MessageId: 42, Content: " "})
		assertNoCompletion(t, cs)
	})
}

func TestChatServer_handleChatDelete(t *testing.T) {
	owner := database.MessageOwner{MessageId: 42, Channel: "general", SenderName: "Alice", SenderId: intPtr(1)}

	t.Run("owner deletes", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)
		db.On("FetchMessageOwner", 42).Return(owner, nil).Once()
		db.On("DeleteMessage", 42).Return(nil).Once()

		cs := newTestChatServer(t, db, &notify.MockNotifier{})
		alice := newTestClient(t, cs)
		bob := newTestClient(t, cs)
		hello(t, cs, alice, 1, "Alice")
		drain(bob)

		cs.handleEvent(alice, &ChatDelete{MessageId: 42, SenderName: "Alice"})
		runCompletion(t, cs)

		for _, c := range []*Client{alice, bob} {
			ev, ok := recv(t, c).(*MessageDeletedEvent)
			if assert.True(t, ok, "expected message:deleted on %s", c.id) {
				assert.Equal(t, 42, ev.Id)
				assert.Equal(t, "general", ev.Channel)
			}
		}
	})

	t.Run("non-owner is ignored", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)
		db.On("FetchMessageOwner", 42).Return(owner, nil).Once()

		cs := newTestChatServer(t, db, &notify.MockNotifier{})
		mallory := newTestClient(t, cs)
		hello(t, cs, mallory, 2, "Mallory")

		cs.handleEvent(mallory, &ChatDelete{MessageId: 42, SenderName: "Alice"})
		assertNoCompletion(t, cs)
		db.AssertNotCalled(t, "DeleteMessage", mock.Anything)
	})

	t.Run("already deleted", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)
		db.On("FetchMessageOwner", 42).Return(owner, nil).Once()
		db.On("DeleteMessage", 42).Return(sql.ErrNoRows).Once()

		cs := newTestChatServer(t, db, &notify.MockNotifier{})
		c := newTestClient(t, cs)
		hello(t, cs, c, 1, "Alice")

		cs.handleEvent(c, &ChatDelete{MessageId: 42})
		assertNoCompletion(t, cs)
	})
}

func TestChatServer_handleTyping(t *testing.T) {
	cs := newTestChatServer(t, &database.MockRepository{}, &notify.MockNotifier{})
	alice := newTestClient(t, cs)
	bob := newTestClient(t, cs)
	hello(t, cs, alice, 1, "Alice")
	drain(bob)

	cs.handleEvent(alice, &Typing{Channel: "general", UserId: 2})
	assertNoMessage(t, bob)

	cs.handleEvent(alice, &Typing{Channel: "general", UserId: 1})

	ev, ok := recv(t, bob).(*TypingEvent)
	if assert.True(t, ok) {
		assert.Equal(t, "general", ev.Channel)
		assert.Equal(t, 1, ev.UserId)
		assert.Equal(t, "Alice", ev.DisplayName)
	}
	assertNoMessage(t, alice)
}
