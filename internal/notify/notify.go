// Package notify delivers push notifications for chat messages to users who
// have no open connection.
package notify

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

type Notification struct {
	UserId    int    `json:"userId"`
	MessageId int    `json:"messageId"`
	Channel   string `json:"channel"`
	Sender    string `json:"sender"`
	Preview   string `json:"preview"`
}

type Notifier interface {
	Notify(n Notification) error
}

const maxPreviewLen = 140

// Preview shortens message content for a notification body.
func Preview(content string) string {
	r := []rune(content)
	if len(r) <= maxPreviewLen {
		return content
	}
	return string(r[:maxPreviewLen-1]) + "…"
}

// NatsNotifier publishes notifications as JSON to a NATS subject, where a
// push gateway picks them up.
type NatsNotifier struct {
	nc      *nats.Conn
	subject string
}

func NewNatsNotifier(url, subject string, logger *log.Logger) (*NatsNotifier, error) {
	nc, err := nats.Connect(url,
		nats.Name("huddle"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Printf("nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Printf("nats reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &NatsNotifier{nc: nc, subject: subject}, nil
}

func (n *NatsNotifier) Notify(notification Notification) error {
	data, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	if err := n.nc.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	return nil
}

func (n *NatsNotifier) Close() error {
	return n.nc.Drain()
}

// LogNotifier only logs notifications. It is used when no NATS server is configured.
type LogNotifier struct {
	log *log.Logger
}

func NewLogNotifier(logger *log.Logger) *LogNotifier {
	return &LogNotifier{log: logger}
}

func (n *LogNotifier) Notify(notification Notification) error {
	n.log.Printf("push: user %d, message %d in %q from %q", notification.UserId, notification.MessageId,
		notification.Channel, notification.Sender)
	return nil
}
