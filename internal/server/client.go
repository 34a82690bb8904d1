package server

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/teris-io/shortid"
)

const (
	writeWait = 10 * time.Second
	// SDP offers with many candidates run to several kilobytes.
	maxMessageSize = 64 * 1024
)

// Client is one websocket connection. Fields below the divider are owned by
// the chat server's run loop and must not be touched from the pumps.
type Client struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	send       chan ServerEvent
	ping       chan struct{}
	stop       chan struct{}
	stopOnce   sync.Once
	// alive is cleared by the heartbeat monitor and set by the pong handler.
	alive atomic.Bool
	// authUserId is the user named by the session token, 0 when the
	// connection was not authenticated.
	authUserId int

	missedPings int
	userId      int
	identified  bool
	roomId      string
}

func NewClient(conn *websocket.Conn, cs *ChatServer, authUserId int, l *log.Logger) *Client {
	c := &Client{
		id:         shortid.MustGenerate(),
		conn:       conn,
		chatServer: cs,
		log:        l,
		send:       make(chan ServerEvent, cs.cfg.SendBufferSize),
		ping:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		authUserId: authUserId,
	}
	c.alive.Store(true)

	return c
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) Write() {
	defer func() {
		c.conn.Close()
		c.log.Printf("client %s: write exiting", c.id)
	}()

	for {
		select {
		case msg := <-c.send:
			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.log.Printf("client %s: ping: %v", c.id, err)
				return
			}
		case <-c.stop:
			c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			return
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.chatServer.UnregisterClient(c)
		c.terminate()
		c.log.Printf("client %s: read exiting", c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		ev, err := parseClientEvent(raw)
		if err != nil {
			c.log.Printf("client %s: dropping message: %v", c.id, err)
			continue
		}

		if !c.chatServer.submit(c, ev) {
			break
		}
	}
}

// queueMessage hands msg to the write pump without blocking. A full buffer
// drops the message for this client only.
func (c *Client) queueMessage(msg ServerEvent) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Printf("client %s: send buffer full, dropping %s", c.id, msg.EventType())
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) requestPing() {
	select {
	case c.ping <- struct{}{}:
	default:
	}
}

// terminate stops the write pump, which sends a close frame and closes the
// transport; that in turn ends the read pump. Safe to call more than once.
func (c *Client) terminate() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}
