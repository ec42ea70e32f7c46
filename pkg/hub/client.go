package hub

import (
	"time"

	"github.com/gofiber/websocket/v2"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must be less than pongWait
	maxMessageSize = 4 * 1024            // subscribers only send pongs and closes
	sendBuffer     = 256
)

// Conn is the part of a websocket connection a Client drives.
type Conn interface {
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one event subscriber.
type Client struct {
	hub     *Hub
	conn    Conn
	send    chan Message
	backlog []Message
}

// NewClient registers conn with the hub. backlog is written before any
// broadcast, so a subscriber sees buffered history first.
func NewClient(hub *Hub, conn Conn, backlog ...Message) *Client {
	c := &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan Message, sendBuffer),
		backlog: backlog,
	}
	select {
	case hub.register <- c:
	case <-hub.done:
		close(c.send)
	}
	return c
}

// Run pumps messages until the connection closes. Call it from the
// websocket handler; it blocks until both pumps have stopped, since the
// handler's conn is recycled once the handler returns.
func (c *Client) Run() {
	written := make(chan struct{})
	go func() {
		defer close(written)
		c.writePump()
	}()
	c.readPump()
	<-written
}

// readPump discards inbound frames; it exists to service pongs and notice
// the peer going away.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the connection's only writer.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for _, m := range c.backlog {
		if err := c.write(websocket.TextMessage, m.Data); err != nil {
			return
		}
	}
	c.backlog = nil

	for {
		select {
		case m, ok := <-c.send:
			if !ok {
				c.write(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(websocket.TextMessage, m.Data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(kind int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(kind, data)
}
