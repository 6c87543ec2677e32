package hub

import (
	"time"

	"github.com/gofiber/websocket/v2"
)

const (
	// writeWait bounds a single frame write; a viewer that cannot take
	// a JPEG frame in this window is effectively gone.
	writeWait = 5 * time.Second

	// pongWait is how long a silent connection is considered alive.
	// pingInterval must leave room for the pong to come back.
	pongWait     = 30 * time.Second
	pingInterval = 20 * time.Second

	// readLimit is tiny on purpose: viewers only ever send control
	// frames, never payloads.
	readLimit = 1024
)

// Client is one websocket viewer attached to a hub. Traffic is
// one-way: the hub pushes, the viewer's reads exist solely to detect
// disconnects and receive pongs.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan Message
}

// NewClient attaches the connection to the hub. The send buffer holds
// a few seconds of status updates or a handful of frames; overflow
// means the viewer is too slow and the hub evicts it.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	client := &Client{
		hub:  hub,
		conn: conn,
		send: make(chan Message, 256),
	}
	hub.register <- client
	return client
}

// Run services the connection until it closes. Call from the
// websocket handler; it blocks for the connection's lifetime.
func (c *Client) Run() {
	go c.writeLoop()
	c.readLoop()
}

// readLoop drains incoming control traffic and unregisters the client
// when the connection dies.
func (c *Client) readLoop() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeLoop is the sole writer on the connection, interleaving hub
// messages with keepalive pings.
func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Evicted by the hub.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			kind := websocket.TextMessage
			if msg.Binary {
				kind = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(kind, msg.Data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
