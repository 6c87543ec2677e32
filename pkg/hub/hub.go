// Package hub fans monitoring payloads out to websocket viewers using
// the channel-based broadcast pattern. Viewers are strictly receivers;
// a viewer that cannot keep up with the frame rate is dropped rather
// than allowed to stall the feed.
package hub

import (
	"encoding/json"
	"sync"

	"github.com/teslashibe/go-rover/internal/log"
)

// Message is one broadcast payload. Binary messages carry JPEG frame
// bytes; everything else is pre-encoded JSON.
type Message struct {
	Binary bool
	Data   []byte
}

// Hub owns the set of connected viewers for one feed.
//
// All mutation of the viewer set happens on the Run goroutine; the
// mutex exists so ClientCount and IsRunning can be read from handler
// goroutines while Run evicts or registers.
type Hub struct {
	name string

	mu      sync.RWMutex
	clients map[*Client]bool
	running bool

	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
}

// New creates a hub for the named feed. Call Run in a goroutine before
// attaching clients.
func New(name string) *Hub {
	return &Hub{
		name:       name,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run is the hub's dispatch loop.
func (h *Hub) Run() {
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Debug("viewer connected", "hub", h.name, "total", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.Debug("viewer disconnected", "hub", h.name, "remaining", count)

		case message := <-h.broadcast:
			// Write lock: eviction mutates the viewer set.
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Send buffer full: the viewer fell behind the
					// frame rate. Drop it.
					close(client.send)
					delete(h.clients, client)
					log.Warn("dropped slow viewer", "hub", h.name)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues a message for all viewers. Never blocks; when the
// queue is full the message is dropped, a newer one will follow.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		log.Warn("broadcast queue full, dropping message", "hub", h.name)
	}
}

// BroadcastJSON encodes v and broadcasts it as a text message.
func (h *Hub) BroadcastJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(Message{Data: data})
	return nil
}

// BroadcastBinary broadcasts raw bytes, used for JPEG frames.
func (h *Hub) BroadcastBinary(data []byte) {
	h.Broadcast(Message{Binary: true, Data: data})
}

// ClientCount returns the number of connected viewers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IsRunning reports whether the dispatch loop has started.
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}
