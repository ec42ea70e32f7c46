package hub

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-panscan/internal/log"
)

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	// Name for logging
	name   string
	logger *slog.Logger

	// Registered clients
	clients map[*Client]bool

	// Inbound messages to broadcast
	broadcast chan Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed by Stop
	done     chan struct{}
	stopOnce sync.Once

	// Mutex for client count (read-only access from outside)
	mu sync.RWMutex

	// Running state
	running atomic.Bool
	dropped atomic.Uint64
}

// New creates a new Hub
func New(name string) *Hub {
	return &Hub{
		name:       name,
		logger:     log.Component("hub").With("hub", name),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop until Stop is called
// This should be called in a goroutine
func (h *Hub) Run() {
	h.running.Store(true)
	defer h.running.Store(false)

	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", "clients", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", "clients", count)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client's buffer is full - drop it
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("dropped slow client")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop ends Run and disconnects every client
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		// Broadcast channel full - drop message
		if h.dropped.Add(1)%100 == 1 {
			h.logger.Warn("broadcast channel full, dropping messages", "dropped", h.dropped.Load())
		}
	}
}

// BroadcastJSON wraps data in an Envelope and broadcasts it
func (h *Hub) BroadcastJSON(typ string, data any) error {
	msg, err := Encode(typ, data)
	if err != nil {
		return err
	}
	h.Broadcast(msg)
	return nil
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IsRunning returns whether the hub is running
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}
