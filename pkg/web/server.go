// Package web serves the scanner's status API and a live event stream.
package web

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-panscan/internal/log"
	"github.com/teslashibe/go-panscan/pkg/heatmap"
	"github.com/teslashibe/go-panscan/pkg/hub"
	"github.com/teslashibe/go-panscan/pkg/scanner"
	"github.com/teslashibe/go-panscan/pkg/tracking"
)

// maxEntries bounds the event buffer.
const maxEntries = 500

// StatusSource reports the control loop state.
type StatusSource interface {
	Status() scanner.Status
}

// HeatSource exposes heat map buckets.
type HeatSource interface {
	Buckets() []heatmap.Bucket
}

// Entry is one buffered notification: a mode change or a tracking event.
type Entry struct {
	Seq     uint64              `json:"seq"`
	Time    time.Time           `json:"time"`
	Type    string              `json:"type"` // mode, edge, exit, new_person
	Session string              `json:"session,omitempty"`
	Mode    *scanner.ModeChange `json:"mode,omitempty"`
	Event   tracking.Event      `json:"event,omitempty"`
}

// Server is the status API. It implements scanner.Notifier so it can be
// handed to the orchestrator directly.
type Server struct {
	app    *fiber.App
	addr   string
	logger *slog.Logger

	status   StatusSource
	heat     HeatSource
	sourceMu sync.RWMutex

	// Event buffer (last maxEntries)
	entries   []Entry
	seq       uint64
	entriesMu sync.RWMutex

	eventHub *hub.Hub

	// Now stamps entries; defaults to time.Now.
	Now func() time.Time
}

// NewServer creates a server listening on addr (for example ":8080").
func NewServer(addr string, status StatusSource, heat HeatSource) *Server {
	s := &Server{
		addr:     addr,
		logger:   log.Component("web"),
		status:   status,
		heat:     heat,
		entries:  make([]Entry, 0, maxEntries),
		eventHub: hub.New("events"),
		Now:      time.Now,
	}

	app := fiber.New(fiber.Config{
		AppName:               "panscan",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/health", s.handleHealth)
	api.Get("/status", s.handleStatus)
	api.Get("/heatmap", s.handleHeatMap)
	api.Get("/events", s.handleEvents)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.handleEventsWS))

	s.app = app
	return s
}

// Start runs the event hub and serves until Shutdown.
func (s *Server) Start() error {
	go s.eventHub.Run()
	s.logger.Info("web server listening", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	go s.eventHub.Run()
	s.logger.Info("web server listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error("web server stopped", "error", err)
		}
	}()
}

// Shutdown disconnects websocket clients and stops the server.
func (s *Server) Shutdown() error {
	s.eventHub.Stop()
	return s.app.Shutdown()
}

// AttachStatus sets the status source after construction, for when the
// server must exist before the scanner it reports on.
func (s *Server) AttachStatus(src StatusSource) {
	s.sourceMu.Lock()
	s.status = src
	s.sourceMu.Unlock()
}

func (s *Server) statusSource() StatusSource {
	s.sourceMu.RLock()
	defer s.sourceMu.RUnlock()
	return s.status
}

// EventHub returns the hub behind /ws/events.
func (s *Server) EventHub() *hub.Hub {
	return s.eventHub
}

// ModeChanged implements scanner.Notifier.
func (s *Server) ModeChanged(c scanner.ModeChange) {
	s.add(Entry{Type: "mode", Session: c.Session, Mode: &c})
}

// TrackingEvent implements scanner.Notifier.
func (s *Server) TrackingEvent(session string, e tracking.Event) {
	s.add(Entry{Type: string(e.Kind()), Session: session, Event: e})
}

func (s *Server) add(e Entry) {
	s.entriesMu.Lock()
	s.seq++
	e.Seq = s.seq
	e.Time = s.Now()
	s.entries = append(s.entries, e)
	if len(s.entries) > maxEntries {
		s.entries = s.entries[1:]
	}
	s.entriesMu.Unlock()

	if err := s.eventHub.BroadcastJSON(envelopeType(e), e); err != nil {
		s.logger.Warn("event encode failed", "type", e.Type, "error", err)
	}
}

// Entries returns buffered entries with Seq greater than since, oldest
// first. limit <= 0 returns all of them.
func (s *Server) Entries(since uint64, limit int) []Entry {
	s.entriesMu.RLock()
	defer s.entriesMu.RUnlock()

	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.Seq > since {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func envelopeType(e Entry) string {
	if e.Type == "mode" {
		return "mode"
	}
	return "event"
}
