package web

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-panscan/pkg/hub"
)

// HeatBucket is the JSON view of one heat map bucket.
type HeatBucket struct {
	Angle      float64   `json:"angle"`
	Weight     float64   `json:"weight"`
	LastUpdate time.Time `json:"last_update"`
}

// handleHealth reports liveness
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"clients": s.eventHub.ClientCount(),
	})
}

// handleStatus returns the control loop state
func (s *Server) handleStatus(c *fiber.Ctx) error {
	src := s.statusSource()
	if src == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "scanner not attached",
		})
	}
	return c.JSON(src.Status())
}

// handleHeatMap returns buckets hottest first
func (s *Server) handleHeatMap(c *fiber.Ctx) error {
	out := []HeatBucket{}
	if s.heat != nil {
		for _, b := range s.heat.Buckets() {
			out = append(out, HeatBucket{Angle: b.Angle, Weight: b.Weight, LastUpdate: b.LastUpdate})
		}
	}
	return c.JSON(fiber.Map{"buckets": out})
}

// handleEvents returns buffered entries, optionally after ?since=<seq> and
// capped by ?limit=<n>
func (s *Server) handleEvents(c *fiber.Ctx) error {
	since := c.QueryInt("since", 0)
	limit := c.QueryInt("limit", 0)
	if since < 0 || limit < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "since and limit must be non-negative",
		})
	}
	return c.JSON(s.Entries(uint64(since), limit))
}

// handleEventsWS replays the buffer, then streams new entries
func (s *Server) handleEventsWS(c *websocket.Conn) {
	var backlog []hub.Message
	for _, e := range s.Entries(0, 0) {
		msg, err := hub.Encode(envelopeType(e), e)
		if err != nil {
			continue
		}
		backlog = append(backlog, msg)
	}
	hub.NewClient(s.eventHub, c, backlog...).Run()
}
