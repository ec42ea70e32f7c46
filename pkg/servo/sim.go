package servo

import (
	"context"
	"sync"
	"time"
)

// Move is one command recorded by SimController.
type Move struct {
	Axis   Axis
	Angle  float64 // clamped target
	Smooth bool
	Speed  float64
}

// SimController is an in-memory mount for development and tests. It clamps
// like real hardware and records every command.
type SimController struct {
	cfg Config

	// MoveDuration is how long a full-speed smooth move takes; zero is instant.
	MoveDuration time.Duration

	mu     sync.Mutex
	angles map[Axis]float64
	moves  []Move
	fail   map[Axis]error
}

// NewSimController creates a mount resting at the configured centers.
func NewSimController(cfg Config) *SimController {
	return &SimController{
		cfg: cfg,
		angles: map[Axis]float64{
			Pan:  cfg.Pan.Center,
			Tilt: cfg.Tilt.Center,
		},
		fail: make(map[Axis]error),
	}
}

// FailWith makes every later command on axis return err; nil clears it.
func (s *SimController) FailWith(axis Axis, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, axis)
		return
	}
	s.fail[axis] = err
}

func (s *SimController) apply(axis Axis, angle float64, smooth bool, speed float64) (float64, error) {
	if err := checkAxis(axis); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[axis]; err != nil {
		return 0, err
	}
	angle = s.cfg.Limits(axis).Clamp(angle)
	s.moves = append(s.moves, Move{Axis: axis, Angle: angle, Smooth: smooth, Speed: speed})
	s.angles[axis] = angle
	return angle, nil
}

// SetAngle moves axis immediately.
func (s *SimController) SetAngle(axis Axis, angle float64) error {
	_, err := s.apply(axis, angle, false, 0)
	return err
}

// Angle returns the last commanded angle for axis.
func (s *SimController) Angle(axis Axis) (float64, error) {
	if err := checkAxis(axis); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.angles[axis], nil
}

// SmoothMoveTo records the move and waits MoveDuration scaled by speed.
func (s *SimController) SmoothMoveTo(ctx context.Context, axis Axis, angle, speed float64) error {
	speed = clampSpeed(speed)
	if _, err := s.apply(axis, angle, true, speed); err != nil {
		return err
	}
	if s.MoveDuration <= 0 {
		return nil
	}
	timer := time.NewTimer(time.Duration(float64(s.MoveDuration) / speed))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Moves returns every recorded command in order.
func (s *SimController) Moves() []Move {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Move(nil), s.moves...)
}

// MovesOn returns the recorded commands for one axis.
func (s *SimController) MovesOn(axis Axis, smoothOnly bool) []Move {
	var out []Move
	for _, m := range s.Moves() {
		if m.Axis == axis && (!smoothOnly || m.Smooth) {
			out = append(out, m)
		}
	}
	return out
}

// Reset clears the recorded commands.
func (s *SimController) Reset() {
	s.mu.Lock()
	s.moves = nil
	s.mu.Unlock()
}
