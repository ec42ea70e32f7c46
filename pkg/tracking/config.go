// Package tracking follows people between frames during a WATCH session and
// turns their motion into edge, exit and new-person events.
package tracking

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("tracking: invalid config")

// Config holds all tunable parameters for event tracking
type Config struct {
	// Association
	GatingRadius float64 // Max center distance for a match, fraction of frame width

	// Edge zones (fraction of frame width from each side)
	EdgeWarning  float64
	EdgeCritical float64

	// Missing/exit handling
	MissingFrames   int     // Consecutive misses before a track is LOST
	MinExitVelocity float64 // px/s; slower tracks exit toward their edge side

	// Re-acquisition
	MaxReacquisitionAttempts int
	ReacquisitionStep        float64 // Degrees per nudge

	// History
	VelocityWindow int // Samples used for velocity
	HistorySize    int // Samples kept per track
	MaxLostTracks  int // LOST tracks retained in state

	Clock func() time.Time
}

// DefaultConfig returns the recommended configuration
func DefaultConfig() Config {
	return Config{
		GatingRadius: 0.25,

		EdgeWarning:  0.15,
		EdgeCritical: 0.05,

		MissingFrames:   3,
		MinExitVelocity: 20,

		MaxReacquisitionAttempts: 3,
		ReacquisitionStep:        10,

		VelocityWindow: 5,
		HistorySize:    20,
		MaxLostTracks:  32,

		Clock: time.Now,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.GatingRadius <= 0 || c.GatingRadius > 1:
		return fmt.Errorf("%w: gating radius %v not in (0,1]", ErrInvalidConfig, c.GatingRadius)
	case c.EdgeCritical <= 0 || c.EdgeWarning >= 0.5 || c.EdgeWarning <= c.EdgeCritical:
		return fmt.Errorf("%w: edge zones need 0 < critical (%v) < warning (%v) < 0.5",
			ErrInvalidConfig, c.EdgeCritical, c.EdgeWarning)
	case c.MissingFrames < 1:
		return fmt.Errorf("%w: missing frame debounce %d < 1", ErrInvalidConfig, c.MissingFrames)
	case c.MaxReacquisitionAttempts < 0:
		return fmt.Errorf("%w: negative reacquisition attempts", ErrInvalidConfig)
	case c.ReacquisitionStep < 0:
		return fmt.Errorf("%w: negative reacquisition step", ErrInvalidConfig)
	case c.VelocityWindow < 2:
		return fmt.Errorf("%w: velocity window %d < 2", ErrInvalidConfig, c.VelocityWindow)
	case c.HistorySize < c.VelocityWindow:
		return fmt.Errorf("%w: history %d shorter than velocity window %d",
			ErrInvalidConfig, c.HistorySize, c.VelocityWindow)
	}
	return nil
}
