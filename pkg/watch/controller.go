// Package watch computes small camera corrections that keep people framed
// between room sweeps.
package watch

import (
	"errors"
	"fmt"
	"math"

	"github.com/teslashibe/go-panscan/pkg/tracking"
	"github.com/teslashibe/go-panscan/pkg/vision"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("watch: invalid config")

// Pose is a pan/tilt pair in degrees. Tilt increases downward.
type Pose struct {
	Pan  float64 `json:"pan"`
	Tilt float64 `json:"tilt"`
}

// Config holds all tunable parameters for watch corrections
type Config struct {
	// Geometry
	FOV         float64 // Horizontal field of view (degrees)
	VerticalFOV float64 // Vertical field of view (degrees)

	// Servo range
	PanMin, PanMax   float64
	TiltMin, TiltMax float64

	// Proportional control
	Deadband     float64 // Ignore offsets within this fraction of frame width from center
	Gain         float64 // Centering gain with no edge pressure
	WarningGain  float64 // Gain for WARNING edge events
	CriticalGain float64 // Gain for CRITICAL edge events

	// Per-call limits (degrees)
	MaxStep         float64
	WarningMaxStep  float64
	CriticalMaxStep float64

	// Group centering
	Damping       float64 // Fraction of the angular offset applied per update
	MinAdjustment float64 // Skip corrections smaller than this (degrees)
}

// DefaultConfig returns the recommended configuration
func DefaultConfig() Config {
	return Config{
		FOV:         66.3,
		VerticalFOV: 50,

		PanMin:  0,
		PanMax:  180,
		TiltMin: 0,
		TiltMax: 180,

		Deadband:     0.05, // 5% of frame width
		Gain:         0.3,
		WarningGain:  0.6,
		CriticalGain: 1.0,

		MaxStep:         5,
		WarningMaxStep:  8,
		CriticalMaxStep: 12,

		Damping:       0.3,
		MinAdjustment: 1.0,
	}
}

// GentleConfig returns a configuration for slow rooms (few, seated people)
func GentleConfig() Config {
	cfg := DefaultConfig()
	cfg.Deadband = 0.08
	cfg.Gain = 0.2
	cfg.WarningGain = 0.4
	cfg.CriticalGain = 0.8
	cfg.MaxStep = 3
	return cfg
}

// AggressiveConfig returns a configuration for fast movers
func AggressiveConfig() Config {
	cfg := DefaultConfig()
	cfg.Deadband = 0.03
	cfg.Gain = 0.5
	cfg.WarningGain = 0.8
	cfg.CriticalGain = 1.2
	cfg.WarningMaxStep = 10
	cfg.CriticalMaxStep = 16
	return cfg
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.FOV <= 0 || c.FOV >= 360:
		return fmt.Errorf("%w: fov %v", ErrInvalidConfig, c.FOV)
	case c.PanMin >= c.PanMax || c.TiltMin >= c.TiltMax:
		return fmt.Errorf("%w: empty servo range", ErrInvalidConfig)
	case c.Deadband < 0 || c.Deadband >= 0.5:
		return fmt.Errorf("%w: deadband %v not in [0,0.5)", ErrInvalidConfig, c.Deadband)
	case c.Gain < 0 || c.WarningGain < c.Gain || c.CriticalGain < c.WarningGain:
		return fmt.Errorf("%w: gains must satisfy 0 <= none <= warning <= critical", ErrInvalidConfig)
	case c.MaxStep <= 0 || c.WarningMaxStep < c.MaxStep || c.CriticalMaxStep < c.WarningMaxStep:
		return fmt.Errorf("%w: max steps must satisfy 0 < none <= warning <= critical", ErrInvalidConfig)
	}
	return nil
}

// Controller turns target offsets into pan/tilt commands. It holds no state
// between calls; the caller supplies the current pose.
type Controller struct {
	cfg Config
}

// NewController creates a controller.
func NewController(cfg Config) *Controller {
	return &Controller{cfg: cfg}
}

// Config returns the controller's configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

func (c *Controller) gain(s tracking.Severity) (gain, maxStep float64) {
	switch s {
	case tracking.SeverityCritical:
		return c.cfg.CriticalGain, c.cfg.CriticalMaxStep
	case tracking.SeverityWarning:
		return c.cfg.WarningGain, c.cfg.WarningMaxStep
	}
	return c.cfg.Gain, c.cfg.MaxStep
}

// PanToKeepInFrame returns the pan that moves a target at centerFraction
// (bbox center x over frame width) toward the middle of the frame. Inside
// the deadband it returns currentPan unchanged.
func (c *Controller) PanToKeepInFrame(currentPan, centerFraction float64, severity tracking.Severity) float64 {
	if math.IsNaN(centerFraction) {
		return currentPan
	}
	offset := centerFraction - 0.5
	if math.Abs(offset) <= c.cfg.Deadband {
		return currentPan
	}

	gain, maxStep := c.gain(severity)
	delta := clamp(offset*c.cfg.FOV*gain, -maxStep, maxStep)
	return clamp(currentPan+delta, c.cfg.PanMin, c.cfg.PanMax)
}

// CenterGroup nudges pan and tilt toward the centroid of boxes with damped
// proportional control. It reports false when no correction is needed: no
// boxes, or both axes below MinAdjustment.
func (c *Controller) CenterGroup(current Pose, boxes []vision.BBox, frameWidth, frameHeight int) (Pose, bool) {
	if len(boxes) == 0 || frameWidth <= 0 || frameHeight <= 0 {
		return current, false
	}

	var sumX, sumY float64
	for _, b := range boxes {
		x, y := b.Center()
		sumX += x
		sumY += y
	}
	n := float64(len(boxes))
	offsetX := sumX/n - float64(frameWidth)/2
	offsetY := sumY/n - float64(frameHeight)/2

	vfov := c.cfg.VerticalFOV
	if vfov <= 0 {
		vfov = c.cfg.FOV * float64(frameHeight) / float64(frameWidth)
	}
	panAdj := clamp(offsetX*c.cfg.FOV/float64(frameWidth)*c.cfg.Damping, -c.cfg.MaxStep, c.cfg.MaxStep)
	tiltAdj := clamp(offsetY*vfov/float64(frameHeight)*c.cfg.Damping, -c.cfg.MaxStep, c.cfg.MaxStep)

	if math.Abs(panAdj) <= c.cfg.MinAdjustment && math.Abs(tiltAdj) <= c.cfg.MinAdjustment {
		return current, false
	}
	return Pose{
		Pan:  clamp(current.Pan+panAdj, c.cfg.PanMin, c.cfg.PanMax),
		Tilt: clamp(current.Tilt+tiltAdj, c.cfg.TiltMin, c.cfg.TiltMax),
	}, true
}

// clamp limits a value to a range
func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
