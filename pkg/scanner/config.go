// Package scanner is the room scanner's control loop: it sweeps the room
// until it finds people, then watches them until everyone has left.
package scanner

import (
	"errors"
	"fmt"
	"time"

	"github.com/teslashibe/go-panscan/pkg/heatmap"
	"github.com/teslashibe/go-panscan/pkg/position"
	"github.com/teslashibe/go-panscan/pkg/scan"
	"github.com/teslashibe/go-panscan/pkg/servo"
	"github.com/teslashibe/go-panscan/pkg/tracking"
	"github.com/teslashibe/go-panscan/pkg/watch"
)

var (
	// ErrMissingDependency is returned by New when a required collaborator is nil.
	ErrMissingDependency = errors.New("scanner: missing dependency")
	// ErrNotWatching is returned by WatchStep outside WATCH mode.
	ErrNotWatching = errors.New("scanner: not in watch mode")
)

// Config holds everything the control loop needs.
type Config struct {
	// Camera geometry
	FOV         float64 // horizontal (degrees)
	VerticalFOV float64 // vertical (degrees)
	FrameWidth  int     // used when a frame does not report its size
	FrameHeight int

	// Detection
	ConfidenceThreshold float64
	MinSeenFrames       int // consecutive frames at one position before a sweep stops

	// Timing
	ScanInterval     time.Duration // wait after an empty sweep
	WatchInterval    time.Duration // wait between watch frames
	MaxWatchDuration time.Duration // 0 watches until everyone leaves

	// Failure tolerance
	MaxCaptureFailures int // consecutive watch capture errors before returning to SCAN

	// Framing
	MaxTiltNudge float64 // degrees

	Scan     scan.Config
	Tracking tracking.Config
	Watch    watch.Config
	Servo    servo.Config
	HeatMap  heatmap.Config
}

// DefaultConfig returns working defaults for a 1280x720 camera on a 0-180°
// mount.
func DefaultConfig() Config {
	sc := scan.DefaultConfig()
	wc := watch.DefaultConfig()
	return Config{
		FOV:         sc.FOV,
		VerticalFOV: wc.VerticalFOV,
		FrameWidth:  1280,
		FrameHeight: 720,

		ConfidenceThreshold: 0.5,
		MinSeenFrames:       1,

		ScanInterval:     30 * time.Second,
		WatchInterval:    250 * time.Millisecond,
		MaxWatchDuration: 10 * time.Minute,

		MaxCaptureFailures: 5,
		MaxTiltNudge:       15,

		Scan:     sc,
		Tracking: tracking.DefaultConfig(),
		Watch:    wc,
		Servo:    servo.DefaultConfig(),
		HeatMap:  heatmap.DefaultConfig(),
	}
}

// positionConfig derives the calculator config from camera and servo limits.
func (c Config) positionConfig() position.Config {
	return position.Config{
		FOV:    c.FOV,
		PanMin: c.Servo.Pan.Min,
		PanMax: c.Servo.Pan.Max,
		Tilt:   c.Servo.Tilt.Center,
	}
}

// Validate checks the values that would make the loop misbehave silently.
func (c Config) Validate() error {
	switch {
	case c.FOV <= 0 || c.FOV >= 360:
		return fmt.Errorf("scanner: fov %v out of range", c.FOV)
	case c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1:
		return fmt.Errorf("scanner: confidence threshold %v not in [0,1]", c.ConfidenceThreshold)
	case c.FrameWidth <= 0 || c.FrameHeight <= 0:
		return fmt.Errorf("scanner: frame size %dx%d", c.FrameWidth, c.FrameHeight)
	case c.MinSeenFrames < 1:
		return fmt.Errorf("scanner: min seen frames %d < 1", c.MinSeenFrames)
	case c.MaxCaptureFailures < 1:
		return fmt.Errorf("scanner: max capture failures %d < 1", c.MaxCaptureFailures)
	}
	if err := c.Tracking.Validate(); err != nil {
		return err
	}
	return c.Watch.Validate()
}
