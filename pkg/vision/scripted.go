package vision

import (
	"context"
	"sync"
	"time"
)

// ScriptedCamera replays canned frames. It backs the simulator and tests.
//
// Frames are served in order, one per Capture call. When the script runs
// out, Capture returns an empty frame (or ErrNoFrame when StrictEnd is set).
// If ByPan is non-nil it takes precedence and is asked for a frame at the
// requested pan angle.
type ScriptedCamera struct {
	Width  int
	Height int
	// FOV, when positive, recomputes each detection's world angle from the
	// capture pan. Zero keeps the scripted world angles.
	FOV       float64
	StrictEnd bool
	ByPan     func(pan float64) Frame
	Now       func() time.Time

	mu     sync.Mutex
	frames []Frame
	errs   map[int]error
	calls  int
	pans   []float64
}

// NewScriptedCamera creates a camera replaying frames of the given size.
func NewScriptedCamera(width, height int, frames ...Frame) *ScriptedCamera {
	return &ScriptedCamera{
		Width:  width,
		Height: height,
		frames: frames,
		errs:   make(map[int]error),
		Now:    time.Now,
	}
}

// Push appends frames to the script.
func (c *ScriptedCamera) Push(frames ...Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frames...)
}

// FailAt makes the n-th Capture call (0-based) return err instead of a frame.
func (c *ScriptedCamera) FailAt(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs[n] = err
}

// Calls returns how many times Capture was invoked.
func (c *ScriptedCamera) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Pans returns the pan angle passed to every Capture call.
func (c *ScriptedCamera) Pans() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]float64, len(c.pans))
	copy(out, c.pans)
	return out
}

// Capture implements Camera.
func (c *ScriptedCamera) Capture(ctx context.Context, pan float64) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	c.mu.Lock()
	n := c.calls
	c.calls++
	c.pans = append(c.pans, pan)
	if err, ok := c.errs[n]; ok {
		c.mu.Unlock()
		return Frame{}, err
	}

	var frame Frame
	switch {
	case c.ByPan != nil:
		c.mu.Unlock()
		frame = c.ByPan(pan)
		c.mu.Lock()
	case len(c.frames) > 0:
		frame = c.frames[0]
		c.frames = c.frames[1:]
	case c.StrictEnd:
		c.mu.Unlock()
		return Frame{}, ErrNoFrame
	}
	c.mu.Unlock()

	return c.finish(frame, pan), nil
}

// finish fills in the fields a real camera would populate.
func (c *ScriptedCamera) finish(frame Frame, pan float64) Frame {
	if frame.Width == 0 {
		frame.Width = c.Width
	}
	if frame.Height == 0 {
		frame.Height = c.Height
	}
	if frame.Timestamp.IsZero() && c.Now != nil {
		frame.Timestamp = c.Now()
	}

	dets := make([]Detection, len(frame.Detections))
	for i, d := range frame.Detections {
		d.PanAngle = pan
		if c.FOV > 0 {
			d.WorldAngle = WorldAngle(d.BBox, pan, c.FOV, frame.Width)
		}
		if d.Timestamp.IsZero() {
			d.Timestamp = frame.Timestamp
		}
		if len(d.Faces) == 0 && len(frame.Faces) > 0 {
			d.Faces = AssociateFaces(d.BBox, frame.Faces)
		}
		dets[i] = d
	}
	frame.Detections = dets
	return frame
}
