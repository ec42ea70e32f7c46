package servo

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-panscan/internal/httpc"
)

// HTTPController drives servos through a JSON bridge running next to the
// PWM hardware:
//
//	POST /api/servo/{axis}  {"angle": 90, "speed": 0.5, "smooth": true}
//	GET  /api/servo/{axis}  -> {"angle": 90}
type HTTPController struct {
	BaseURL string

	cfg    Config
	client *http.Client

	mu       sync.Mutex
	lastSent map[Axis]float64
}

type servoCommand struct {
	Angle  float64 `json:"angle"`
	Speed  float64 `json:"speed,omitempty"`
	Smooth bool    `json:"smooth,omitempty"`
}

type servoState struct {
	Angle float64 `json:"angle"`
}

// NewHTTPController creates a controller for the bridge at baseURL.
func NewHTTPController(baseURL string, cfg Config) *HTTPController {
	if cfg.MoveTimeout <= 0 {
		cfg.MoveTimeout = httpc.DefaultTimeout
	}
	return &HTTPController{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		cfg:      cfg,
		client:   httpc.NewClient(cfg.MoveTimeout + time.Second),
		lastSent: make(map[Axis]float64),
	}
}

func (c *HTTPController) url(axis Axis) string {
	return fmt.Sprintf("%s/api/servo/%s", c.BaseURL, axis)
}

// skip reports whether angle is within the dead zone of the last command.
func (c *HTTPController) skip(axis Axis, angle float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.lastSent[axis]
	return ok && math.Abs(last-angle) < c.cfg.DeadZone
}

func (c *HTTPController) remember(axis Axis, angle float64) {
	c.mu.Lock()
	c.lastSent[axis] = angle
	c.mu.Unlock()
}

// SetAngle moves axis immediately, clamped to its limits.
func (c *HTTPController) SetAngle(axis Axis, angle float64) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	angle = c.cfg.Limits(axis).Clamp(angle)
	if c.skip(axis, angle) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.MoveTimeout)
	defer cancel()
	if err := httpc.DoJSON(ctx, c.client, http.MethodPost, c.url(axis), servoCommand{Angle: angle}, nil); err != nil {
		return fmt.Errorf("set %s angle: %w", axis, err)
	}
	c.remember(axis, angle)
	return nil
}

// Angle reads the bridge's current angle for axis.
func (c *HTTPController) Angle(axis Axis) (float64, error) {
	if err := checkAxis(axis); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.MoveTimeout)
	defer cancel()

	var st servoState
	if err := httpc.DoJSON(ctx, c.client, http.MethodGet, c.url(axis), nil, &st); err != nil {
		return 0, fmt.Errorf("get %s angle: %w", axis, err)
	}
	return st.Angle, nil
}

// SmoothMoveTo asks the bridge for an interpolated move; the bridge replies
// once the servo reaches the target.
func (c *HTTPController) SmoothMoveTo(ctx context.Context, axis Axis, angle, speed float64) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	angle = c.cfg.Limits(axis).Clamp(angle)
	if c.skip(axis, angle) {
		return nil
	}

	cmd := servoCommand{Angle: angle, Speed: clampSpeed(speed), Smooth: true}
	if err := httpc.DoJSON(ctx, c.client, http.MethodPost, c.url(axis), cmd, nil); err != nil {
		return fmt.Errorf("smooth move %s: %w", axis, err)
	}
	c.remember(axis, angle)
	return nil
}
