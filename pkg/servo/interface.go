// Package servo drives the pan/tilt mount.
//
// Small interfaces are composed as needed; consumers should depend only on
// the ones they actually use.
package servo

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownAxis is returned for an axis other than Pan or Tilt.
var ErrUnknownAxis = errors.New("servo: unknown axis")

// Axis names one servo.
type Axis string

const (
	Pan  Axis = "pan"
	Tilt Axis = "tilt"
)

// Valid reports whether a is Pan or Tilt.
func (a Axis) Valid() bool {
	return a == Pan || a == Tilt
}

func checkAxis(a Axis) error {
	if !a.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownAxis, a)
	}
	return nil
}

// AngleSetter moves a servo immediately.
type AngleSetter interface {
	SetAngle(axis Axis, angle float64) error
}

// AngleReader reports a servo's current angle.
type AngleReader interface {
	Angle(axis Axis) (float64, error)
}

// SmoothMover moves a servo gradually and returns once the move completes.
// Speed is 0.1 (slow) to 1.0 (fast).
type SmoothMover interface {
	SmoothMoveTo(ctx context.Context, axis Axis, angle, speed float64) error
}

// Controller is the composite interface for full mount control. Out-of-range
// angles are clamped, never rejected.
type Controller interface {
	AngleSetter
	AngleReader
	SmoothMover
}

// Ensure implementations satisfy Controller
var (
	_ Controller = (*HTTPController)(nil)
	_ Controller = (*SimController)(nil)
)
