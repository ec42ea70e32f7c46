package servo

import (
	"context"
	"fmt"
	"time"
)

// MoveAndSettle smoothly moves axis and then waits settle so the next frame
// is not blurred. The move itself is not interrupted by ctx cancellation; it
// runs until done or timeout. Cancellation is observed after the move.
func MoveAndSettle(ctx context.Context, c SmoothMover, axis Axis, angle, speed float64, settle, timeout time.Duration) error {
	moveCtx := context.WithoutCancel(ctx)
	if timeout > 0 {
		var cancel context.CancelFunc
		moveCtx, cancel = context.WithTimeout(moveCtx, timeout)
		defer cancel()
	}

	if err := c.SmoothMoveTo(moveCtx, axis, angle, speed); err != nil {
		return fmt.Errorf("move %s to %.1f: %w", axis, angle, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if settle <= 0 {
		return nil
	}

	timer := time.NewTimer(settle)
	defer timer.Stop()
	<-timer.C
	return nil
}

// Center sends both axes to their rest positions.
func Center(c AngleSetter, cfg Config) error {
	if err := c.SetAngle(Pan, cfg.Pan.Center); err != nil {
		return err
	}
	return c.SetAngle(Tilt, cfg.Tilt.Center)
}
