package servo

import "time"

// Limits is one axis's safe range and rest position in degrees.
type Limits struct {
	Min    float64 `yaml:"min" json:"min"`
	Max    float64 `yaml:"max" json:"max"`
	Center float64 `yaml:"center" json:"center"`
}

// Clamp restricts angle to [Min, Max].
func (l Limits) Clamp(angle float64) float64 {
	return clamp(angle, l.Min, l.Max)
}

// Config describes the mount.
type Config struct {
	Pan         Limits
	Tilt        Limits
	Speed       float64       // smooth move speed, 0.1..1.0
	Settle      time.Duration // wait after a move before capturing
	MoveTimeout time.Duration // give up on a move after this long
	DeadZone    float64       // skip commands closer than this to the last one (degrees)
}

// DefaultConfig returns a 0-180° mount centered at 90°/90°.
func DefaultConfig() Config {
	return Config{
		Pan:         Limits{Min: 0, Max: 180, Center: 90},
		Tilt:        Limits{Min: 0, Max: 180, Center: 90},
		Speed:       0.5,
		Settle:      time.Second,
		MoveTimeout: 5 * time.Second,
		DeadZone:    0.1,
	}
}

// Limits returns the limits for axis.
func (c Config) Limits(axis Axis) Limits {
	if axis == Tilt {
		return c.Tilt
	}
	return c.Pan
}

// clamp restricts v to the range [min, max].
func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clampSpeed(speed float64) float64 {
	if speed <= 0 {
		return 1.0
	}
	return clamp(speed, 0.1, 1.0)
}
