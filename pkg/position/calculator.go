// Package position picks the pan angle that keeps the most people in frame.
package position

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/teslashibe/go-panscan/pkg/vision"
)

// ErrNoDetections is returned when there is nothing to frame.
var ErrNoDetections = errors.New("position: no detections")

// Config holds camera geometry for the calculator.
type Config struct {
	FOV    float64 // horizontal field of view (degrees)
	PanMin float64
	PanMax float64
	Tilt   float64 // tilt reported with every result
}

// DefaultConfig matches the default camera and servo range.
func DefaultConfig() Config {
	return Config{FOV: 66.3, PanMin: 0, PanMax: 180, Tilt: 90}
}

// Result is the chosen framing.
type Result struct {
	Pan     float64
	Tilt    float64
	Count   int       // detections inside the frame at Pan
	Members []float64 // world angles of those detections, ascending
}

// Calculator finds the densest cluster of world angles that fits in one frame.
type Calculator struct {
	cfg Config
}

// NewCalculator creates a calculator.
func NewCalculator(cfg Config) *Calculator {
	if cfg.FOV <= 0 {
		cfg.FOV = DefaultConfig().FOV
	}
	if cfg.PanMax <= cfg.PanMin {
		cfg.PanMin, cfg.PanMax = DefaultConfig().PanMin, DefaultConfig().PanMax
	}
	return &Calculator{cfg: cfg}
}

// Calculate returns the pan that frames the largest contiguous cluster of
// angles. Equal clusters go to the one whose framed pan is nearest
// currentPan, then the lowest.
func (c *Calculator) Calculate(angles []float64, currentPan float64) (Result, error) {
	sorted := make([]float64, 0, len(angles))
	for _, a := range angles {
		if !math.IsNaN(a) && !math.IsInf(a, 0) {
			sorted = append(sorted, a)
		}
	}
	if len(sorted) == 0 {
		return Result{}, ErrNoDetections
	}
	sort.Float64s(sorted)

	bestStart, bestEnd := 0, 0
	bestDist := math.Inf(1)
	end := 0
	for start := range sorted {
		if end < start {
			end = start
		}
		for end+1 < len(sorted) && sorted[end+1]-sorted[start] <= c.cfg.FOV {
			end++
		}

		count := end - start + 1
		bestCount := bestEnd - bestStart + 1
		dist := math.Abs(c.frame(sorted[start:end+1]) - currentPan)
		if count > bestCount || (count == bestCount && dist < bestDist) {
			bestStart, bestEnd, bestDist = start, end, dist
		}
	}

	members := append([]float64(nil), sorted[bestStart:bestEnd+1]...)
	pan := c.frame(members)
	return Result{
		Pan:     pan,
		Tilt:    c.cfg.Tilt,
		Count:   len(members),
		Members: members,
	}, nil
}

// CalculateDetections is Calculate over the world angles of dets.
func (c *Calculator) CalculateDetections(dets []vision.Detection, currentPan float64) (Result, error) {
	angles := make([]float64, len(dets))
	for i, d := range dets {
		angles[i] = d.WorldAngle
	}
	return c.Calculate(angles, currentPan)
}

// frame centers on the cluster centroid, shifted if needed so the outermost
// members stay inside FOV/2, then limited to the pan range.
func (c *Calculator) frame(members []float64) float64 {
	half := c.cfg.FOV / 2
	centroid := stat.Mean(members, nil)
	lo := floats.Max(members) - half
	hi := floats.Min(members) + half
	pan := math.Max(lo, math.Min(hi, centroid))
	return math.Max(c.cfg.PanMin, math.Min(c.cfg.PanMax, pan))
}
