// Package scan plans where the camera looks during a room sweep.
package scan

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrInvalidGeometry is returned when FOV, overlap or range cannot produce a sweep.
var ErrInvalidGeometry = errors.New("scan: invalid sweep geometry")

// epsilon absorbs float drift when the last step lands on panMax.
const epsilon = 1e-9

// CalculatePositions returns pan angles from panMin to panMax spaced
// fov-overlap apart. The last position is always panMax, even when that makes
// the final step shorter.
func CalculatePositions(fov, overlap, panMin, panMax float64) ([]float64, error) {
	step := fov - overlap
	switch {
	case fov <= 0 || math.IsNaN(fov):
		return nil, fmt.Errorf("%w: fov %v", ErrInvalidGeometry, fov)
	case overlap < 0 || step <= 0 || math.IsNaN(step):
		return nil, fmt.Errorf("%w: overlap %v with fov %v", ErrInvalidGeometry, overlap, fov)
	case panMin > panMax || math.IsNaN(panMin) || math.IsNaN(panMax):
		return nil, fmt.Errorf("%w: range %v..%v", ErrInvalidGeometry, panMin, panMax)
	}

	n := int(math.Floor((panMax-panMin)/step+epsilon)) + 1
	positions := make([]float64, 0, n+1)
	for i := 0; i < n; i++ {
		positions = append(positions, panMin+float64(i)*step)
	}
	if last := positions[len(positions)-1]; panMax-last > epsilon {
		positions = append(positions, panMax)
	} else {
		positions[len(positions)-1] = panMax
	}
	return positions, nil
}

// HeatSource scores how productive a direction has been. heatmap.HeatMap
// satisfies it.
type HeatSource interface {
	HeatAt(angle, radius float64) float64
}

// OrderByHeat returns positions sorted by descending heat within radius.
// Positions without heat keep their base order at the tail. A nil source
// returns a copy of positions unchanged.
func OrderByHeat(positions []float64, heat HeatSource, radius float64) []float64 {
	out := append([]float64(nil), positions...)
	if heat == nil {
		return out
	}

	scores := make(map[int]float64, len(out))
	idx := make([]int, len(out))
	for i, p := range out {
		idx[i] = i
		scores[i] = heat.HeatAt(p, radius)
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] > scores[idx[b]]
	})

	ordered := make([]float64, len(out))
	for i, j := range idx {
		ordered[i] = out[j]
	}
	return ordered
}

// OrderCenterOut returns positions sorted by distance from center, closest
// first. Equal distances keep their base order.
func OrderCenterOut(positions []float64, center float64) []float64 {
	out := append([]float64(nil), positions...)
	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i]-center) < math.Abs(out[j]-center)
	})
	return out
}
