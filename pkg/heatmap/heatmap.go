// Package heatmap is the scanner's spatial memory: how often people have
// been seen at each pan direction, fading with a configurable half-life.
package heatmap

import (
	"math"
	"sort"
	"sync"
	"time"
)

// EventType names the observation recorded into the map.
type EventType string

const (
	EventDetection EventType = "detection"
	EventEntry     EventType = "entry"
	EventExit      EventType = "exit"
)

// Type multipliers. Detection > entry > exit; anything else is weak.
const (
	detectionWeight = 1.0
	entryWeight     = 0.6
	exitWeight      = 0.4
	unknownWeight   = 0.2

	// Buckets below this are treated as empty and dropped.
	minWeight = 1e-6
)

// TypeWeight returns the multiplier applied to an event of type t.
func TypeWeight(t EventType) float64 {
	switch t {
	case EventDetection:
		return detectionWeight
	case EventEntry:
		return entryWeight
	case EventExit:
		return exitWeight
	default:
		return unknownWeight
	}
}

// Config holds heat map parameters. Bucket resolution is fixed for the life
// of a map.
type Config struct {
	BucketSize float64       // degrees per bucket
	PanMin     float64       // lowest pan angle covered
	PanMax     float64       // highest pan angle covered
	HalfLife   time.Duration // weight halves every HalfLife without events
	BaseWeight float64       // weight added by a full-confidence detection
	Clock      func() time.Time
}

// DefaultConfig returns 10° buckets over 0-180° with a one day half-life.
func DefaultConfig() Config {
	return Config{
		BucketSize: 10,
		PanMin:     0,
		PanMax:     180,
		HalfLife:   24 * time.Hour,
		BaseWeight: 1.0,
		Clock:      time.Now,
	}
}

// Bucket is one discretized pan interval.
type Bucket struct {
	Angle      float64 // bucket center (degrees)
	Weight     float64
	LastUpdate time.Time
}

type cell struct {
	weight     float64
	lastUpdate time.Time
}

// HeatMap maps pan buckets to decaying weights. It is safe for concurrent
// use; the scanner writes and the web status API reads.
type HeatMap struct {
	cfg Config

	mu      sync.RWMutex
	cells   map[int]*cell
	records uint64
}

// New creates an empty heat map. Zero-valued fields of cfg take defaults.
func New(cfg Config) *HeatMap {
	def := DefaultConfig()
	if cfg.BucketSize <= 0 {
		cfg.BucketSize = def.BucketSize
	}
	if cfg.PanMax <= cfg.PanMin {
		cfg.PanMin, cfg.PanMax = def.PanMin, def.PanMax
	}
	if cfg.HalfLife <= 0 {
		cfg.HalfLife = def.HalfLife
	}
	if cfg.BaseWeight <= 0 {
		cfg.BaseWeight = def.BaseWeight
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &HeatMap{
		cfg:   cfg,
		cells: make(map[int]*cell),
	}
}

// Config returns the map's configuration.
func (h *HeatMap) Config() Config {
	return h.cfg
}

// bucketIndex maps an angle to its bucket, clamping into the pan range.
func (h *HeatMap) bucketIndex(angle float64) int {
	if math.IsNaN(angle) {
		angle = h.cfg.PanMin
	}
	angle = math.Max(h.cfg.PanMin, math.Min(h.cfg.PanMax, angle))
	idx := int(math.Floor((angle - h.cfg.PanMin) / h.cfg.BucketSize))
	// PanMax itself belongs to the last bucket, not one past it.
	if last := h.lastIndex(); idx > last {
		idx = last
	}
	return idx
}

func (h *HeatMap) lastIndex() int {
	n := int(math.Ceil((h.cfg.PanMax - h.cfg.PanMin) / h.cfg.BucketSize))
	if n < 1 {
		n = 1
	}
	return n - 1
}

// BucketAngle returns the center angle of the bucket holding angle.
func (h *HeatMap) BucketAngle(angle float64) float64 {
	return h.centerOf(h.bucketIndex(angle))
}

func (h *HeatMap) centerOf(idx int) float64 {
	return h.cfg.PanMin + (float64(idx)+0.5)*h.cfg.BucketSize
}

// RecordEvent adds weight to the bucket holding angle, scaled by confidence
// (clamped to 0..1) and by the event type multiplier. Adds too small to
// survive pruning are ignored.
func (h *HeatMap) RecordEvent(angle float64, eventType EventType, confidence float64) {
	if math.IsNaN(confidence) {
		confidence = 0
	}
	confidence = math.Max(0, math.Min(1, confidence))
	add := h.cfg.BaseWeight * confidence * TypeWeight(eventType)
	if add < minWeight {
		return
	}
	now := h.cfg.Clock()

	h.mu.Lock()
	defer h.mu.Unlock()

	h.records++
	idx := h.bucketIndex(angle)
	c, ok := h.cells[idx]
	if !ok {
		c = &cell{}
		h.cells[idx] = c
	}
	// Bring the existing weight up to now before adding, so the
	// timestamp reset does not forgive pending decay.
	if !c.lastUpdate.IsZero() {
		c.weight *= h.decayFactor(now.Sub(c.lastUpdate))
	}
	c.weight += add
	c.lastUpdate = now
}

// Records returns how many events have added weight to the map.
func (h *HeatMap) Records() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.records
}

// decayFactor returns the multiplier for the elapsed time; never above 1.
func (h *HeatMap) decayFactor(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 1
	}
	return math.Pow(0.5, elapsed.Seconds()/h.cfg.HalfLife.Seconds())
}

// Decay fades every bucket by the wall-clock time since its last update and
// drops buckets that fall to (effectively) zero.
func (h *HeatMap) Decay(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for idx, c := range h.cells {
		elapsed := now.Sub(c.lastUpdate)
		if elapsed <= 0 {
			continue
		}
		c.weight *= h.decayFactor(elapsed)
		c.lastUpdate = now
		if c.weight < minWeight {
			delete(h.cells, idx)
		}
	}
}

// Weight returns the weight of the bucket holding angle.
func (h *HeatMap) Weight(angle float64) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c, ok := h.cells[h.bucketIndex(angle)]; ok {
		return c.weight
	}
	return 0
}

// HeatAt sums the weights of buckets whose center lies within radius of angle.
func (h *HeatMap) HeatAt(angle, radius float64) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0.0
	for idx, c := range h.cells {
		if math.Abs(h.centerOf(idx)-angle) <= radius {
			total += c.weight
		}
	}
	return total
}

// Buckets returns a snapshot of every non-empty bucket, hottest first.
func (h *HeatMap) Buckets() []Bucket {
	h.mu.RLock()
	out := make([]Bucket, 0, len(h.cells))
	for idx, c := range h.cells {
		out = append(out, Bucket{
			Angle:      h.centerOf(idx),
			Weight:     c.weight,
			LastUpdate: c.lastUpdate,
		})
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].Angle < out[j].Angle
	})
	return out
}

// OrderedBuckets returns bucket angles by descending weight, ties broken by
// ascending angle.
func (h *HeatMap) OrderedBuckets() []float64 {
	buckets := h.Buckets()
	angles := make([]float64, len(buckets))
	for i, b := range buckets {
		angles[i] = b.Angle
	}
	return angles
}

// Len returns the number of non-empty buckets.
func (h *HeatMap) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.cells)
}

// set installs a bucket directly; used when restoring persisted state.
func (h *HeatMap) set(angle, weight float64, lastUpdate time.Time) {
	if weight < minWeight || math.IsNaN(weight) || math.IsInf(weight, 0) {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	idx := h.bucketIndex(angle)
	if c, ok := h.cells[idx]; ok {
		// Two persisted angles can land in one bucket after a resolution change.
		c.weight += weight
		if lastUpdate.After(c.lastUpdate) {
			c.lastUpdate = lastUpdate
		}
		return
	}
	h.cells[idx] = &cell{weight: weight, lastUpdate: lastUpdate}
}
