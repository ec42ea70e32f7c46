package tracking

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/teslashibe/go-panscan/internal/log"
	"github.com/teslashibe/go-panscan/pkg/vision"
)

var (
	ErrUnknownTrack      = errors.New("tracking: unknown track")
	ErrNotMissing        = errors.New("tracking: track is not missing")
	ErrAttemptsExhausted = errors.New("tracking: reacquisition attempts exhausted")
	ErrNoDirectionHint   = errors.New("tracking: no direction hint for track")
)

// Reacquisition is a suggested pan nudge toward a missing track.
type Reacquisition struct {
	TrackID   int
	Direction Direction
	PanDelta  float64 // degrees, signed
	Attempt   int     // 1-based
}

// EventTracker associates detections with tracks frame by frame. It is safe
// for concurrent use; the scanner updates it and the status API reads it.
type EventTracker struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	tracks  map[int]*TrackedPerson
	lost    []int // LOST ids, oldest first
	nextID  int
	primary int
	frame   int
}

// NewEventTracker creates a tracker with empty state.
func NewEventTracker(cfg Config) *EventTracker {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.HistorySize < 1 {
		cfg.HistorySize = DefaultConfig().HistorySize
	}
	if cfg.VelocityWindow < 2 {
		cfg.VelocityWindow = DefaultConfig().VelocityWindow
	}
	if cfg.MissingFrames < 1 {
		cfg.MissingFrames = DefaultConfig().MissingFrames
	}
	return &EventTracker{
		cfg:    cfg,
		logger: log.Component("tracking"),
		tracks: make(map[int]*TrackedPerson),
		nextID: 1,
	}
}

// Reset discards all tracks. Ids keep increasing across resets.
func (t *EventTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = make(map[int]*TrackedPerson)
	t.lost = nil
	t.primary = 0
	t.frame = 0
}

type pair struct {
	track int
	det   int
	dist  float64
}

// Update advances every track by one frame and returns the new state with
// the events it produced, in order: new persons, edges, exits.
func (t *EventTracker) Update(dets []vision.Detection, frameWidth int) (State, []Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.cfg.Clock()
	t.frame++
	if frameWidth <= 0 {
		t.logger.Warn("ignoring frame without width", "frame", t.frame)
		return t.snapshot(), nil
	}
	width := float64(frameWidth)

	valid := make([]vision.Detection, 0, len(dets))
	for _, d := range dets {
		if d.BBox.Valid() {
			valid = append(valid, d)
		}
	}

	// Greedy global nearest-pair association within the gate.
	gate := t.cfg.GatingRadius * width
	var pairs []pair
	for id, p := range t.tracks {
		if !p.Status.Trackable() {
			continue
		}
		px, py := p.BBox.Center()
		for j, d := range valid {
			dx, dy := d.BBox.Center()
			dist := math.Hypot(dx-px, dy-py)
			if dist <= gate {
				pairs = append(pairs, pair{track: id, det: j, dist: dist})
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].dist != pairs[j].dist {
			return pairs[i].dist < pairs[j].dist
		}
		if pairs[i].track != pairs[j].track {
			return pairs[i].track < pairs[j].track
		}
		return pairs[i].det < pairs[j].det
	})

	matchedTrack := make(map[int]int)
	matchedDet := make(map[int]bool)
	for _, pr := range pairs {
		if _, ok := matchedTrack[pr.track]; ok || matchedDet[pr.det] {
			continue
		}
		matchedTrack[pr.track] = pr.det
		matchedDet[pr.det] = true
	}

	var newEvents, edgeEvents, exitEvents []Event

	for _, id := range t.sortedIDs() {
		p := t.tracks[id]
		if !p.Status.Trackable() {
			continue
		}
		if j, ok := matchedTrack[id]; ok {
			if e := t.observe(p, valid[j], width, now); e != nil {
				edgeEvents = append(edgeEvents, e)
			}
			continue
		}
		if e := t.miss(p, now); e != nil {
			exitEvents = append(exitEvents, e)
		}
	}

	for j, d := range valid {
		if matchedDet[j] {
			continue
		}
		newEvents = append(newEvents, t.spawn(d, width, now))
	}

	t.electPrimary()
	t.pruneLost()

	events := make([]Event, 0, len(newEvents)+len(edgeEvents)+len(exitEvents))
	events = append(events, newEvents...)
	events = append(events, edgeEvents...)
	events = append(events, exitEvents...)

	t.logger.Debug("tracking update",
		"frame", t.frame,
		"detections", len(valid),
		"tracks", len(t.tracks),
		"events", len(events),
		"primary", t.primary)

	return t.snapshot(), events
}

// observe applies a matched detection to p and returns an EdgeEvent when an
// ACTIVE track is near an edge.
func (t *EventTracker) observe(p *TrackedPerson, d vision.Detection, width float64, now time.Time) Event {
	if p.Status != StatusActive {
		t.logger.Debug("track active", "track", p.ID, "was", p.Status)
	}
	p.Status = StatusActive
	p.BBox = d.BBox
	p.MissingFrames = 0
	p.ReacquisitionAttempts = 0
	p.WorldAngle = d.WorldAngle
	p.Confidence = d.Confidence
	p.LastSeen = now
	t.record(p, now)
	p.Velocity = estimateVelocity(p.History, t.cfg.VelocityWindow)
	p.Edge = ClassifyEdge(d.BBox, width, t.cfg.EdgeWarning, t.cfg.EdgeCritical)

	if p.Edge == EdgeCenter {
		return nil
	}
	cx, _ := d.BBox.Center()
	return EdgeEvent{
		Header:         t.header(p, now),
		Position:       p.Edge,
		Severity:       p.Edge.Severity(),
		CenterFraction: cx / width,
	}
}

// miss counts a frame without a match and returns an ExitEvent once the
// debounce threshold is reached.
func (t *EventTracker) miss(p *TrackedPerson, now time.Time) Event {
	p.MissingFrames++
	if p.Status == StatusNew || p.Status == StatusActive {
		p.Status = StatusMissing
		t.logger.Debug("track missing", "track", p.ID, "edge", p.Edge)
	}
	if p.MissingFrames < t.cfg.MissingFrames {
		return nil
	}

	p.Status = StatusLost
	p.ExitDirection = t.inferExit(p)
	t.lost = append(t.lost, p.ID)

	dir := "unknown"
	if p.ExitDirection != nil {
		dir = string(*p.ExitDirection)
	}
	t.logger.Info("track lost", "track", p.ID, "direction", dir, "world_angle", p.WorldAngle)

	return ExitEvent{Header: t.header(p, now), Direction: p.ExitDirection}
}

// spawn creates a NEW track for an unmatched detection.
func (t *EventTracker) spawn(d vision.Detection, width float64, now time.Time) Event {
	p := &TrackedPerson{
		ID:         t.nextID,
		BBox:       d.BBox,
		Status:     StatusNew,
		WorldAngle: d.WorldAngle,
		Confidence: d.Confidence,
		FirstSeen:  now,
		LastSeen:   now,
	}
	t.nextID++
	t.record(p, now)
	p.Edge = ClassifyEdge(d.BBox, width, t.cfg.EdgeWarning, t.cfg.EdgeCritical)
	if p.Edge.Severity() == SeverityCritical {
		p.EntryEdge = p.Edge.Side()
	}
	t.tracks[p.ID] = p

	entry := "none"
	if p.EntryEdge != nil {
		entry = string(*p.EntryEdge)
	}
	t.logger.Info("new person", "track", p.ID, "entry_edge", entry, "world_angle", p.WorldAngle)

	return NewPersonEvent{Header: t.header(p, now), EntryEdge: p.EntryEdge}
}

func (t *EventTracker) record(p *TrackedPerson, now time.Time) {
	cx, cy := p.BBox.Center()
	p.History = append(p.History, Sample{X: cx, Y: cy, T: now})
	if over := len(p.History) - t.cfg.HistorySize; over > 0 {
		p.History = append(p.History[:0], p.History[over:]...)
	}
}

func (t *EventTracker) header(p *TrackedPerson, now time.Time) Header {
	return Header{
		Timestamp:  now,
		TrackID:    p.ID,
		WorldAngle: p.WorldAngle,
		Confidence: p.Confidence,
	}
}

// inferExit picks the side a LOST track left through. A track last seen in
// the center has no inferred direction.
func (t *EventTracker) inferExit(p *TrackedPerson) *Direction {
	side := p.Edge.Side()
	if side == nil {
		return nil
	}
	if math.Abs(p.Velocity.X) >= t.cfg.MinExitVelocity && t.cfg.MinExitVelocity > 0 {
		if p.Velocity.X > 0 {
			return dirPtr(Right)
		}
		return dirPtr(Left)
	}
	return side
}

// directionHint is where a missing track most likely went.
func (t *EventTracker) directionHint(p *TrackedPerson) (Direction, bool) {
	if p.ExitDirection != nil {
		return *p.ExitDirection, true
	}
	if side := p.Edge.Side(); side != nil {
		return *side, true
	}
	switch {
	case p.Velocity.X > 0:
		return Right, true
	case p.Velocity.X < 0:
		return Left, true
	}
	return "", false
}

// AttemptReacquisition suggests a pan nudge toward a MISSING track and moves
// it to REACQUIRING. Attempts are capped; the track still needs the missing
// frame debounce to become LOST.
func (t *EventTracker) AttemptReacquisition(id int) (Reacquisition, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.tracks[id]
	if !ok {
		return Reacquisition{}, fmt.Errorf("%w: %d", ErrUnknownTrack, id)
	}
	if p.Status != StatusMissing && p.Status != StatusReacquiring {
		return Reacquisition{}, fmt.Errorf("%w: track %d is %s", ErrNotMissing, id, p.Status)
	}
	if p.ReacquisitionAttempts >= t.cfg.MaxReacquisitionAttempts {
		return Reacquisition{}, fmt.Errorf("%w: track %d after %d", ErrAttemptsExhausted, id, p.ReacquisitionAttempts)
	}
	dir, ok := t.directionHint(p)
	if !ok {
		return Reacquisition{}, fmt.Errorf("%w: %d", ErrNoDirectionHint, id)
	}

	p.ReacquisitionAttempts++
	p.Status = StatusReacquiring
	r := Reacquisition{
		TrackID:   id,
		Direction: dir,
		PanDelta:  dir.Sign() * t.cfg.ReacquisitionStep,
		Attempt:   p.ReacquisitionAttempts,
	}
	t.logger.Info("reacquisition nudge", "track", id, "direction", dir, "attempt", r.Attempt)
	return r, nil
}

// ShouldTriggerFullSweep reports whether no trackable person remains.
func (t *EventTracker) ShouldTriggerFullSweep() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.tracks {
		if p.Status.Trackable() {
			return false
		}
	}
	return true
}

// PrimaryTarget returns the person the camera should follow.
func (t *EventTracker) PrimaryTarget() (TrackedPerson, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.tracks[t.primary]; ok && t.primary != 0 {
		return p.clone(), true
	}
	return TrackedPerson{}, false
}

// State returns a snapshot of the current tracks.
func (t *EventTracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot()
}

// electPrimary keeps the current primary while it is trackable, otherwise
// picks the lowest-id ACTIVE track, then the lowest-id trackable one.
func (t *EventTracker) electPrimary() {
	if p, ok := t.tracks[t.primary]; ok && p.Status.Trackable() {
		return
	}
	prev := t.primary
	t.primary = 0
	ids := t.sortedIDs()
	for _, id := range ids {
		if t.tracks[id].Status == StatusActive {
			t.primary = id
			break
		}
	}
	if t.primary == 0 {
		for _, id := range ids {
			if t.tracks[id].Status.Trackable() {
				t.primary = id
				break
			}
		}
	}
	if t.primary != prev {
		t.logger.Info("primary target changed", "from", prev, "to", t.primary)
	}
}

func (t *EventTracker) pruneLost() {
	if t.cfg.MaxLostTracks <= 0 {
		return
	}
	for len(t.lost) > t.cfg.MaxLostTracks {
		delete(t.tracks, t.lost[0])
		t.lost = t.lost[1:]
	}
}

func (t *EventTracker) sortedIDs() []int {
	ids := make([]int, 0, len(t.tracks))
	for id := range t.tracks {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (t *EventTracker) snapshot() State {
	s := State{
		Tracks:          make(map[int]TrackedPerson, len(t.tracks)),
		PrimaryTargetID: t.primary,
		Frame:           t.frame,
	}
	for id, p := range t.tracks {
		s.Tracks[id] = p.clone()
	}
	return s
}

// ClassifyEdge places bbox in one of five horizontal zones. Fractions are
// distances from each frame edge over width; the nearer edge decides.
func ClassifyEdge(b vision.BBox, width, warning, critical float64) EdgePosition {
	if width <= 0 {
		return EdgeCenter
	}
	left := b.X / width
	right := 1 - (b.X+b.W)/width

	if left <= right {
		switch {
		case left <= critical:
			return EdgeLeftCritical
		case left <= warning:
			return EdgeLeftWarning
		}
		return EdgeCenter
	}
	switch {
	case right <= critical:
		return EdgeRightCritical
	case right <= warning:
		return EdgeRightWarning
	}
	return EdgeCenter
}

// estimateVelocity averages displacement over elapsed time across the last
// window samples. Fewer than two samples, or no elapsed time, is zero.
func estimateVelocity(history []Sample, window int) Velocity {
	if len(history) > window {
		history = history[len(history)-window:]
	}
	if len(history) < 2 {
		return Velocity{}
	}

	n := len(history) - 1
	dxs := make([]float64, n)
	dys := make([]float64, n)
	dts := make([]float64, n)
	for i := 1; i < len(history); i++ {
		dxs[i-1] = history[i].X - history[i-1].X
		dys[i-1] = history[i].Y - history[i-1].Y
		dts[i-1] = history[i].T.Sub(history[i-1].T).Seconds()
	}
	dt := stat.Mean(dts, nil)
	if dt <= 0 {
		return Velocity{}
	}
	return Velocity{
		X: stat.Mean(dxs, nil) / dt,
		Y: stat.Mean(dys, nil) / dt,
	}
}

func sortByID(ps []TrackedPerson) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].ID < ps[j].ID })
}
