package tracking

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/teslashibe/go-panscan/pkg/vision"
)

const testWidth = 640

// steppingClock advances by step on every call.
func steppingClock(step time.Duration) func() time.Time {
	now := time.Unix(1_700_000_000, 0)
	return func() time.Time {
		now = now.Add(step)
		return now
	}
}

func newTestTracker(t *testing.T, mutate func(*Config)) *EventTracker {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Clock = steppingClock(100 * time.Millisecond)
	if mutate != nil {
		mutate(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("invalid test config: %v", err)
	}
	return NewEventTracker(cfg)
}

func person(x float64) vision.Detection {
	return vision.Detection{
		Label:      vision.PersonLabel,
		Confidence: 0.9,
		BBox:       vision.BBox{X: x, Y: 100, W: 80, H: 200},
		WorldAngle: 90,
	}
}

func countKind(events []Event, kind EventKind) int {
	n := 0
	for _, e := range events {
		if e.Kind() == kind {
			n++
		}
	}
	return n
}

func TestUpdate_ExitDebounce(t *testing.T) {
	tr := newTestTracker(t, nil)

	for i := 0; i < 5; i++ {
		tr.Update([]vision.Detection{person(280)}, testWidth)
	}

	for i := 0; i < 2; i++ {
		state, events := tr.Update(nil, testWidth)
		if n := countKind(events, KindExit); n != 0 {
			t.Fatalf("Expected no ExitEvent after %d missing frames, got %d", i+1, n)
		}
		if got := state.Tracks[1].Status; got != StatusMissing {
			t.Fatalf("Expected MISSING after %d missing frames, got %s", i+1, got)
		}
	}

	state, events := tr.Update(nil, testWidth)
	if n := countKind(events, KindExit); n != 1 {
		t.Fatalf("Expected exactly one ExitEvent on third missing frame, got %d", n)
	}
	if got := state.Tracks[1].Status; got != StatusLost {
		t.Errorf("Expected LOST, got %s", got)
	}

	exit := events[0].(ExitEvent)
	if exit.Direction != nil {
		t.Errorf("Expected no exit direction for a track lost in the center, got %v", *exit.Direction)
	}

	_, events = tr.Update(nil, testWidth)
	if len(events) != 0 {
		t.Errorf("Expected no further events for a LOST track, got %d", len(events))
	}
}

func TestUpdate_RematchResetsMissing(t *testing.T) {
	tr := newTestTracker(t, nil)

	tr.Update([]vision.Detection{person(280)}, testWidth)
	tr.Update([]vision.Detection{person(280)}, testWidth)
	tr.Update(nil, testWidth)
	tr.Update(nil, testWidth)

	state, events := tr.Update([]vision.Detection{person(290)}, testWidth)
	p := state.Tracks[1]
	if p.Status != StatusActive || p.MissingFrames != 0 {
		t.Errorf("Expected ACTIVE with 0 missing frames, got %s/%d", p.Status, p.MissingFrames)
	}
	if countKind(events, KindNewPerson) != 0 {
		t.Error("Expected rematch, not a new track")
	}
}

func TestUpdate_ExitDirectionFromEdge(t *testing.T) {
	tr := newTestTracker(t, nil)

	for _, x := range []float64{400, 460, 520, 560} {
		tr.Update([]vision.Detection{person(x)}, testWidth)
	}

	var exits []Event
	for i := 0; i < 3; i++ {
		_, events := tr.Update(nil, testWidth)
		exits = append(exits, events...)
	}
	if len(exits) != 1 {
		t.Fatalf("Expected one ExitEvent, got %d", len(exits))
	}
	exit := exits[0].(ExitEvent)
	if exit.Direction == nil || *exit.Direction != Right {
		t.Errorf("Expected exit direction right, got %v", exit.Direction)
	}
}

func TestUpdate_EntryEdge(t *testing.T) {
	tr := newTestTracker(t, nil)

	_, events := tr.Update([]vision.Detection{person(0), person(300)}, testWidth)
	if len(events) != 2 {
		t.Fatalf("Expected 2 NewPersonEvents, got %d", len(events))
	}

	first := events[0].(NewPersonEvent)
	if first.EntryEdge == nil || *first.EntryEdge != Left {
		t.Errorf("Expected entry edge left for bbox at x=0, got %v", first.EntryEdge)
	}
	second := events[1].(NewPersonEvent)
	if second.EntryEdge != nil {
		t.Errorf("Expected no entry edge for centered bbox, got %v", *second.EntryEdge)
	}
	if first.Meta().TrackID != 1 || second.Meta().TrackID != 2 {
		t.Errorf("Expected monotonically assigned ids 1,2, got %d,%d",
			first.Meta().TrackID, second.Meta().TrackID)
	}
}

func TestUpdate_EdgeEventScenario(t *testing.T) {
	tr := newTestTracker(t, nil)

	// bbox center moves 320 -> 600 over five frames.
	var edges []EdgeEvent
	for _, cx := range []float64{320, 390, 460, 530, 600} {
		_, events := tr.Update([]vision.Detection{person(cx - 40)}, testWidth)
		for _, e := range events {
			if edge, ok := e.(EdgeEvent); ok {
				edges = append(edges, edge)
			}
		}
	}

	if len(edges) == 0 {
		t.Fatal("Expected at least one EdgeEvent by frame 5")
	}
	last := edges[len(edges)-1]
	if last.Position != EdgeRightWarning && last.Position != EdgeRightCritical {
		t.Errorf("Expected right edge event, got %s", last.Position)
	}
	if last.Severity != SeverityCritical {
		t.Errorf("Expected critical severity at the frame edge, got %s", last.Severity)
	}
	if math.Abs(last.CenterFraction-600.0/640) > 1e-9 {
		t.Errorf("Expected center fraction %v, got %v", 600.0/640, last.CenterFraction)
	}
}

func TestUpdate_AssociationFollowsNearest(t *testing.T) {
	tr := newTestTracker(t, nil)
	tr.Update([]vision.Detection{person(100), person(450)}, testWidth)

	// Same people, reversed order and slightly moved.
	state, events := tr.Update([]vision.Detection{person(460), person(110)}, testWidth)
	if countKind(events, KindNewPerson) != 0 {
		t.Fatalf("Expected both detections to match existing tracks")
	}
	if state.Tracks[1].BBox.X != 110 || state.Tracks[2].BBox.X != 460 {
		t.Errorf("Expected tracks to keep identity, got 1@%v 2@%v",
			state.Tracks[1].BBox.X, state.Tracks[2].BBox.X)
	}
}

func TestUpdate_GatingCreatesNewTrack(t *testing.T) {
	tr := newTestTracker(t, nil)
	tr.Update([]vision.Detection{person(0)}, testWidth)

	// 500px jump is beyond the 160px gate.
	state, events := tr.Update([]vision.Detection{person(500)}, testWidth)
	if countKind(events, KindNewPerson) != 1 {
		t.Errorf("Expected a new track beyond the gate")
	}
	if state.Tracks[1].Status != StatusMissing {
		t.Errorf("Expected original track MISSING, got %s", state.Tracks[1].Status)
	}
}

func TestUpdate_InvalidDetectionsIgnored(t *testing.T) {
	tr := newTestTracker(t, nil)
	bad := person(100)
	bad.BBox.W = 0

	state, events := tr.Update([]vision.Detection{bad}, testWidth)
	if len(events) != 0 || len(state.Tracks) != 0 {
		t.Errorf("Expected invalid bbox to be ignored, got %d events", len(events))
	}

	_, events = tr.Update([]vision.Detection{person(100)}, 0)
	if len(events) != 0 {
		t.Errorf("Expected frame without width to be ignored")
	}
}

func TestClassifyEdge(t *testing.T) {
	tests := []struct {
		name string
		box  vision.BBox
		want EdgePosition
	}{
		{"center", vision.BBox{X: 280, W: 80, H: 10}, EdgeCenter},
		{"left critical", vision.BBox{X: 10, W: 80, H: 10}, EdgeLeftCritical},
		{"left warning", vision.BBox{X: 60, W: 80, H: 10}, EdgeLeftWarning},
		{"right critical", vision.BBox{X: 540, W: 80, H: 10}, EdgeRightCritical},
		{"right warning", vision.BBox{X: 500, W: 80, H: 10}, EdgeRightWarning},
		{"full width", vision.BBox{X: 0, W: 640, H: 10}, EdgeLeftCritical},
	}
	for _, tc := range tests {
		if got := ClassifyEdge(tc.box, testWidth, 0.15, 0.05); got != tc.want {
			t.Errorf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestEstimateVelocity(t *testing.T) {
	base := time.Unix(0, 0)
	var history []Sample
	for i := 0; i < 8; i++ {
		history = append(history, Sample{
			X: float64(i * 10),
			Y: 50,
			T: base.Add(time.Duration(i) * 100 * time.Millisecond),
		})
	}

	v := estimateVelocity(history, 5)
	if math.Abs(v.X-100) > 1e-6 || math.Abs(v.Y) > 1e-9 {
		t.Errorf("Expected (100, 0) px/s, got %+v", v)
	}

	if v := estimateVelocity(history[:1], 5); v != (Velocity{}) {
		t.Errorf("Expected zero velocity for a single sample, got %+v", v)
	}
	frozen := []Sample{{X: 0, T: base}, {X: 10, T: base}}
	if v := estimateVelocity(frozen, 5); v != (Velocity{}) {
		t.Errorf("Expected zero velocity without elapsed time, got %+v", v)
	}
}

func TestAttemptReacquisition(t *testing.T) {
	tr := newTestTracker(t, func(c *Config) { c.MissingFrames = 10 })

	tr.Update([]vision.Detection{person(500)}, testWidth)
	tr.Update([]vision.Detection{person(510)}, testWidth)

	if _, err := tr.AttemptReacquisition(1); !errors.Is(err, ErrNotMissing) {
		t.Errorf("Expected ErrNotMissing for an active track, got %v", err)
	}
	if _, err := tr.AttemptReacquisition(42); !errors.Is(err, ErrUnknownTrack) {
		t.Errorf("Expected ErrUnknownTrack, got %v", err)
	}

	tr.Update(nil, testWidth)
	for i := 1; i <= 3; i++ {
		r, err := tr.AttemptReacquisition(1)
		if err != nil {
			t.Fatalf("attempt %d failed: %v", i, err)
		}
		if r.Direction != Right || r.PanDelta != 10 || r.Attempt != i {
			t.Errorf("Expected right +10 attempt %d, got %+v", i, r)
		}
	}
	if _, err := tr.AttemptReacquisition(1); !errors.Is(err, ErrAttemptsExhausted) {
		t.Errorf("Expected ErrAttemptsExhausted after 3 attempts, got %v", err)
	}

	state := tr.State()
	if state.Tracks[1].Status != StatusReacquiring {
		t.Errorf("Expected REACQUIRING, got %s", state.Tracks[1].Status)
	}

	// Exhausted attempts do not skip the debounce.
	tr.Update(nil, testWidth)
	if got := tr.State().Tracks[1].Status; got == StatusLost {
		t.Error("Expected track to stay trackable until the debounce threshold")
	}
}

func TestAttemptReacquisition_NoHint(t *testing.T) {
	tr := newTestTracker(t, nil)
	tr.Update([]vision.Detection{person(280)}, testWidth)
	tr.Update(nil, testWidth)

	if _, err := tr.AttemptReacquisition(1); !errors.Is(err, ErrNoDirectionHint) {
		t.Errorf("Expected ErrNoDirectionHint for a still centered track, got %v", err)
	}
}

func TestPrimaryTargetAndFullSweep(t *testing.T) {
	tr := newTestTracker(t, nil)
	if !tr.ShouldTriggerFullSweep() {
		t.Error("Expected full sweep with empty state")
	}

	tr.Update([]vision.Detection{person(100), person(450)}, testWidth)
	p, ok := tr.PrimaryTarget()
	if !ok || p.ID != 1 {
		t.Fatalf("Expected primary 1, got %v/%v", p.ID, ok)
	}
	if tr.ShouldTriggerFullSweep() {
		t.Error("Expected no full sweep while people are tracked")
	}

	// Track 1 leaves; track 2 stays.
	for i := 0; i < 3; i++ {
		tr.Update([]vision.Detection{person(450)}, testWidth)
	}
	p, ok = tr.PrimaryTarget()
	if !ok || p.ID != 2 {
		t.Errorf("Expected primary re-elected to 2, got %v/%v", p.ID, ok)
	}

	for i := 0; i < 3; i++ {
		tr.Update(nil, testWidth)
	}
	if !tr.ShouldTriggerFullSweep() {
		t.Error("Expected full sweep once every track is LOST")
	}
	if _, ok := tr.PrimaryTarget(); ok {
		t.Error("Expected no primary target once every track is LOST")
	}
}

func TestState_SnapshotIsolation(t *testing.T) {
	tr := newTestTracker(t, nil)
	state, _ := tr.Update([]vision.Detection{person(100)}, testWidth)

	p := state.Tracks[1]
	p.History[0].X = -1
	if tr.State().Tracks[1].History[0].X == -1 {
		t.Error("Expected snapshot history to be a copy")
	}
	if len(state.Trackable()) != 1 {
		t.Errorf("Expected 1 trackable, got %d", len(state.Trackable()))
	}
	if _, ok := state.Primary(); !ok {
		t.Error("Expected state primary")
	}
}

func TestReset(t *testing.T) {
	tr := newTestTracker(t, nil)
	tr.Update([]vision.Detection{person(100)}, testWidth)
	tr.Reset()

	if len(tr.State().Tracks) != 0 {
		t.Error("Expected empty state after reset")
	}
	_, events := tr.Update([]vision.Detection{person(100)}, testWidth)
	if events[0].Meta().TrackID != 2 {
		t.Errorf("Expected ids to keep increasing after reset, got %d", events[0].Meta().TrackID)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"default", func(*Config) {}, true},
		{"zero gate", func(c *Config) { c.GatingRadius = 0 }, false},
		{"warning below critical", func(c *Config) { c.EdgeWarning = 0.01 }, false},
		{"warning too wide", func(c *Config) { c.EdgeWarning = 0.6 }, false},
		{"no debounce", func(c *Config) { c.MissingFrames = 0 }, false},
		{"short window", func(c *Config) { c.VelocityWindow = 1 }, false},
		{"history under window", func(c *Config) { c.HistorySize = 2 }, false},
	}
	for _, tc := range tests {
		cfg := DefaultConfig()
		tc.mutate(&cfg)
		err := cfg.Validate()
		if tc.ok && err != nil {
			t.Errorf("%s: expected valid, got %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%s: expected ErrInvalidConfig, got %v", tc.name, err)
		}
	}
}
