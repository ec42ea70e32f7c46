package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-panscan/internal/log"
	"github.com/teslashibe/go-panscan/pkg/heatmap"
	"github.com/teslashibe/go-panscan/pkg/position"
	"github.com/teslashibe/go-panscan/pkg/scan"
	"github.com/teslashibe/go-panscan/pkg/servo"
	"github.com/teslashibe/go-panscan/pkg/tracking"
	"github.com/teslashibe/go-panscan/pkg/vision"
	"github.com/teslashibe/go-panscan/pkg/watch"
)

// Deps are the collaborators the orchestrator drives.
type Deps struct {
	Camera   vision.Camera    // required
	Servo    servo.Controller // required
	HeatMap  *heatmap.HeatMap // nil creates an empty map
	Store    heatmap.Store    // nil disables persistence
	Notifier Notifier         // nil discards notifications
	Clock    func() time.Time
	// Sleep waits between loop iterations; it returns early with ctx.Err()
	// on cancellation.
	Sleep func(ctx context.Context, d time.Duration) error
}

// SweepResult describes one SCAN pass.
type SweepResult struct {
	Visited []float64          // pan angles captured, in order
	Tier    string             // tier that found people
	People  []vision.Detection // prioritized detections that ended the sweep
	Target  position.Result    // framing chosen for People
	Pose    watch.Pose         // pose after the sweep
	Session string             // WATCH session started, if any
}

// Found reports whether the sweep ended early on people.
func (r SweepResult) Found() bool {
	return len(r.People) > 0
}

// WatchResult describes one WATCH step.
type WatchResult struct {
	Events  []tracking.Event
	Pose    watch.Pose
	Skipped bool   // capture failed; nothing was tracked
	Ended   bool   // the step returned the loop to SCAN
	Reason  string // why the session ended
}

// Orchestrator alternates between sweeping the room and watching the people
// it found.
type Orchestrator struct {
	cfg     Config
	deps    Deps
	planner *scan.Planner
	calc    *position.Calculator
	tracker *tracking.EventTracker
	watch   *watch.Controller
	logger  *slog.Logger

	mu              sync.RWMutex
	mode            Mode
	pose            watch.Pose
	session         string
	watchSince      time.Time
	captureFailures int
	sawTrack        bool // the session has tracked someone
	idleFrames      int  // frames without anyone before the first track
	seeded          bool // the next watch frame re-sights people the sweep already counted
	sweeps          int
	lastSweep       time.Time
}

// New wires an orchestrator. It starts in SCAN mode at the servo centers.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Camera == nil {
		return nil, fmt.Errorf("%w: camera", ErrMissingDependency)
	}
	if deps.Servo == nil {
		return nil, fmt.Errorf("%w: servo", ErrMissingDependency)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Sleep == nil {
		deps.Sleep = sleepContext
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.HeatMap == nil {
		hc := cfg.HeatMap
		hc.PanMin, hc.PanMax = cfg.Servo.Pan.Min, cfg.Servo.Pan.Max
		hc.Clock = deps.Clock
		deps.HeatMap = heatmap.New(hc)
	}

	sc := cfg.Scan
	sc.FOV = cfg.FOV
	sc.PanMin, sc.PanMax = cfg.Servo.Pan.Min, cfg.Servo.Pan.Max
	planner, err := scan.NewPlanner(sc)
	if err != nil {
		return nil, fmt.Errorf("scan planner: %w", err)
	}

	tc := cfg.Tracking
	if tc.Clock == nil {
		tc.Clock = deps.Clock
	}

	wc := cfg.Watch
	wc.FOV, wc.VerticalFOV = cfg.FOV, cfg.VerticalFOV
	wc.PanMin, wc.PanMax = cfg.Servo.Pan.Min, cfg.Servo.Pan.Max
	wc.TiltMin, wc.TiltMax = cfg.Servo.Tilt.Min, cfg.Servo.Tilt.Max

	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		planner: planner,
		calc:    position.NewCalculator(cfg.positionConfig()),
		tracker: tracking.NewEventTracker(tc),
		watch:   watch.NewController(wc),
		logger:  log.Component("scanner"),
		mode:    ModeScan,
		pose:    watch.Pose{Pan: cfg.Servo.Pan.Center, Tilt: cfg.Servo.Tilt.Center},
	}, nil
}

// HeatMap returns the map the orchestrator records into.
func (o *Orchestrator) HeatMap() *heatmap.HeatMap {
	return o.deps.HeatMap
}

// Tracker returns the WATCH session tracker.
func (o *Orchestrator) Tracker() *tracking.EventTracker {
	return o.tracker
}

// Mode returns the current loop state.
func (o *Orchestrator) Mode() Mode {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.mode
}

// Pose returns the last commanded pan/tilt.
func (o *Orchestrator) Pose() watch.Pose {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.pose
}

// Run drives the loop until ctx is canceled, then persists the heat map.
// Cancellation is a clean stop and returns nil.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("scanner started", "mode", o.Mode())
	defer func() {
		o.persist(context.WithoutCancel(ctx))
		o.logger.Info("scanner stopped")
	}()

	for ctx.Err() == nil {
		var wait time.Duration
		switch o.Mode() {
		case ModeWatch:
			if _, err := o.WatchStep(ctx); err != nil && !errors.Is(err, ErrNotWatching) {
				o.logger.Warn("watch step failed", "error", err)
			}
			wait = o.cfg.WatchInterval
		default:
			res, err := o.ScanOnce(ctx)
			if err != nil && ctx.Err() == nil {
				o.logger.Warn("sweep failed", "error", err)
			}
			if !res.Found() {
				wait = o.cfg.ScanInterval
			}
		}
		if wait > 0 {
			if err := o.deps.Sleep(ctx, wait); err != nil {
				break
			}
		}
	}
	return nil
}

// ScanOnce runs one sweep. It stops at the first position with a qualifying
// person, frames the group and enters WATCH; an empty sweep returns the
// camera to center and stays in SCAN.
func (o *Orchestrator) ScanOnce(ctx context.Context) (SweepResult, error) {
	o.setMode(ModeScan, "sweep", "")
	o.tracker.Reset()

	now := o.deps.Clock()
	o.deps.HeatMap.Decay(now)
	tiers := o.planner.Plan(o.deps.HeatMap)

	var res SweepResult
	for _, tier := range tiers {
		for _, pan := range tier.Positions {
			if err := ctx.Err(); err != nil {
				return res, err
			}

			err := servo.MoveAndSettle(ctx, o.deps.Servo, servo.Pan, pan,
				o.cfg.Servo.Speed, o.cfg.Servo.Settle, o.cfg.Servo.MoveTimeout)
			if err != nil {
				if ctx.Err() != nil {
					return res, ctx.Err()
				}
				o.logger.Warn("scan move failed, skipping position", "pan", pan, "error", err)
				continue
			}
			o.setPose(watch.Pose{Pan: pan, Tilt: o.Pose().Tilt})

			res.Visited = append(res.Visited, pan)
			frame, people, err := o.observe(ctx, pan)
			if err != nil {
				if ctx.Err() != nil {
					return res, ctx.Err()
				}
				o.logger.Warn("capture failed, skipping position", "pan", pan, "error", err)
				continue
			}
			o.logger.Debug("scan position", "tier", tier.Name, "pan", pan, "people", len(people))
			if len(people) == 0 {
				continue
			}

			res.Tier = tier.Name
			if err := o.handlePeopleFound(ctx, &res, frame, people, pan); err != nil {
				return res, err
			}
			return res, nil
		}
	}

	o.handleNoPeople(ctx, &res)
	return res, nil
}

// observe captures at pan until every person has been seen in
// MinSeenFrames consecutive frames, and returns the last frame with the
// persons that qualified. A person missing from any frame is dropped, so a
// one-frame blip never stops a sweep.
func (o *Orchestrator) observe(ctx context.Context, pan float64) (vision.Frame, []vision.Detection, error) {
	var (
		frame  vision.Frame
		people []vision.Detection
	)
	for seen := 0; seen < max(o.cfg.MinSeenFrames, 1); seen++ {
		f, err := o.deps.Camera.Capture(ctx, pan)
		if err != nil {
			return frame, nil, err
		}
		current := o.people(f, pan)
		if seen > 0 {
			current = persisting(people, current)
		}
		frame, people = f, current
		if len(people) == 0 {
			break
		}
	}
	return frame, people, nil
}

// persisting keeps the detections in current that overlap one in prev by
// center: within half the larger box on each axis.
func persisting(prev, current []vision.Detection) []vision.Detection {
	var out []vision.Detection
	for _, c := range current {
		cx, cy := c.BBox.Center()
		for _, p := range prev {
			px, py := p.BBox.Center()
			if math.Abs(cx-px) <= math.Max(c.BBox.W, p.BBox.W)/2 &&
				math.Abs(cy-py) <= math.Max(c.BBox.H, p.BBox.H)/2 {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// people filters a frame down to qualifying persons with world angles
// computed for pan.
func (o *Orchestrator) people(frame vision.Frame, pan float64) []vision.Detection {
	width := o.frameWidth(frame)
	people := vision.FilterPeople(frame.Detections, o.cfg.ConfidenceThreshold)
	for i := range people {
		people[i].PanAngle = pan
		people[i].WorldAngle = vision.WorldAngle(people[i].BBox, pan, o.cfg.FOV, width)
		if len(people[i].Faces) == 0 && len(frame.Faces) > 0 {
			people[i].Faces = vision.AssociateFaces(people[i].BBox, frame.Faces)
		}
	}
	return people
}

func (o *Orchestrator) frameWidth(f vision.Frame) int {
	if f.Width > 0 {
		return f.Width
	}
	return o.cfg.FrameWidth
}

func (o *Orchestrator) frameHeight(f vision.Frame) int {
	if f.Height > 0 {
		return f.Height
	}
	return o.cfg.FrameHeight
}

func (o *Orchestrator) handlePeopleFound(ctx context.Context, res *SweepResult, frame vision.Frame, people []vision.Detection, pan float64) error {
	for _, d := range people {
		o.deps.HeatMap.RecordEvent(d.WorldAngle, heatmap.EventDetection, d.Confidence)
	}
	people = vision.Prioritize(people)
	res.People = people

	target, err := o.calc.CalculateDetections(people, pan)
	if err != nil {
		return err
	}
	res.Target = target

	tilt := target.Tilt
	if nudge, ok := groupTiltNudge(people, o.frameHeight(frame), o.cfg.VerticalFOV, o.cfg.MaxTiltNudge); ok {
		tilt = o.cfg.Servo.Tilt.Clamp(tilt + nudge)
		o.logger.Info("face tilt nudge", "tilt", tilt, "nudge", nudge)
	}

	o.logger.Info("people found",
		"count", len(people),
		"tier", res.Tier,
		"scan_pan", pan,
		"target_pan", target.Pan,
		"framed", target.Count)

	if err := servo.MoveAndSettle(ctx, o.deps.Servo, servo.Pan, target.Pan,
		o.cfg.Servo.Speed, o.cfg.Servo.Settle, o.cfg.Servo.MoveTimeout); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.logger.Warn("framing move failed, watching from scan position", "error", err)
		target.Pan = pan
	}
	if err := o.deps.Servo.SetAngle(servo.Tilt, tilt); err != nil {
		o.logger.Warn("tilt move failed", "error", err)
		tilt = o.Pose().Tilt
	}

	pose := watch.Pose{Pan: target.Pan, Tilt: tilt}
	o.setPose(pose)
	res.Pose = pose
	o.persist(ctx)

	o.mu.Lock()
	o.sweeps++
	o.lastSweep = o.deps.Clock()
	o.session = uuid.NewString()
	o.watchSince = o.lastSweep
	o.captureFailures = 0
	o.sawTrack = false
	o.idleFrames = 0
	o.seeded = true
	session := o.session
	o.mu.Unlock()

	res.Session = session
	o.setMode(ModeWatch, "people found", session)
	return nil
}

func (o *Orchestrator) handleNoPeople(ctx context.Context, res *SweepResult) {
	o.logger.Info("no people found, returning to center", "positions", len(res.Visited))
	if err := servo.Center(o.deps.Servo, o.cfg.Servo); err != nil {
		o.logger.Warn("centering failed", "error", err)
	}
	pose := watch.Pose{Pan: o.cfg.Servo.Pan.Center, Tilt: o.cfg.Servo.Tilt.Center}
	o.setPose(pose)
	res.Pose = pose
	o.persist(ctx)

	o.mu.Lock()
	o.sweeps++
	o.lastSweep = o.deps.Clock()
	o.mu.Unlock()
}

// WatchStep processes one frame of a WATCH session.
func (o *Orchestrator) WatchStep(ctx context.Context) (WatchResult, error) {
	o.mu.RLock()
	mode, session, since, pose := o.mode, o.session, o.watchSince, o.pose
	o.mu.RUnlock()
	if mode != ModeWatch {
		return WatchResult{Pose: pose}, ErrNotWatching
	}

	res := WatchResult{Pose: pose}
	now := o.deps.Clock()
	if o.cfg.MaxWatchDuration > 0 && now.Sub(since) >= o.cfg.MaxWatchDuration {
		o.endWatch(&res, "watch timeout")
		return res, nil
	}

	frame, err := o.deps.Camera.Capture(ctx, pose.Pan)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Skipped = true
		o.mu.Lock()
		o.captureFailures++
		failures := o.captureFailures
		o.mu.Unlock()
		o.logger.Warn("watch capture failed", "error", err, "consecutive", failures)
		if failures >= o.cfg.MaxCaptureFailures {
			o.endWatch(&res, "capture failures")
		}
		return res, nil
	}
	o.mu.Lock()
	o.captureFailures = 0
	seeded := o.seeded
	o.seeded = false
	o.mu.Unlock()

	width := o.frameWidth(frame)
	people := o.people(frame, pose.Pan)
	state, events := o.tracker.Update(people, width)
	res.Events = events

	for _, e := range events {
		if _, sighting := e.(tracking.NewPersonEvent); !(seeded && sighting) {
			o.recordEvent(e)
		}
		o.deps.Notifier.TrackingEvent(session, e)
	}

	newPan := o.correction(pose.Pan, state, events, float64(width))
	if newPan != pose.Pan {
		if err := o.deps.Servo.SetAngle(servo.Pan, newPan); err != nil {
			o.logger.Warn("watch pan failed", "error", err)
		} else {
			pose.Pan = newPan
			o.setPose(pose)
		}
	}
	res.Pose = pose

	if reason, done := o.sessionOver(state); done {
		o.endWatch(&res, reason)
	}
	return res, nil
}

// recordEvent feeds entries and exits into the heat map.
func (o *Orchestrator) recordEvent(e tracking.Event) {
	m := e.Meta()
	switch ev := e.(type) {
	case tracking.NewPersonEvent:
		kind := heatmap.EventDetection
		if ev.EntryEdge != nil {
			kind = heatmap.EventEntry
		}
		o.deps.HeatMap.RecordEvent(m.WorldAngle, kind, m.Confidence)
	case tracking.ExitEvent:
		o.deps.HeatMap.RecordEvent(m.WorldAngle, heatmap.EventExit, m.Confidence)
	}
}

// correction picks the pan for the next frame: edge pressure on the primary
// target first, then gentle centering, then a reacquisition nudge.
func (o *Orchestrator) correction(pan float64, state tracking.State, events []tracking.Event, width float64) float64 {
	primary, ok := state.Primary()
	if !ok {
		return pan
	}

	var edge *tracking.EdgeEvent
	for _, e := range events {
		if ee, ok := e.(tracking.EdgeEvent); ok && ee.TrackID == primary.ID {
			if edge == nil || ee.Severity > edge.Severity {
				edge = &ee
			}
		}
	}
	if edge != nil {
		next := o.watch.PanToKeepInFrame(pan, edge.CenterFraction, edge.Severity)
		o.logger.Debug("edge correction", "track", primary.ID, "edge", edge.Position, "pan", next)
		return next
	}

	switch primary.Status {
	case tracking.StatusActive, tracking.StatusNew:
		if primary.MissingFrames > 0 || width <= 0 {
			return pan
		}
		cx, _ := primary.BBox.Center()
		return o.watch.PanToKeepInFrame(pan, cx/width, tracking.SeverityNone)
	case tracking.StatusMissing, tracking.StatusReacquiring:
		r, err := o.tracker.AttemptReacquisition(primary.ID)
		if err != nil {
			o.logger.Debug("no reacquisition nudge", "track", primary.ID, "reason", err)
			return pan
		}
		return o.cfg.Servo.Pan.Clamp(pan + r.PanDelta)
	}
	return pan
}

// sessionOver reports whether WATCH should hand back to SCAN. A session that
// never tracked anyone gets the missing frame debounce before giving up.
func (o *Orchestrator) sessionOver(state tracking.State) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(state.Tracks) > 0 {
		o.sawTrack = true
	}
	if !o.tracker.ShouldTriggerFullSweep() {
		o.idleFrames = 0
		return "", false
	}
	if o.sawTrack {
		return "everyone left", true
	}
	o.idleFrames++
	if o.idleFrames >= o.cfg.Tracking.MissingFrames {
		return "nobody in view", true
	}
	return "", false
}

func (o *Orchestrator) endWatch(res *WatchResult, reason string) {
	res.Ended = true
	res.Reason = reason
	o.persist(context.Background())
	o.setMode(ModeScan, reason, "")
}

// persist saves the heat map; failures only warn.
func (o *Orchestrator) persist(ctx context.Context) {
	if o.deps.Store == nil {
		return
	}
	if err := heatmap.Save(ctx, o.deps.Store, o.deps.HeatMap); err != nil {
		o.logger.Warn("heat map save failed", "error", err)
	}
}

func (o *Orchestrator) setPose(p watch.Pose) {
	o.mu.Lock()
	o.pose = p
	o.mu.Unlock()
}

// setMode switches mode and notifies on change.
func (o *Orchestrator) setMode(m Mode, reason, session string) {
	o.mu.Lock()
	prev := o.mode
	o.mode = m
	if m == ModeScan {
		o.session = ""
	}
	pose := o.pose
	o.mu.Unlock()

	if prev == m {
		return
	}
	o.logger.Info("mode changed", "from", prev, "to", m, "reason", reason, "session", session)
	o.deps.Notifier.ModeChanged(ModeChange{
		From:    prev,
		To:      m,
		Session: session,
		Reason:  reason,
		Pose:    pose,
		At:      o.deps.Clock(),
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// round1 rounds to 0.1° for status output.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
