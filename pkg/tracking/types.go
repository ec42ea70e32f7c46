package tracking

import (
	"time"

	"github.com/teslashibe/go-panscan/pkg/vision"
)

// Status is a track's lifecycle state.
type Status string

const (
	StatusNew         Status = "new"
	StatusActive      Status = "active"
	StatusMissing     Status = "missing"
	StatusReacquiring Status = "reacquiring"
	StatusLost        Status = "lost"
)

// Trackable reports whether the track is still being followed.
func (s Status) Trackable() bool {
	switch s {
	case StatusNew, StatusActive, StatusMissing, StatusReacquiring:
		return true
	}
	return false
}

// Direction is a horizontal side of the frame. Pan increases toward Right.
type Direction string

const (
	Left  Direction = "left"
	Right Direction = "right"
)

// Sign returns -1 for Left, +1 for Right.
func (d Direction) Sign() float64 {
	if d == Left {
		return -1
	}
	return 1
}

func dirPtr(d Direction) *Direction { return &d }

// Severity orders edge proximity.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	}
	return "none"
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// EdgePosition classifies where a bbox sits relative to the frame edges.
type EdgePosition string

const (
	EdgeCenter        EdgePosition = "center"
	EdgeLeftWarning   EdgePosition = "left_warning"
	EdgeLeftCritical  EdgePosition = "left_critical"
	EdgeRightWarning  EdgePosition = "right_warning"
	EdgeRightCritical EdgePosition = "right_critical"
)

// Severity returns how close to the edge the position is.
func (e EdgePosition) Severity() Severity {
	switch e {
	case EdgeLeftCritical, EdgeRightCritical:
		return SeverityCritical
	case EdgeLeftWarning, EdgeRightWarning:
		return SeverityWarning
	}
	return SeverityNone
}

// Side returns the frame side, or nil for center.
func (e EdgePosition) Side() *Direction {
	switch e {
	case EdgeLeftWarning, EdgeLeftCritical:
		return dirPtr(Left)
	case EdgeRightWarning, EdgeRightCritical:
		return dirPtr(Right)
	}
	return nil
}

// Sample is one timestamped bbox center.
type Sample struct {
	X, Y float64
	T    time.Time
}

// Velocity is in pixels per second.
type Velocity struct {
	X, Y float64
}

// TrackedPerson is one followed individual.
type TrackedPerson struct {
	ID                    int
	BBox                  vision.BBox
	History               []Sample
	Status                Status
	MissingFrames         int
	EntryEdge             *Direction
	ExitDirection         *Direction
	ReacquisitionAttempts int
	Edge                  EdgePosition
	Velocity              Velocity
	WorldAngle            float64
	Confidence            float64
	FirstSeen             time.Time
	LastSeen              time.Time
}

func (p *TrackedPerson) clone() TrackedPerson {
	c := *p
	c.History = append([]Sample(nil), p.History...)
	if p.EntryEdge != nil {
		c.EntryEdge = dirPtr(*p.EntryEdge)
	}
	if p.ExitDirection != nil {
		c.ExitDirection = dirPtr(*p.ExitDirection)
	}
	return c
}

// State is a snapshot of every track in a session. Track ids start at 1;
// PrimaryTargetID is 0 when there is no trackable person.
type State struct {
	Tracks          map[int]TrackedPerson
	PrimaryTargetID int
	Frame           int
}

// Primary returns the primary target, if any.
func (s State) Primary() (TrackedPerson, bool) {
	p, ok := s.Tracks[s.PrimaryTargetID]
	return p, ok && s.PrimaryTargetID != 0
}

// Trackable returns every non-LOST track ordered by id.
func (s State) Trackable() []TrackedPerson {
	out := make([]TrackedPerson, 0, len(s.Tracks))
	for _, p := range s.Tracks {
		if p.Status.Trackable() {
			out = append(out, p)
		}
	}
	sortByID(out)
	return out
}

// EventKind tags an Event variant.
type EventKind string

const (
	KindEdge      EventKind = "edge"
	KindExit      EventKind = "exit"
	KindNewPerson EventKind = "new_person"
)

// Header carries the fields every event shares.
type Header struct {
	Timestamp  time.Time `json:"timestamp"`
	TrackID    int       `json:"track_id"`
	WorldAngle float64   `json:"world_angle"`
	Confidence float64   `json:"confidence"`
}

// Meta returns the shared fields.
func (h Header) Meta() Header { return h }

// Event is one of EdgeEvent, ExitEvent or NewPersonEvent.
type Event interface {
	Kind() EventKind
	Meta() Header
}

// EdgeEvent reports a track near a frame edge.
type EdgeEvent struct {
	Header
	Position       EdgePosition `json:"position"`
	Severity       Severity     `json:"severity"`
	CenterFraction float64      `json:"center_fraction"` // bbox center x / frame width
}

func (EdgeEvent) Kind() EventKind { return KindEdge }

// ExitEvent reports a track confirmed LOST. Direction is nil when the track
// vanished away from the edges.
type ExitEvent struct {
	Header
	Direction *Direction `json:"direction,omitempty"`
}

func (ExitEvent) Kind() EventKind { return KindExit }

// NewPersonEvent reports a new track. EntryEdge is set when it appeared in a
// critical edge zone.
type NewPersonEvent struct {
	Header
	EntryEdge *Direction `json:"entry_edge,omitempty"`
}

func (NewPersonEvent) Kind() EventKind { return KindNewPerson }
