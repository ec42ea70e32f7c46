package scanner

import (
	"time"

	"github.com/teslashibe/go-panscan/pkg/tracking"
	"github.com/teslashibe/go-panscan/pkg/watch"
)

// Mode is the control loop state.
type Mode string

const (
	ModeScan  Mode = "scan"
	ModeWatch Mode = "watch"
)

// ModeChange describes a SCAN/WATCH transition.
type ModeChange struct {
	From    Mode       `json:"from"`
	To      Mode       `json:"to"`
	Session string     `json:"session,omitempty"`
	Reason  string     `json:"reason"`
	Pose    watch.Pose `json:"pose"`
	At      time.Time  `json:"at"`
}

// Notifier receives mode changes and tracking events as they happen.
// Implementations must not block the control loop.
type Notifier interface {
	ModeChanged(ModeChange)
	TrackingEvent(session string, e tracking.Event)
}

// MultiNotifier fans out to several notifiers in order.
type MultiNotifier []Notifier

func (m MultiNotifier) ModeChanged(c ModeChange) {
	for _, n := range m {
		if n != nil {
			n.ModeChanged(c)
		}
	}
}

func (m MultiNotifier) TrackingEvent(session string, e tracking.Event) {
	for _, n := range m {
		if n != nil {
			n.TrackingEvent(session, e)
		}
	}
}

type nopNotifier struct{}

func (nopNotifier) ModeChanged(ModeChange) {}
func (nopNotifier) TrackingEvent(string, tracking.Event) {}
