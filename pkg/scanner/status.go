package scanner

import (
	"time"

	"github.com/teslashibe/go-panscan/pkg/watch"
)

// TrackSummary is the status view of one tracked person.
type TrackSummary struct {
	ID         int     `json:"id"`
	Status     string  `json:"status"`
	Edge       string  `json:"edge"`
	WorldAngle float64 `json:"world_angle"`
	Confidence float64 `json:"confidence"`
}

// Status is a point-in-time view of the loop for the status API.
type Status struct {
	Mode            Mode           `json:"mode"`
	Session         string         `json:"session,omitempty"`
	Pose            watch.Pose     `json:"pose"`
	PrimaryTarget   int            `json:"primary_target,omitempty"`
	Tracks          []TrackSummary `json:"tracks"`
	Sweeps          int            `json:"sweeps"`
	LastSweep       time.Time      `json:"last_sweep,omitempty"`
	WatchSince      time.Time      `json:"watch_since,omitempty"`
	CaptureFailures int            `json:"capture_failures"`
	HeatBuckets     int            `json:"heat_buckets"`
}

// Status returns a snapshot safe to serialize.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	st := Status{
		Mode:            o.mode,
		Session:         o.session,
		Pose:            watch.Pose{Pan: round1(o.pose.Pan), Tilt: round1(o.pose.Tilt)},
		Sweeps:          o.sweeps,
		LastSweep:       o.lastSweep,
		CaptureFailures: o.captureFailures,
	}
	if o.mode == ModeWatch {
		st.WatchSince = o.watchSince
	}
	o.mu.RUnlock()

	st.HeatBuckets = o.deps.HeatMap.Len()
	st.Tracks = []TrackSummary{}
	if st.Mode != ModeWatch {
		return st
	}

	state := o.tracker.State()
	st.PrimaryTarget = state.PrimaryTargetID
	for _, p := range state.Trackable() {
		st.Tracks = append(st.Tracks, TrackSummary{
			ID:         p.ID,
			Status:     string(p.Status),
			Edge:       string(p.Edge),
			WorldAngle: round1(p.WorldAngle),
			Confidence: p.Confidence,
		})
	}
	return st
}
