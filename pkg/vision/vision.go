// Package vision defines what the camera collaborator hands to the scanner:
// per-frame person detections in pixel space, tagged with the pan angle the
// frame was captured at and the derived world angle.
package vision

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"
)

// PersonLabel is the only label the scanner acts on.
const PersonLabel = "person"

// ErrNoFrame is returned by cameras that have nothing to deliver.
var ErrNoFrame = errors.New("vision: no frame available")

// BBox is an axis-aligned box in pixel space (top-left origin).
type BBox struct {
	X, Y, W, H float64
}

// Center returns the center point of the box.
func (b BBox) Center() (x, y float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Valid reports whether the box has a positive, finite size.
func (b BBox) Valid() bool {
	for _, v := range []float64{b.X, b.Y, b.W, b.H} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.W > 0 && b.H > 0
}

// Contains reports whether the point lies inside the box (edges inclusive).
func (b BBox) Contains(x, y float64) bool {
	return x >= b.X && x <= b.X+b.W && y >= b.Y && y <= b.Y+b.H
}

// Detection is one observation produced by the vision collaborator.
type Detection struct {
	Label      string
	Confidence float64
	BBox       BBox
	PanAngle   float64   // servo pan at capture time (degrees)
	WorldAngle float64   // PanAngle adjusted for the pixel offset in frame
	Timestamp  time.Time
	Faces      []BBox // faces whose center falls inside BBox
}

// Frame is everything captured at one camera tick.
type Frame struct {
	Width      int
	Height     int
	Detections []Detection
	Faces      []BBox
	Timestamp  time.Time
}

// Camera is the frame source the scanner awaits on every step.
// pan is the pan angle the caller believes the camera is at; it is used to
// compute each detection's world angle.
type Camera interface {
	Capture(ctx context.Context, pan float64) (Frame, error)
}

// WorldAngle converts a box's horizontal position into a world pan angle.
// Positive offsets (right of frame center) increase the angle.
func WorldAngle(b BBox, pan, fovDegrees float64, frameWidth int) float64 {
	if frameWidth <= 0 {
		return pan
	}
	cx, _ := b.Center()
	offset := cx - float64(frameWidth)/2
	return pan + offset*fovDegrees/float64(frameWidth)
}

// Sanitize drops records that are missing required fields: an empty label,
// a non-finite confidence or a degenerate box.
func Sanitize(dets []Detection) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.Label == "" || math.IsNaN(d.Confidence) || math.IsInf(d.Confidence, 0) {
			continue
		}
		if !d.BBox.Valid() {
			continue
		}
		out = append(out, d)
	}
	return out
}

// FilterPeople keeps well-formed person detections at or above threshold.
func FilterPeople(dets []Detection, threshold float64) []Detection {
	var people []Detection
	for _, d := range Sanitize(dets) {
		if d.Label != PersonLabel || d.Confidence < threshold {
			continue
		}
		people = append(people, d)
	}
	return people
}

// AssociateFaces returns the faces whose center lies within the person box.
func AssociateFaces(person BBox, faces []BBox) []BBox {
	var out []BBox
	for _, f := range faces {
		cx, cy := f.Center()
		if person.Contains(cx, cy) {
			out = append(out, f)
		}
	}
	return out
}

// Prioritize orders detections face-confirmed first, then by confidence.
// The input slice is not modified.
func Prioritize(dets []Detection) []Detection {
	out := make([]Detection, len(dets))
	copy(out, dets)
	sort.SliceStable(out, func(i, j int) bool {
		fi, fj := len(out[i].Faces) > 0, len(out[j].Faces) > 0
		if fi != fj {
			return fi
		}
		return out[i].Confidence > out[j].Confidence
	})
	return out
}
