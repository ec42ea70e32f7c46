package vision

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

func TestBBox_Center(t *testing.T) {
	b := BBox{X: 100, Y: 50, W: 40, H: 80}
	x, y := b.Center()
	if x != 120 || y != 90 {
		t.Errorf("Center: got (%.1f, %.1f), want (120, 90)", x, y)
	}
}

func TestBBox_Valid(t *testing.T) {
	tests := []struct {
		name string
		box  BBox
		want bool
	}{
		{"normal", BBox{0, 0, 10, 10}, true},
		{"zero width", BBox{0, 0, 0, 10}, false},
		{"negative height", BBox{0, 0, 10, -1}, false},
		{"nan", BBox{math.NaN(), 0, 10, 10}, false},
		{"inf", BBox{0, 0, math.Inf(1), 10}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.box.Valid(); got != tc.want {
				t.Errorf("Valid: got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestWorldAngle(t *testing.T) {
	tests := []struct {
		name  string
		box   BBox
		pan   float64
		want  float64
	}{
		{"centered", BBox{X: 600, W: 80}, 90, 90},
		{"right edge", BBox{X: 1240, W: 80}, 90, 90 + 640*66.0/1280},
		{"left edge", BBox{X: -40, W: 80}, 90, 90 - 640*66.0/1280},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := WorldAngle(tc.box, tc.pan, 66, 1280)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("WorldAngle: got %.3f, want %.3f", got, tc.want)
			}
		})
	}

	if got := WorldAngle(BBox{X: 10, W: 10}, 45, 66, 0); got != 45 {
		t.Errorf("Expected pan for zero frame width, got %v", got)
	}
}

func TestFilterPeople(t *testing.T) {
	dets := []Detection{
		{Label: "person", Confidence: 0.9, BBox: BBox{0, 0, 10, 10}},
		{Label: "person", Confidence: 0.3, BBox: BBox{0, 0, 10, 10}},
		{Label: "dog", Confidence: 0.95, BBox: BBox{0, 0, 10, 10}},
		{Label: "person", Confidence: 0.8, BBox: BBox{0, 0, 0, 10}},
		{Label: "", Confidence: 0.8, BBox: BBox{0, 0, 10, 10}},
		{Label: "person", Confidence: math.NaN(), BBox: BBox{0, 0, 10, 10}},
		{Label: "person", Confidence: 0.5, BBox: BBox{0, 0, 10, 10}},
	}

	people := FilterPeople(dets, 0.5)
	if len(people) != 2 {
		t.Fatalf("Expected 2 people, got %d", len(people))
	}
	if people[0].Confidence != 0.9 || people[1].Confidence != 0.5 {
		t.Errorf("Unexpected people kept: %+v", people)
	}
}

func TestAssociateFaces(t *testing.T) {
	person := BBox{X: 100, Y: 100, W: 200, H: 400}
	faces := []BBox{
		{X: 180, Y: 110, W: 40, H: 40}, // inside
		{X: 500, Y: 110, W: 40, H: 40}, // outside
		{X: 280, Y: 90, W: 30, H: 30},  // center just inside top-right corner
	}

	got := AssociateFaces(person, faces)
	if len(got) != 2 {
		t.Fatalf("Expected 2 associated faces, got %d", len(got))
	}
}

func TestPrioritize(t *testing.T) {
	dets := []Detection{
		{Confidence: 0.9},
		{Confidence: 0.6, Faces: []BBox{{W: 1, H: 1}}},
		{Confidence: 0.95},
		{Confidence: 0.7, Faces: []BBox{{W: 1, H: 1}}},
	}

	got := Prioritize(dets)
	want := []float64{0.7, 0.6, 0.95, 0.9}
	for i, w := range want {
		if got[i].Confidence != w {
			t.Errorf("Position %d: got %.2f, want %.2f", i, got[i].Confidence, w)
		}
	}
	if dets[0].Confidence != 0.9 {
		t.Error("Expected input slice untouched")
	}
}

func TestScriptedCamera_ReplaysAndFills(t *testing.T) {
	now := time.Unix(1000, 0)
	cam := NewScriptedCamera(1280, 720, Frame{
		Detections: []Detection{{Label: "person", Confidence: 0.9, BBox: BBox{X: 600, Y: 100, W: 80, H: 300}}},
		Faces:      []BBox{{X: 620, Y: 110, W: 40, H: 40}},
	})
	cam.FOV = 66
	cam.Now = func() time.Time { return now }

	frame, err := cam.Capture(context.Background(), 45)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if frame.Width != 1280 || frame.Height != 720 {
		t.Errorf("Expected frame size filled, got %dx%d", frame.Width, frame.Height)
	}
	d := frame.Detections[0]
	if d.PanAngle != 45 || d.WorldAngle != 45 {
		t.Errorf("Expected pan/world 45, got %.1f/%.1f", d.PanAngle, d.WorldAngle)
	}
	if !d.Timestamp.Equal(now) {
		t.Errorf("Expected timestamp filled")
	}
	if len(d.Faces) != 1 {
		t.Errorf("Expected face associated, got %d", len(d.Faces))
	}

	// Script exhausted: empty frame
	frame, err = cam.Capture(context.Background(), 50)
	if err != nil || len(frame.Detections) != 0 {
		t.Errorf("Expected empty frame after script, got %v, %v", frame, err)
	}

	cam.StrictEnd = true
	if _, err := cam.Capture(context.Background(), 50); !errors.Is(err, ErrNoFrame) {
		t.Errorf("Expected ErrNoFrame, got %v", err)
	}
	if cam.Calls() != 3 {
		t.Errorf("Expected 3 calls, got %d", cam.Calls())
	}
}

func TestScriptedCamera_FailAt(t *testing.T) {
	boom := errors.New("frame drop")
	cam := NewScriptedCamera(640, 480, Frame{}, Frame{})
	cam.FailAt(0, boom)

	if _, err := cam.Capture(context.Background(), 0); !errors.Is(err, boom) {
		t.Errorf("Expected injected error, got %v", err)
	}
	if _, err := cam.Capture(context.Background(), 0); err != nil {
		t.Errorf("Expected second capture to succeed, got %v", err)
	}
}
