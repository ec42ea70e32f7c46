package scan

import (
	"errors"
	"math"
	"testing"
)

func TestCalculatePositions_Coverage(t *testing.T) {
	positions, err := CalculatePositions(60, 10, 0, 180)
	if err != nil {
		t.Fatalf("CalculatePositions failed: %v", err)
	}

	want := []float64{0, 50, 100, 150, 180}
	if len(positions) != len(want) {
		t.Fatalf("Expected %v, got %v", want, positions)
	}
	for i := range want {
		if math.Abs(positions[i]-want[i]) > 1e-9 {
			t.Errorf("Expected %v, got %v", want, positions)
			break
		}
	}

	for a := 0.0; a <= 180; a += 0.5 {
		covered := false
		for _, p := range positions {
			if math.Abs(a-p) <= 30 {
				covered = true
				break
			}
		}
		if !covered {
			t.Errorf("Expected angle %v to be within 30° of a position", a)
		}
	}
}

func TestCalculatePositions_ExactFit(t *testing.T) {
	positions, err := CalculatePositions(60, 0, 0, 180)
	if err != nil {
		t.Fatalf("CalculatePositions failed: %v", err)
	}
	if len(positions) != 4 || positions[3] != 180 {
		t.Errorf("Expected [0 60 120 180] without a duplicate end, got %v", positions)
	}
}

func TestCalculatePositions_Deterministic(t *testing.T) {
	a, _ := CalculatePositions(66.3, 10, 0, 180)
	b, _ := CalculatePositions(66.3, 10, 0, 180)
	if len(a) != len(b) {
		t.Fatalf("Expected identical output, got %v and %v", a, b)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Expected identical output, got %v and %v", a, b)
		}
	}
	if a[len(a)-1] != 180 {
		t.Errorf("Expected last position 180, got %v", a[len(a)-1])
	}
}

func TestCalculatePositions_Invalid(t *testing.T) {
	tests := []struct {
		name                   string
		fov, overlap, min, max float64
	}{
		{"zero fov", 0, 0, 0, 180},
		{"overlap equals fov", 60, 60, 0, 180},
		{"negative overlap", 60, -5, 0, 180},
		{"inverted range", 60, 10, 180, 0},
	}
	for _, tc := range tests {
		_, err := CalculatePositions(tc.fov, tc.overlap, tc.min, tc.max)
		if !errors.Is(err, ErrInvalidGeometry) {
			t.Errorf("%s: expected ErrInvalidGeometry, got %v", tc.name, err)
		}
	}
}

func TestCalculatePositions_SinglePoint(t *testing.T) {
	positions, err := CalculatePositions(60, 10, 90, 90)
	if err != nil {
		t.Fatalf("CalculatePositions failed: %v", err)
	}
	if len(positions) != 1 || positions[0] != 90 {
		t.Errorf("Expected [90], got %v", positions)
	}
}

type mapHeat map[float64]float64

func (m mapHeat) HeatAt(angle, _ float64) float64 { return m[angle] }

func TestOrderByHeat(t *testing.T) {
	base := []float64{0, 50, 100, 150, 180}
	heat := mapHeat{150: 3, 50: 1}

	got := OrderByHeat(base, heat, 30)
	want := []float64{150, 50, 0, 100, 180}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, got)
		}
	}

	if base[0] != 0 || base[3] != 150 {
		t.Errorf("Expected input slice untouched, got %v", base)
	}
}

func TestOrderByHeat_ColdStart(t *testing.T) {
	base := []float64{0, 50, 100}
	got := OrderByHeat(base, mapHeat{}, 30)
	for i := range base {
		if got[i] != base[i] {
			t.Fatalf("Expected base order %v on cold start, got %v", base, got)
		}
	}
	if got := OrderByHeat(base, nil, 30); len(got) != 3 {
		t.Errorf("Expected copy with nil heat, got %v", got)
	}
}

func TestOrderCenterOut(t *testing.T) {
	got := OrderCenterOut([]float64{40, 60, 80, 100, 120, 140}, 90)
	want := []float64{80, 100, 60, 120, 40, 140}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, got)
		}
	}
}

func TestPlanner_Tiers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FOV = 60
	cfg.Overlap = 10
	cfg.Order = OrderCenter
	cfg.Tiers = []Range{
		{Name: "primary", Min: 40, Max: 140},
		{Name: "left", Min: 0, Max: 40},
		{Name: "right", Min: 140, Max: 180},
	}

	p, err := NewPlanner(cfg)
	if err != nil {
		t.Fatalf("NewPlanner failed: %v", err)
	}

	tiers := p.Plan(nil)
	if len(tiers) != 3 {
		t.Fatalf("Expected 3 tiers, got %d", len(tiers))
	}
	if tiers[0].Name != "primary" || tiers[0].Positions[0] != 90 {
		t.Errorf("Expected primary tier to start at its center 90, got %+v", tiers[0])
	}
	if len(p.Positions(nil)) != len(tiers[0].Positions)+len(tiers[1].Positions)+len(tiers[2].Positions) {
		t.Error("Expected Positions to flatten every tier")
	}
}

func TestPlanner_HeatFirst(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FOV = 60
	cfg.Overlap = 10
	p, err := NewPlanner(cfg)
	if err != nil {
		t.Fatalf("NewPlanner failed: %v", err)
	}

	got := p.Positions(mapHeat{100: 2})
	if got[0] != 100 {
		t.Errorf("Expected hottest position 100 first, got %v", got)
	}
	if len(got) != 5 {
		t.Errorf("Expected full coverage kept, got %v", got)
	}
}

func TestNewPlanner_Invalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tiers = []Range{{Name: "bad", Min: -10, Max: 40}}
	if _, err := NewPlanner(cfg); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("Expected ErrInvalidGeometry for out-of-range tier, got %v", err)
	}

	cfg = DefaultConfig()
	cfg.Order = "random"
	if _, err := NewPlanner(cfg); err == nil {
		t.Error("Expected error for unknown order")
	}
}
