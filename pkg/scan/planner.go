package scan

import "fmt"

// Order selects the base ordering of a sweep before heat is applied.
type Order string

const (
	OrderSweep  Order = "sweep"      // ascending pan
	OrderCenter Order = "center-out" // closest to the range center first
)

// Range is an inclusive pan interval scanned as one tier.
type Range struct {
	Name string  `yaml:"name" json:"name"`
	Min  float64 `yaml:"min" json:"min"`
	Max  float64 `yaml:"max" json:"max"`
}

// Config describes a sweep.
type Config struct {
	FOV        float64 // horizontal field of view (degrees)
	Overlap    float64 // overlap between adjacent frames (degrees)
	PanMin     float64
	PanMax     float64
	Order      Order
	HeatRadius float64 // radius used to score a position; defaults to FOV/2

	// Tiers are scanned in order; a sweep stops at the first tier that
	// finds someone. Empty means a single tier covering PanMin..PanMax.
	Tiers []Range
}

// DefaultConfig returns a single-tier ascending sweep over 0-180°.
func DefaultConfig() Config {
	return Config{
		FOV:     66.3,
		Overlap: 10,
		PanMin:  0,
		PanMax:  180,
		Order:   OrderSweep,
	}
}

// Tier is one planned range with its visiting order.
type Tier struct {
	Name      string
	Positions []float64
}

// Planner turns a Config and the current heat into an ordered sweep.
type Planner struct {
	cfg Config
}

// NewPlanner validates cfg and returns a planner for it.
func NewPlanner(cfg Config) (*Planner, error) {
	if cfg.Order == "" {
		cfg.Order = OrderSweep
	}
	if cfg.Order != OrderSweep && cfg.Order != OrderCenter {
		return nil, fmt.Errorf("%w: unknown order %q", ErrInvalidGeometry, cfg.Order)
	}
	if cfg.HeatRadius <= 0 {
		cfg.HeatRadius = cfg.FOV / 2
	}
	if _, err := CalculatePositions(cfg.FOV, cfg.Overlap, cfg.PanMin, cfg.PanMax); err != nil {
		return nil, err
	}
	for _, r := range cfg.Tiers {
		if r.Min < cfg.PanMin || r.Max > cfg.PanMax || r.Min > r.Max {
			return nil, fmt.Errorf("%w: tier %q %v..%v outside %v..%v",
				ErrInvalidGeometry, r.Name, r.Min, r.Max, cfg.PanMin, cfg.PanMax)
		}
	}
	return &Planner{cfg: cfg}, nil
}

// Config returns the planner's configuration.
func (p *Planner) Config() Config {
	return p.cfg
}

// Plan returns the tiers to scan in order. Within each tier positions follow
// the base order, then are re-ranked by heat when heat is non-nil.
func (p *Planner) Plan(heat HeatSource) []Tier {
	ranges := p.cfg.Tiers
	if len(ranges) == 0 {
		ranges = []Range{{Name: "full", Min: p.cfg.PanMin, Max: p.cfg.PanMax}}
	}

	tiers := make([]Tier, 0, len(ranges))
	for _, r := range ranges {
		// Ranges were validated in NewPlanner.
		positions, _ := CalculatePositions(p.cfg.FOV, p.cfg.Overlap, r.Min, r.Max)
		if p.cfg.Order == OrderCenter {
			positions = OrderCenterOut(positions, (r.Min+r.Max)/2)
		}
		positions = OrderByHeat(positions, heat, p.cfg.HeatRadius)
		tiers = append(tiers, Tier{Name: r.Name, Positions: positions})
	}
	return tiers
}

// Positions flattens Plan into a single visiting order.
func (p *Planner) Positions(heat HeatSource) []float64 {
	var out []float64
	for _, t := range p.Plan(heat) {
		out = append(out, t.Positions...)
	}
	return out
}
