// Package scoring provides the heat and hotspot scorers.
//
// Heat is a time-decayed similarity between two countries' narratives:
//
//	heat = similarity × exp(-Δh / half_life_hours)
//
// Hotspot intensity is a weighted composite of three bounded components:
//
//	intensity = 0.4 × volume + 0.3 × velocity + 0.3 × confidence
//
// Every score is clamped to [0, 1] and never NaN.
package scoring

import (
	"fmt"
	"math"
)

// DefaultHalfLifeHours is the default heat decay constant.
const DefaultHalfLifeHours = 6.0

// HeatFormula describes the heat computation in response metadata.
const HeatFormula = "heat = similarity × exp(-Δt / halflife)"

// HeatScorer applies exponential time decay to a similarity score.
type HeatScorer struct {
	HalfLifeHours float64
}

// NewHeatScorer returns a HeatScorer with the given decay constant.
func NewHeatScorer(halfLifeHours float64) (*HeatScorer, error) {
	if halfLifeHours <= 0 || math.IsNaN(halfLifeHours) || math.IsInf(halfLifeHours, 0) {
		return nil, fmt.Errorf("invalid half-life %v: must be positive", halfLifeHours)
	}
	return &HeatScorer{HalfLifeHours: halfLifeHours}, nil
}

// Decay returns exp(-Δh / half-life). Negative deltas are treated as zero, so the
// result is always in (0, 1].
func (h *HeatScorer) Decay(deltaHours float64) float64 {
	if deltaHours < 0 || math.IsNaN(deltaHours) {
		deltaHours = 0
	}
	return math.Exp(-deltaHours / h.HalfLifeHours)
}

// Heat scores one ordered pair.
func (h *HeatScorer) Heat(similarity, deltaHours float64) float64 {
	return clamp01(clamp01(similarity) * h.Decay(deltaHours))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
