package scoring

import (
	"fmt"
	"math"
)

// GateParams controls the sigmoid gates and the clump-quality midpoint of
// the combinator.
type GateParams struct {
	CoagSteepness     float64 `yaml:"coag_steepness"`
	ClumpSteepness    float64 `yaml:"clump_steepness"`
	DissolveSteepness float64 `yaml:"dissolve_steepness"`
	CoagThreshold     float64 `yaml:"coag_threshold"`
	ClumpThreshold    float64 `yaml:"clump_threshold"`
	DissolveThreshold float64 `yaml:"dissolve_threshold"`
	IdealMidpoint     float64 `yaml:"ideal_midpoint"`
}

// DefaultGateParams returns the production gate shape. Optimizer results
// depend on these exact values.
func DefaultGateParams() GateParams {
	return GateParams{
		CoagSteepness:     8,
		ClumpSteepness:    8,
		DissolveSteepness: 8,
		CoagThreshold:     0.5,
		ClumpThreshold:    0.5,
		DissolveThreshold: 0.5,
		IdealMidpoint:     0.7,
	}
}

// Validate checks steepness is positive and thresholds lie in [0, 1].
func (g GateParams) Validate() error {
	for name, v := range map[string]float64{
		"coag_steepness":     g.CoagSteepness,
		"clump_steepness":    g.ClumpSteepness,
		"dissolve_steepness": g.DissolveSteepness,
	} {
		if !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("%s must be positive, got %v", name, v)
		}
	}
	for name, v := range map[string]float64{
		"coag_threshold":     g.CoagThreshold,
		"clump_threshold":    g.ClumpThreshold,
		"dissolve_threshold": g.DissolveThreshold,
		"ideal_midpoint":     g.IdealMidpoint,
	} {
		if !(v >= 0 && v <= 1) {
			return fmt.Errorf("%s must be in [0, 1], got %v", name, v)
		}
	}
	return nil
}
