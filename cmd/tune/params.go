// Package main searches position based fluid correction parameters with
// CMA-ES.
package main

import (
	"github.com/pthm-cable/voxflow/config"
)

// ParamSpec defines a single tunable parameter.
type ParamSpec struct {
	Name    string  // Human-readable name
	Path    string  // Config path for logging
	Min     float64 // Lower bound
	Max     float64 // Upper bound
	Default float64 // Default value
}

// ParamVector holds the set of tunable parameters.
type ParamVector struct {
	Specs []ParamSpec
}

// NewParamVector creates the standard set of PBF parameters.
func NewParamVector() *ParamVector {
	return &ParamVector{
		Specs: []ParamSpec{
			// Corrections use plain kernel gradients, so a full Newton step
			// needs dp_scale near 1/mass (125 for the default block).
			{Name: "dp_scale", Path: "pbf.dp_scale", Min: 0.2, Max: 200, Default: 1},
			// The lambda denominator is a squared kernel gradient, so the
			// relaxation lives on that scale.
			{Name: "epsilon", Path: "pbf.epsilon", Min: 0, Max: 1e12, Default: 0},
			{Name: "viscosity", Path: "pbf.viscosity", Min: 0, Max: 0.2, Default: 0.01},
		},
	}
}

// Dim returns the number of parameters.
func (pv *ParamVector) Dim() int {
	return len(pv.Specs)
}

// DefaultVector returns the default parameter values as a slice.
func (pv *ParamVector) DefaultVector() []float64 {
	v := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		v[i] = spec.Default
	}
	return v
}

// Normalize converts raw parameter values to the [0,1] range.
func (pv *ParamVector) Normalize(raw []float64) []float64 {
	normalized := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		normalized[i] = (raw[i] - spec.Min) / (spec.Max - spec.Min)
	}
	return normalized
}

// Denormalize converts [0,1] values back to raw parameter values.
func (pv *ParamVector) Denormalize(normalized []float64) []float64 {
	raw := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		raw[i] = spec.Min + normalized[i]*(spec.Max-spec.Min)
	}
	return raw
}

// Clamp ensures all values are within bounds.
func (pv *ParamVector) Clamp(v []float64) []float64 {
	clamped := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		clamped[i] = min(max(v[i], spec.Min), spec.Max)
	}
	return clamped
}

// ApplyToConfig writes clamped parameter values into cfg.
// Order must match Specs order.
func (pv *ParamVector) ApplyToConfig(cfg *config.Config, values []float64) {
	clamped := pv.Clamp(values)
	cfg.PBF.DPScale = clamped[0]
	cfg.PBF.Epsilon = clamped[1]
	cfg.PBF.Viscosity = clamped[2]
}

// ExtractFromConfig reads the current parameter values from cfg.
func (pv *ParamVector) ExtractFromConfig(cfg *config.Config) []float64 {
	return []float64{
		cfg.PBF.DPScale,
		cfg.PBF.Epsilon,
		cfg.PBF.Viscosity,
	}
}
