// Package wave advances a scalar height field by one implicit step of the
// second-order wave equation.
package wave

import (
	"fmt"
	"log/slog"

	"github.com/pthm-cable/voxflow/grid"
	"github.com/pthm-cable/voxflow/linsys"
)

// Input is the field at the current and previous time level.
type Input struct {
	Field    *grid.ScalarField
	Previous *grid.ScalarField
	Markers  *grid.MarkerField
}

type Params struct {
	Coefficient float64 // squared wave speed
	DT          float64
	Solver      linsys.Settings
}

func DefaultParams() Params {
	return Params{Coefficient: 1, DT: 1.0 / 60, Solver: linsys.DefaultSettings()}
}

// Solve solves (I - c dt^2 Laplacian) u' = 2u - u_prev on the Fluid cells and
// writes u' to out, which may alias either input. Other cells are zeroed.
func Solve(in Input, p Params, out *grid.ScalarField) (linsys.Stats, error) {
	if err := grid.CheckSameGrid([]string{"field", "previous", "markers", "result"},
		in.Field, in.Previous, in.Markers, out); err != nil {
		return linsys.Stats{}, err
	}
	if !(p.DT > 0) {
		return linsys.Stats{}, fmt.Errorf("wave: time step must be positive, got %v", p.DT)
	}
	if p.Coefficient < 0 {
		return linsys.Stats{}, fmt.Errorf("wave: coefficient must not be negative, got %v", p.Coefficient)
	}

	rm := linsys.FluidRows(in.Markers)
	h := in.Markers.Grid.H
	a := linsys.Assemble(rm, linsys.Stencil{Factor: p.Coefficient * p.DT * p.DT / (h * h), Identity: true})
	cur, prev := in.Field.Data, in.Previous.Data
	b := rm.Gather(func(cell int) float64 { return 2*cur[cell] - prev[cell] })
	out.CopyFrom(in.Field)
	stats := rm.SolveInto(a, b, out.Data, p.Solver)
	slog.Debug("wave step", "stats", stats)
	return stats, nil
}

// State owns the two time levels and a scratch buffer so a caller can step
// repeatedly without managing the rotation.
type State struct {
	Current  *grid.ScalarField
	Previous *grid.ScalarField
	next     *grid.ScalarField
}

// NewState returns a state at rest on g.
func NewState(g grid.Grid) *State {
	return &State{Current: grid.NewScalarField(g), Previous: grid.NewScalarField(g)}
}

// Advance runs one step and rotates the levels: Previous takes the old
// Current and Current the new solution.
func (s *State) Advance(m *grid.MarkerField, p Params) (linsys.Stats, error) {
	if s.Current == nil {
		return linsys.Stats{}, fmt.Errorf("%w: wave state has no current field", grid.ErrMissingField)
	}
	if s.next == nil || s.next.Grid != s.Current.Grid {
		s.next = grid.NewScalarField(s.Current.Grid)
	}
	stats, err := Solve(Input{Field: s.Current, Previous: s.Previous, Markers: m}, p, s.next)
	if err != nil {
		return stats, err
	}
	s.Previous, s.Current, s.next = s.Current, s.next, s.Previous
	return stats, nil
}
