// Package poisson makes face-sampled velocity fields divergence free by
// solving for a pressure and subtracting its gradient.
package poisson

import (
	"log/slog"

	"github.com/pthm-cable/voxflow/grid"
	"github.com/pthm-cable/voxflow/linsys"
	"github.com/pthm-cable/voxflow/parallel"
)

// Input is the velocity to project and the classification deciding which
// cells carry a pressure unknown. Markers are not used by ProjectRestricted.
type Input struct {
	Flow    *grid.VectorField
	Markers *grid.MarkerField
}

type Params struct {
	Solver linsys.Settings
}

// DefaultParams solves with MIC-preconditioned CG.
func DefaultParams() Params {
	return Params{Solver: linsys.DefaultSettings()}
}

// Result receives the projection. Flow may alias Input.Flow; a nil Flow
// projects Input.Flow in place. Divergence is optional and receives the
// divergence measured before projection.
type Result struct {
	Flow       *grid.VectorField
	Pressure   *grid.ScalarField
	Divergence *grid.ScalarField
}

// Project solves for a pressure on every Fluid cell and removes its gradient
// from every face. Valid non-Fluid neighbours are held at zero pressure.
func Project(in Input, p Params, out Result) (linsys.Stats, error) {
	if err := validate(in.Flow, out); err != nil {
		return linsys.Stats{}, err
	}
	if err := grid.CheckSameGrid([]string{"flow", "markers"}, in.Flow, in.Markers); err != nil {
		return linsys.Stats{}, err
	}
	return project(linsys.FluidRows(in.Markers), in.Flow, p, out, nil), nil
}

// ProjectRestricted solves only over the cells of a precomputed active index
// (see grid.BuildActiveDomain). Faces touching an inactive cell are zeroed
// and stay zero, so the active region behaves as a closed box.
func ProjectRestricted(in Input, active *grid.IndexField, p Params, out Result) (linsys.Stats, error) {
	if err := validate(in.Flow, out); err != nil {
		return linsys.Stats{}, err
	}
	if err := grid.CheckSameGrid([]string{"flow", "active"}, in.Flow, active); err != nil {
		return linsys.Stats{}, err
	}
	return project(linsys.ActiveRows(active), in.Flow, p, out, active), nil
}

func validate(flow *grid.VectorField, out Result) error {
	if err := grid.CheckSampling("flow", flow, grid.Face); err != nil {
		return err
	}
	if err := grid.CheckSameGrid([]string{"flow", "pressure"}, flow, out.Pressure); err != nil {
		return err
	}
	if out.Flow != nil {
		if err := grid.CheckSampling("result flow", out.Flow, grid.Face); err != nil {
			return err
		}
		if err := grid.CheckSameGrid([]string{"flow", "result flow"}, flow, out.Flow); err != nil {
			return err
		}
	}
	if out.Divergence != nil {
		if err := grid.CheckSameGrid([]string{"flow", "divergence"}, flow, out.Divergence); err != nil {
			return err
		}
	}
	return nil
}

func project(rm linsys.RowMap, src *grid.VectorField, p Params, out Result, active *grid.IndexField) linsys.Stats {
	flow := out.Flow
	if flow == nil {
		flow = src
	} else if flow != src {
		flow.CopyFrom(src)
	}
	if active != nil {
		zeroInactiveFaces(flow, active)
	}
	if out.Divergence != nil {
		out.Divergence.Fill(0)
	}

	pressure := out.Pressure
	if rm.Len() == 0 {
		pressure.Fill(0)
		return linsys.Stats{Converged: true}
	}

	g := flow.Grid
	b := rm.Gather(func(cell int) float64 {
		d := Divergence(flow, g.CoordOf(cell))
		if out.Divergence != nil {
			out.Divergence.Data[cell] = d
		}
		return -d
	})
	a := linsys.Assemble(rm, linsys.Stencil{Factor: 1})
	// The previous pressure seeds the solve.
	stats := rm.SolveInto(a, b, pressure.Data, p.Solver)
	subtractGradient(flow, pressure, active)

	slog.Debug("pressure projection", "stats", stats)
	return stats
}

// Divergence returns the net outflow of cell c, sum over axes of
// (v(face+) - v(face-)) * h.
func Divergence(v *grid.VectorField, c grid.Coord) float64 {
	var d float64
	for _, a := range v.Grid.Axes() {
		d += v.At(a, c.Add(a, 1)) - v.At(a, c)
	}
	return d * v.Grid.H
}

// subtractGradient applies v -= (p(cell+) - p(cell-)) / h on every face,
// clamping pressure lookups at the domain edge. Inactive faces are skipped.
func subtractGradient(flow *grid.VectorField, pressure *grid.ScalarField, active *grid.IndexField) {
	h := flow.Grid.H
	for _, a := range flow.Grid.Axes() {
		comp := flow.Comp[a]
		parallel.For(len(comp), parallel.Parallel, func(i int) {
			f := flow.CompCoord(a, i)
			if active != nil && !faceActive(active, a, f) {
				return
			}
			comp[i] -= (pressure.AtClamped(f) - pressure.AtClamped(f.Add(a, -1))) / h
		})
	}
}

// faceActive reports whether no in-grid cell beside face f of axis a is inactive.
func faceActive(active *grid.IndexField, a int, f grid.Coord) bool {
	for _, c := range [2]grid.Coord{f.Add(a, -1), f} {
		if active.Grid.Valid(c) && active.At(c) == grid.Inactive {
			return false
		}
	}
	return true
}

func zeroInactiveFaces(flow *grid.VectorField, active *grid.IndexField) {
	for _, a := range flow.Grid.Axes() {
		comp := flow.Comp[a]
		parallel.For(len(comp), parallel.Parallel, func(i int) {
			if !faceActive(active, a, flow.CompCoord(a, i)) {
				comp[i] = 0
			}
		})
	}
}
