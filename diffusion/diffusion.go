// Package diffusion advances cell-centred fields by one implicit (backward
// Euler) diffusion step over the Fluid cells of a grid.
package diffusion

import (
	"fmt"
	"log/slog"

	"github.com/james-bowman/sparse"

	"github.com/pthm-cable/voxflow/grid"
	"github.com/pthm-cable/voxflow/linsys"
)

// Input holds the fields to diffuse. At least one of Scalar and Vector must
// be set; Vector must be centre sampled.
type Input struct {
	Scalar  *grid.ScalarField
	Vector  *grid.VectorField
	Markers *grid.MarkerField
}

type Params struct {
	Coefficient float64 // diffusivity
	DT          float64
	Solver      linsys.Settings
}

// DefaultParams returns a unit diffusivity step of 1/60 s.
func DefaultParams() Params {
	return Params{Coefficient: 1, DT: 1.0 / 60, Solver: linsys.DefaultSettings()}
}

// Result receives the diffused fields. Either may alias its input; a nil
// entry updates the input in place.
type Result struct {
	Scalar *grid.ScalarField
	Vector *grid.VectorField
}

// Solve solves (I - D dt Laplacian) u' = u for every requested field. The
// matrix is assembled once and shared by the scalar and every vector axis.
// Cells that are not Fluid are written as zero.
func Solve(in Input, p Params, out Result) (linsys.Stats, error) {
	if err := validate(in, p, out); err != nil {
		return linsys.Stats{}, err
	}

	m := in.Markers
	rm := linsys.FluidRows(m)
	h := m.Grid.H
	a := linsys.Assemble(rm, linsys.Stencil{Factor: p.Coefficient * p.DT / (h * h), Identity: true})

	stats := linsys.Stats{Converged: true}
	if in.Scalar != nil {
		dst := in.Scalar
		if out.Scalar != nil {
			dst = out.Scalar
		}
		stats = stats.Merge(solveComponent(rm, a, in.Scalar.Data, dst.Data, p.Solver))
	}
	if in.Vector != nil {
		dst := in.Vector
		if out.Vector != nil {
			dst = out.Vector
		}
		for _, ax := range m.Grid.Axes() {
			stats = stats.Merge(solveComponent(rm, a, in.Vector.Comp[ax], dst.Comp[ax], p.Solver))
		}
	}
	slog.Debug("diffusion step", "stats", stats)
	return stats, nil
}

func solveComponent(rm linsys.RowMap, a *sparse.CSR, src, dst []float64, s linsys.Settings) linsys.Stats {
	b := rm.Gather(func(cell int) float64 { return src[cell] })
	copy(dst, src)
	return rm.SolveInto(a, b, dst, s)
}

func validate(in Input, p Params, out Result) error {
	if in.Scalar == nil && in.Vector == nil {
		return fmt.Errorf("%w: diffusion needs a scalar or a vector field", grid.ErrMissingField)
	}
	if !(p.DT > 0) {
		return fmt.Errorf("diffusion: time step must be positive, got %v", p.DT)
	}
	if p.Coefficient < 0 {
		return fmt.Errorf("diffusion: coefficient must not be negative, got %v", p.Coefficient)
	}
	names := []string{"markers"}
	fields := []grid.Gridded{in.Markers}
	if in.Scalar != nil {
		names = append(names, "scalar")
		fields = append(fields, in.Scalar)
		if out.Scalar != nil {
			names = append(names, "result scalar")
			fields = append(fields, out.Scalar)
		}
	}
	if in.Vector != nil {
		if err := grid.CheckSampling("vector", in.Vector, grid.Center); err != nil {
			return err
		}
		names = append(names, "vector")
		fields = append(fields, in.Vector)
		if out.Vector != nil {
			if err := grid.CheckSampling("result vector", out.Vector, grid.Center); err != nil {
				return err
			}
			names = append(names, "result vector")
			fields = append(fields, out.Vector)
		}
	}
	return grid.CheckSameGrid(names, fields...)
}
