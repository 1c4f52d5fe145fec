// Package flip transfers velocity between particles and a staggered (MAC)
// grid with a PIC/FLIP blend, extrapolating grid velocity into a narrow band
// around the fluid and projecting it with the poisson package.
//
// Occupancy is defined one way throughout: a cell is Fluid iff at least one
// particle lies in it.
package flip

import (
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/voxflow/grid"
	"github.com/pthm-cable/voxflow/linsys"
	"github.com/pthm-cable/voxflow/parallel"
	"github.com/pthm-cable/voxflow/particles"
	"github.com/pthm-cable/voxflow/poisson"
)

// BoundaryFunc enforces boundary conditions on a face velocity field.
type BoundaryFunc func(flow *grid.VectorField, markers *grid.MarkerField)

// NoBoundary leaves the field untouched.
func NoBoundary(*grid.VectorField, *grid.MarkerField) {}

// SolidWalls zeroes the normal velocity on the outer domain walls and on
// every face touching a Solid cell.
func SolidWalls(flow *grid.VectorField, markers *grid.MarkerField) {
	g := flow.Grid
	for _, a := range g.Axes() {
		comp := flow.Comp[a]
		parallel.For(len(comp), parallel.Parallel, func(i int) {
			f := flow.CompCoord(a, i)
			if f[a] == 0 || f[a] == g.Res[a] {
				comp[i] = 0
				return
			}
			if markers.At(f.Add(a, -1)) == grid.Solid || markers.At(f) == grid.Solid {
				comp[i] = 0
			}
		})
	}
}

type Params struct {
	ExtrapolateDepth int
	Ratio            float64 // FLIP fraction; 0 is pure PIC
	Boundary         BoundaryFunc
	Pressure         poisson.Params
}

func DefaultParams() Params {
	return Params{
		ExtrapolateDepth: 6,
		Ratio:            0.97,
		Boundary:         NoBoundary,
		Pressure:         poisson.DefaultParams(),
	}
}

// Buffers is the grid scratch a FLIP step owns between its phases. Cache
// holds the grid velocity as scattered, for the FLIP delta in G2P.
type Buffers struct {
	Weight   *grid.VectorField
	Cache    *grid.VectorField
	Distance *grid.IndexField
	Pressure *grid.ScalarField
}

// NewBuffers allocates buffers for g.
func NewBuffers(g grid.Grid) *Buffers {
	return &Buffers{
		Weight:   grid.NewFaceField(g),
		Cache:    grid.NewFaceField(g),
		Distance: grid.NewIndexField(g, Unreached),
		Pressure: grid.NewScalarField(g),
	}
}

// Input is the state every FLIP phase works on.
type Input struct {
	Particles *particles.Set
	Flow      *grid.VectorField
	Markers   *grid.MarkerField
}

func validate(in Input, p Params, buf *Buffers) error {
	if in.Particles == nil {
		return fmt.Errorf("%w: particles", grid.ErrMissingField)
	}
	if err := in.Particles.Validate(); err != nil {
		return err
	}
	if err := grid.CheckSampling("flow", in.Flow, grid.Face); err != nil {
		return err
	}
	if buf == nil {
		return fmt.Errorf("%w: flip buffers", grid.ErrMissingField)
	}
	if err := grid.CheckSampling("weight", buf.Weight, grid.Face); err != nil {
		return err
	}
	if err := grid.CheckSampling("cache", buf.Cache, grid.Face); err != nil {
		return err
	}
	if err := grid.CheckSameGrid(
		[]string{"flow", "markers", "weight", "cache", "distance", "pressure"},
		in.Flow, in.Markers, buf.Weight, buf.Cache, buf.Distance, buf.Pressure); err != nil {
		return err
	}
	if p.ExtrapolateDepth < 0 {
		return fmt.Errorf("flip: extrapolation depth must not be negative, got %d", p.ExtrapolateDepth)
	}
	if p.Ratio < 0 || p.Ratio > 1 || math.IsNaN(p.Ratio) {
		return fmt.Errorf("flip: ratio must lie in [0, 1], got %v", p.Ratio)
	}
	return nil
}

// P2G rebuilds the markers from particle occupancy and scatters mass-weighted
// particle velocity onto the faces. Each particle's interpolation weights are
// renormalised over its in-bounds faces, so all of its momentum reaches the
// grid. The scatter runs serially. The result is extrapolated, treating every
// face that received weight as known, and cached.
func P2G(in Input, p Params, buf *Buffers) error {
	if err := validate(in, p, buf); err != nil {
		return err
	}
	ps, flow := in.Particles, in.Flow
	grid.ClassifyParticles(in.Markers, ps.Pos)

	flow.Fill(0)
	buf.Weight.Fill(0)
	for i, pos := range ps.Pos {
		vel := [3]float64{ps.Vel[i].X, ps.Vel[i].Y, ps.Vel[i].Z}
		for _, a := range flow.Grid.Axes() {
			st := flow.Stencil(a, pos)
			comp, weight := flow.Comp[a], buf.Weight.Comp[a]
			for k := 0; k < st.N; k++ {
				w := st.W[k] * ps.Mass[i]
				comp[st.Idx[k]] += w * vel[a]
				weight[st.Idx[k]] += w
			}
		}
	}
	for _, a := range flow.Grid.Axes() {
		comp, weight := flow.Comp[a], buf.Weight.Comp[a]
		parallel.For(len(comp), parallel.Parallel, func(i int) {
			if weight[i] > 0 {
				comp[i] /= weight[i]
			} else {
				comp[i] = 0
			}
		})
	}

	extrapolate(flow, in.Markers, buf.Distance, p.ExtrapolateDepth, buf.Weight)
	buf.Cache.CopyFrom(flow)
	return nil
}

// SolvePressure reclassifies from particle occupancy, applies the boundary,
// projects the flow and applies the boundary again.
func SolvePressure(in Input, p Params, buf *Buffers) (linsys.Stats, error) {
	if err := validate(in, p, buf); err != nil {
		return linsys.Stats{}, err
	}
	boundary := p.Boundary
	if boundary == nil {
		boundary = NoBoundary
	}
	grid.ClassifyParticles(in.Markers, in.Particles.Pos)
	boundary(in.Flow, in.Markers)
	stats, err := poisson.Project(
		poisson.Input{Flow: in.Flow, Markers: in.Markers},
		p.Pressure,
		poisson.Result{Pressure: buf.Pressure},
	)
	if err != nil {
		return stats, err
	}
	boundary(in.Flow, in.Markers)
	return stats, nil
}

// G2P extrapolates the projected flow and blends it back onto the particles:
// v = ratio*(v + g_now - g_cached) + (1-ratio)*g_now.
func G2P(in Input, p Params, buf *Buffers) error {
	if err := validate(in, p, buf); err != nil {
		return err
	}
	ps, flow := in.Particles, in.Flow
	Extrapolate(flow, in.Markers, buf.Distance, p.ExtrapolateDepth)

	ratio := p.Ratio
	parallel.For(ps.Len(), parallel.Parallel, func(i int) {
		now := flow.SampleVec(ps.Pos[i])
		old := buf.Cache.SampleVec(ps.Pos[i])
		flipVel := r3.Add(ps.Vel[i], r3.Sub(now, old))
		ps.Vel[i] = r3.Add(r3.Scale(ratio, flipVel), r3.Scale(1-ratio, now))
	})
	return nil
}

// AddForce adds acceleration*dt to every face of the flow.
func AddForce(flow *grid.VectorField, acceleration r3.Vec, dt float64) {
	acc := [3]float64{acceleration.X, acceleration.Y, acceleration.Z}
	for _, a := range flow.Grid.Axes() {
		dv := acc[a] * dt
		if dv == 0 {
			continue
		}
		comp := flow.Comp[a]
		parallel.For(len(comp), parallel.Parallel, func(i int) { comp[i] += dv })
	}
}

// Advect moves particles along their velocity and keeps them a small margin
// inside the grid. Collapsed axes are left alone.
func Advect(ps *particles.Set, g grid.Grid, dt float64) {
	margin := 1e-3 * g.H
	lo := g.Origin
	hi := r3.Add(g.Origin, g.Extent())
	axes := g.Axes()
	parallel.For(ps.Len(), parallel.Parallel, func(i int) {
		p := r3.Add(ps.Pos[i], r3.Scale(dt, ps.Vel[i]))
		c := [3]float64{p.X, p.Y, p.Z}
		l := [3]float64{lo.X, lo.Y, lo.Z}
		h := [3]float64{hi.X, hi.Y, hi.Z}
		for _, a := range axes {
			c[a] = math.Min(math.Max(c[a], l[a]+margin), h[a]-margin)
		}
		ps.Pos[i] = r3.Vec{X: c[0], Y: c[1], Z: c[2]}
	})
}

// Step runs one full FLIP step: P2G, external acceleration, pressure
// projection, G2P and particle advection.
func Step(in Input, p Params, buf *Buffers, gravity r3.Vec, dt float64) (linsys.Stats, error) {
	if !(dt > 0) {
		return linsys.Stats{}, fmt.Errorf("flip: time step must be positive, got %v", dt)
	}
	if err := P2G(in, p, buf); err != nil {
		return linsys.Stats{}, err
	}
	AddForce(in.Flow, gravity, dt)
	stats, err := SolvePressure(in, p, buf)
	if err != nil {
		return stats, err
	}
	if err := G2P(in, p, buf); err != nil {
		return stats, err
	}
	Advect(in.Particles, in.Flow.Grid, dt)
	slog.Debug("flip step", "particles", in.Particles.Len(), "fluid_cells", in.Markers.Count(grid.Fluid), "pressure", stats)
	return stats, nil
}
