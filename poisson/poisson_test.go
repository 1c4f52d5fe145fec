package poisson

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/voxflow/grid"
	"github.com/pthm-cable/voxflow/linsys"
)

func tightParams() Params {
	return Params{Solver: linsys.Settings{Preconditioner: linsys.ModifiedIncompleteCholesky, Tolerance: 1e-11}}
}

func randomFlow(g grid.Grid, seed uint64) *grid.VectorField {
	rng := rand.New(rand.NewPCG(seed, 7))
	v := grid.NewFaceField(g)
	for _, a := range g.Axes() {
		for i := range v.Comp[a] {
			v.Comp[a][i] = rng.Float64()*2 - 1
		}
	}
	return v
}

// zeroWalls clears the faces on the outer boundary of the grid.
func zeroWalls(v *grid.VectorField) {
	for _, a := range v.Grid.Axes() {
		for i := range v.Comp[a] {
			f := v.CompCoord(a, i)
			if f[a] == 0 || f[a] == v.Grid.Res[a] {
				v.Comp[a][i] = 0
			}
		}
	}
}

func maxFluidDivergence(v *grid.VectorField, m *grid.MarkerField) float64 {
	worst := 0.0
	for i, t := range m.Data {
		if t == grid.Fluid {
			worst = math.Max(worst, math.Abs(Divergence(v, m.Grid.CoordOf(i))))
		}
	}
	return worst
}

func TestProject2D(t *testing.T) {
	g := grid.MustNew(grid.Coord{16, 16, 1}, 0.1, r3.Vec{})
	m := grid.NewMarkerField(g)
	for i := range m.Data {
		if g.CoordOf(i)[1] < 10 {
			m.Data[i] = grid.Fluid
		}
	}
	flow := randomFlow(g, 1)
	pressure := grid.NewScalarField(g)
	div := grid.NewScalarField(g)

	stats, err := Project(Input{Flow: flow, Markers: m}, tightParams(), Result{Pressure: pressure, Divergence: div})
	require.NoError(t, err)
	assert.True(t, stats.Converged, "stats %+v", stats)
	assert.Equal(t, m.Count(grid.Fluid), stats.Size)
	assert.Less(t, maxFluidDivergence(flow, m), 1e-8)

	for i, tag := range m.Data {
		if tag != grid.Fluid {
			assert.Zero(t, pressure.Data[i])
			assert.Zero(t, div.Data[i])
		}
	}
	assert.NotZero(t, div.At(grid.Coord{3, 3, 0}))
}

func TestProject3D(t *testing.T) {
	g := grid.MustNew(grid.Coord{8, 8, 8}, 1, r3.Vec{})
	m := grid.NewMarkerField(g)
	centre := r3.Vec{X: 4, Y: 4, Z: 4}
	for i := range m.Data {
		if r3.Norm(r3.Sub(g.CellCenter(g.CoordOf(i)), centre)) < 3 {
			m.Data[i] = grid.Fluid
		}
	}
	flow := randomFlow(g, 2)
	pressure := grid.NewScalarField(g)

	stats, err := Project(Input{Flow: flow, Markers: m}, tightParams(), Result{Pressure: pressure})
	require.NoError(t, err)
	assert.True(t, stats.Converged, "stats %+v", stats)
	assert.Less(t, maxFluidDivergence(flow, m), 1e-7)
}

func TestProjectSmokeAllFluid(t *testing.T) {
	g := grid.MustNew(grid.Coord{10, 12, 1}, 0.5, r3.Vec{})
	m := grid.NewMarkerField(g)
	m.Fill(grid.Fluid)
	flow := randomFlow(g, 3)
	zeroWalls(flow)
	pressure := grid.NewScalarField(g)

	_, err := Project(Input{Flow: flow, Markers: m}, tightParams(), Result{Pressure: pressure})
	require.NoError(t, err)
	assert.Less(t, maxFluidDivergence(flow, m), 1e-6)

	// Wall faces see a clamped, zero pressure gradient.
	for _, a := range g.Axes() {
		for i, v := range flow.Comp[a] {
			f := flow.CompCoord(a, i)
			if f[a] == 0 || f[a] == g.Res[a] {
				assert.Zero(t, v)
			}
		}
	}
}

func TestProjectIntoSeparateResult(t *testing.T) {
	g := grid.MustNew(grid.Coord{6, 6, 1}, 1, r3.Vec{})
	m := grid.NewMarkerField(g)
	m.Fill(grid.Fluid)
	m.Set(grid.Coord{5, 5, 0}, grid.Empty)
	src := randomFlow(g, 4)
	orig := randomFlow(g, 4)
	dst := grid.NewFaceField(g)

	_, err := Project(Input{Flow: src, Markers: m}, tightParams(), Result{Flow: dst, Pressure: grid.NewScalarField(g)})
	require.NoError(t, err)
	assert.Equal(t, orig.Comp, src.Comp)
	assert.Less(t, maxFluidDivergence(dst, m), 1e-8)
}

func TestProjectNoFluid(t *testing.T) {
	g := grid.MustNew(grid.Coord{4, 4, 1}, 1, r3.Vec{})
	flow := randomFlow(g, 5)
	before := randomFlow(g, 5)
	pressure := grid.NewScalarField(g)
	pressure.Fill(3)

	stats, err := Project(Input{Flow: flow, Markers: grid.NewMarkerField(g)}, DefaultParams(), Result{Pressure: pressure})
	require.NoError(t, err)
	assert.Zero(t, stats.Size)
	assert.Equal(t, before.Comp, flow.Comp)
	for _, v := range pressure.Data {
		assert.Zero(t, v)
	}
}

func TestProjectRestricted(t *testing.T) {
	g := grid.MustNew(grid.Coord{12, 12, 1}, 1, r3.Vec{})
	ref := grid.NewScalarField(g)
	ref.Set(grid.Coord{4, 5, 0}, 1)
	ref.Set(grid.Coord{6, 7, 0}, 1)
	active := grid.NewIndexField(g, 0)
	n := grid.BuildActiveDomain(ref, 1, active)
	require.Equal(t, 5*5, n)

	flow := randomFlow(g, 6)
	pressure := grid.NewScalarField(g)
	stats, err := ProjectRestricted(Input{Flow: flow}, active, tightParams(), Result{Pressure: pressure})
	require.NoError(t, err)
	assert.Equal(t, n, stats.Size)
	assert.True(t, stats.Converged, "stats %+v", stats)

	for i, r := range active.Data {
		c := g.CoordOf(i)
		if r == grid.Inactive {
			assert.Zero(t, pressure.Data[i])
			continue
		}
		assert.InDelta(t, 0, Divergence(flow, c), 1e-8, "cell %v", c)
	}
	for _, a := range g.Axes() {
		for i, v := range flow.Comp[a] {
			if !faceActive(active, a, flow.CompCoord(a, i)) {
				assert.Zero(t, v)
			}
		}
	}
}

func TestProjectValidation(t *testing.T) {
	g := grid.MustNew(grid.Coord{4, 4, 1}, 1, r3.Vec{})
	other := grid.MustNew(grid.Coord{5, 4, 1}, 1, r3.Vec{})
	m := grid.NewMarkerField(g)
	m.Fill(grid.Fluid)
	p := grid.NewScalarField(g)

	_, err := Project(Input{Flow: grid.NewCenterField(g), Markers: m}, DefaultParams(), Result{Pressure: p})
	assert.ErrorIs(t, err, grid.ErrSampling)

	_, err = Project(Input{Flow: grid.NewFaceField(g)}, DefaultParams(), Result{Pressure: p})
	assert.ErrorIs(t, err, grid.ErrMissingField)

	_, err = Project(Input{Flow: grid.NewFaceField(g), Markers: m}, DefaultParams(), Result{})
	assert.ErrorIs(t, err, grid.ErrMissingField)

	_, err = Project(Input{Flow: grid.NewFaceField(g), Markers: grid.NewMarkerField(other)}, DefaultParams(), Result{Pressure: p})
	assert.ErrorIs(t, err, grid.ErrDimensionMismatch)

	_, err = ProjectRestricted(Input{Flow: grid.NewFaceField(g)}, nil, DefaultParams(), Result{Pressure: p})
	assert.ErrorIs(t, err, grid.ErrMissingField)

	// A rejected call leaves its inputs untouched.
	flow := randomFlow(g, 8)
	before := randomFlow(g, 8)
	_, err = Project(Input{Flow: flow, Markers: m}, DefaultParams(), Result{Pressure: p, Divergence: grid.NewScalarField(other)})
	assert.ErrorIs(t, err, grid.ErrDimensionMismatch)
	assert.Equal(t, before.Comp, flow.Comp)
}
