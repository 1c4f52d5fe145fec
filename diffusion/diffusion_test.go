package diffusion

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/voxflow/grid"
	"github.com/pthm-cable/voxflow/linsys"
)

func testParams() Params {
	return Params{
		Coefficient: 0.8,
		DT:          0.1,
		Solver:      linsys.Settings{Preconditioner: linsys.ModifiedIncompleteCholesky, Tolerance: 1e-12},
	}
}

func allFluid(g grid.Grid) *grid.MarkerField {
	m := grid.NewMarkerField(g)
	m.Fill(grid.Fluid)
	return m
}

func randomScalar(g grid.Grid, seed uint64) *grid.ScalarField {
	rng := rand.New(rand.NewPCG(seed, 11))
	f := grid.NewScalarField(g)
	for i := range f.Data {
		f.Data[i] = rng.Float64()
	}
	return f
}

func TestSolveIsLinear(t *testing.T) {
	g := grid.MustNew(grid.Coord{9, 7, 1}, 0.25, r3.Vec{})
	m := allFluid(g)
	m.Set(grid.Coord{0, 0, 0}, grid.Solid)

	u := randomScalar(g, 1)
	scaled := u.Clone()
	scaled.Scale(3)

	_, err := Solve(Input{Scalar: u, Markers: m}, testParams(), Result{})
	require.NoError(t, err)
	_, err = Solve(Input{Scalar: scaled, Markers: m}, testParams(), Result{})
	require.NoError(t, err)

	for i := range u.Data {
		assert.InDelta(t, 3*u.Data[i], scaled.Data[i], 1e-9)
	}
}

func TestSolveConservesMassWithinWalls(t *testing.T) {
	g := grid.MustNew(grid.Coord{6, 5, 4}, 1, r3.Vec{})
	u := randomScalar(g, 2)
	before := floats.Sum(u.Data)
	out := grid.NewScalarField(g)

	stats, err := Solve(Input{Scalar: u, Markers: allFluid(g)}, testParams(), Result{Scalar: out})
	require.NoError(t, err)
	assert.True(t, stats.Converged)
	assert.InDelta(t, before, floats.Sum(out.Data), 1e-9)
	// Diffusion smooths: the spread shrinks.
	assert.Less(t, floats.Max(out.Data)-floats.Min(out.Data), floats.Max(u.Data)-floats.Min(u.Data))
}

func TestSolveZeroesNonFluidCells(t *testing.T) {
	g := grid.MustNew(grid.Coord{5, 5, 1}, 1, r3.Vec{})
	m := grid.NewMarkerField(g)
	m.Set(grid.Coord{2, 2, 0}, grid.Fluid)
	u := grid.NewScalarField(g)
	u.Fill(1)

	_, err := Solve(Input{Scalar: u, Markers: m}, testParams(), Result{})
	require.NoError(t, err)
	for i, v := range u.Data {
		if i == g.Index(grid.Coord{2, 2, 0}) {
			// Four Dirichlet neighbours: u' = 1 / (1 + 4k).
			k := testParams().Coefficient * testParams().DT
			assert.InDelta(t, 1/(1+4*k), v, 1e-12)
			continue
		}
		assert.Zero(t, v)
	}
}

func TestSolveVectorMatchesScalar(t *testing.T) {
	g := grid.MustNew(grid.Coord{6, 6, 1}, 0.5, r3.Vec{})
	m := allFluid(g)
	m.Set(grid.Coord{3, 3, 0}, grid.Empty)

	s := randomScalar(g, 3)
	v := grid.NewCenterField(g)
	copy(v.Comp[0], s.Data)
	copy(v.Comp[1], s.Data)
	for i := range v.Comp[1] {
		v.Comp[1][i] *= -2
	}

	sOut := grid.NewScalarField(g)
	vOut := grid.NewCenterField(g)
	_, err := Solve(Input{Scalar: s, Vector: v, Markers: m}, testParams(), Result{Scalar: sOut, Vector: vOut})
	require.NoError(t, err)

	for i := range sOut.Data {
		assert.InDelta(t, sOut.Data[i], vOut.Comp[0][i], 1e-9)
		assert.InDelta(t, -2*sOut.Data[i], vOut.Comp[1][i], 1e-9)
	}
}

func TestSolveZeroCoefficientIsIdentity(t *testing.T) {
	g := grid.MustNew(grid.Coord{4, 4, 1}, 1, r3.Vec{})
	u := randomScalar(g, 4)
	want := u.Clone()
	p := testParams()
	p.Coefficient = 0

	_, err := Solve(Input{Scalar: u, Markers: allFluid(g)}, p, Result{})
	require.NoError(t, err)
	assert.InDeltaSlice(t, want.Data, u.Data, 1e-12)
}

func TestSolveValidation(t *testing.T) {
	g := grid.MustNew(grid.Coord{4, 4, 1}, 1, r3.Vec{})
	m := allFluid(g)

	_, err := Solve(Input{Markers: m}, testParams(), Result{})
	assert.ErrorIs(t, err, grid.ErrMissingField)

	_, err = Solve(Input{Vector: grid.NewFaceField(g), Markers: m}, testParams(), Result{})
	assert.ErrorIs(t, err, grid.ErrSampling)

	_, err = Solve(Input{Scalar: grid.NewScalarField(g)}, testParams(), Result{})
	assert.ErrorIs(t, err, grid.ErrMissingField)

	other := grid.MustNew(grid.Coord{4, 5, 1}, 1, r3.Vec{})
	_, err = Solve(Input{Scalar: grid.NewScalarField(other), Markers: m}, testParams(), Result{})
	assert.ErrorIs(t, err, grid.ErrDimensionMismatch)

	p := testParams()
	p.DT = 0
	_, err = Solve(Input{Scalar: grid.NewScalarField(g), Markers: m}, p, Result{})
	assert.Error(t, err)
}
