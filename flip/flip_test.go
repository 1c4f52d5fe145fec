package flip

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/voxflow/grid"
	"github.com/pthm-cable/voxflow/linsys"
	"github.com/pthm-cable/voxflow/particles"
	"github.com/pthm-cable/voxflow/poisson"
)

func randomParticles(g grid.Grid, n int, seed uint64, fill r3.Vec) *particles.Set {
	rng := rand.New(rand.NewPCG(seed, 5))
	ps := particles.NewSet(n)
	e := g.Extent()
	for range n {
		pos := r3.Vec{
			X: g.Origin.X + (0.01+0.98*rng.Float64())*e.X*fill.X,
			Y: g.Origin.Y + (0.01+0.98*rng.Float64())*e.Y*fill.Y,
		}
		if !g.Is2D() {
			pos.Z = g.Origin.Z + (0.01+0.98*rng.Float64())*e.Z*fill.Z
		}
		vel := r3.Vec{X: rng.NormFloat64(), Y: rng.NormFloat64()}
		if !g.Is2D() {
			vel.Z = rng.NormFloat64()
		}
		ps.Add(pos, vel, 0.5+rng.Float64())
	}
	return ps
}

// stratifiedParticles jitters two particles per cell per axis, so every cell
// is occupied.
func stratifiedParticles(g grid.Grid, seed uint64) *particles.Set {
	rng := rand.New(rand.NewPCG(seed, 9))
	ps := particles.NewSet(0)
	sub := g.H / 2
	zs := 2
	if g.Is2D() {
		zs = 1
	}
	for i := 0; i < g.NumCells(); i++ {
		c := g.CoordOf(i)
		lo := r3.Sub(g.CellCenter(c), r3.Vec{X: sub, Y: sub, Z: sub})
		for k := 0; k < 4*zs; k++ {
			pos := r3.Vec{
				X: lo.X + (float64(k&1)+0.1+0.8*rng.Float64())*sub,
				Y: lo.Y + (float64(k>>1&1)+0.1+0.8*rng.Float64())*sub,
				Z: lo.Z + (float64(k>>2&1)+0.1+0.8*rng.Float64())*sub,
			}
			if g.Is2D() {
				pos.Z = 0
			}
			ps.Add(pos, r3.Vec{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}, 0.5+rng.Float64())
		}
	}
	return ps
}

func setup(g grid.Grid, ps *particles.Set) (Input, *Buffers) {
	return Input{Particles: ps, Flow: grid.NewFaceField(g), Markers: grid.NewMarkerField(g)}, NewBuffers(g)
}

func gridMomentum(flow, weight *grid.VectorField) r3.Vec {
	var m [3]float64
	for _, a := range flow.Grid.Axes() {
		for i, w := range weight.Comp[a] {
			m[a] += w * flow.Comp[a][i]
		}
	}
	return r3.Vec{X: m[0], Y: m[1], Z: m[2]}
}

func TestP2GConservesMomentum(t *testing.T) {
	for _, g := range []grid.Grid{
		grid.MustNew(grid.Coord{16, 12, 1}, 0.1, r3.Vec{X: -0.8, Y: 0.2}),
		grid.MustNew(grid.Coord{8, 8, 8}, 0.25, r3.Vec{}),
	} {
		ps := stratifiedParticles(g, 1)
		if g.Is2D() {
			for i := range ps.Vel {
				ps.Vel[i].Z = 0
			}
		}
		in, buf := setup(g, ps)
		require.NoError(t, P2G(in, DefaultParams(), buf))
		require.Equal(t, g.NumCells(), in.Markers.Count(grid.Fluid))

		want := ps.Momentum()
		got := gridMomentum(in.Flow, buf.Weight)
		assert.InDelta(t, want.X, got.X, 1e-9)
		assert.InDelta(t, want.Y, got.Y, 1e-9)
		assert.InDelta(t, want.Z, got.Z, 1e-9)
	}
}

func TestP2GConservesMomentumPartialFill(t *testing.T) {
	// Both particles sit in cell (2,2); the upper one also weights the row-3
	// x faces, which lie outside the fluid cells.
	g := grid.MustNew(grid.Coord{6, 6, 1}, 1, r3.Vec{})
	ps := particles.NewSet(2)
	ps.Add(r3.Vec{X: 2.5, Y: 2.9}, r3.Vec{X: 1}, 1)
	ps.Add(r3.Vec{X: 2.5, Y: 2.5}, r3.Vec{X: -3}, 1)
	in, buf := setup(g, ps)

	require.NoError(t, P2G(in, DefaultParams(), buf))
	require.Equal(t, 1, in.Markers.Count(grid.Fluid))
	require.Greater(t, buf.Weight.At(0, grid.Coord{2, 3, 0}), 0.0)

	assert.InDelta(t, 1, in.Flow.At(0, grid.Coord{2, 3, 0}), 1e-12)
	assert.InDelta(t, 1, in.Flow.At(0, grid.Coord{3, 3, 0}), 1e-12)
	got := gridMomentum(in.Flow, buf.Weight)
	assert.InDelta(t, -2, got.X, 1e-9)
	assert.InDelta(t, 0, got.Y, 1e-9)
	// The cache holds the same scattered field.
	assert.InDelta(t, 1, buf.Cache.At(0, grid.Coord{2, 3, 0}), 1e-12)
}

func TestP2GClassifiesByOccupancy(t *testing.T) {
	g := grid.MustNew(grid.Coord{4, 4, 1}, 1, r3.Vec{})
	ps := particles.NewSet(2)
	ps.Add(r3.Vec{X: 0.5, Y: 0.5}, r3.Vec{X: 1}, 1)
	ps.Add(r3.Vec{X: 2.5, Y: 3.5}, r3.Vec{}, 1)
	in, buf := setup(g, ps)
	in.Markers.Fill(grid.Solid)

	require.NoError(t, P2G(in, DefaultParams(), buf))
	assert.Equal(t, 2, in.Markers.Count(grid.Fluid))
	assert.Equal(t, grid.Fluid, in.Markers.At(grid.Coord{0, 0, 0}))
	assert.Equal(t, grid.Fluid, in.Markers.At(grid.Coord{2, 3, 0}))
	assert.Equal(t, 14, in.Markers.Count(grid.Empty))
}

func TestBuildDistanceLayers(t *testing.T) {
	g := grid.MustNew(grid.Coord{9, 9, 1}, 1, r3.Vec{})
	m := grid.NewMarkerField(g)
	m.Set(grid.Coord{4, 4, 0}, grid.Fluid)
	dist := grid.NewIndexField(g, 0)

	BuildDistance(m, dist, 3)
	for i, d := range dist.Data {
		c := g.CoordOf(i)
		manhattan := abs(c[0]-4) + abs(c[1]-4)
		if manhattan <= 3 {
			assert.Equal(t, manhattan, d, "cell %v", c)
		} else {
			assert.Equal(t, Unreached, d, "cell %v", c)
		}
	}
}

func TestExtrapolateExtendsConstantField(t *testing.T) {
	g := grid.MustNew(grid.Coord{12, 12, 1}, 1, r3.Vec{})
	m := grid.NewMarkerField(g)
	for x := 5; x <= 6; x++ {
		for y := 5; y <= 6; y++ {
			m.Set(grid.Coord{x, y, 0}, grid.Fluid)
		}
	}
	dist := grid.NewIndexField(g, 0)
	BuildDistance(m, dist, 2)

	flow := grid.NewFaceField(g)
	for _, a := range g.Axes() {
		for i := range flow.Comp[a] {
			if faceLayer(dist, a, flow.CompCoord(a, i)) == 0 {
				flow.Comp[a][i] = 1.5
			}
		}
	}

	Extrapolate(flow, m, dist, 2)
	for _, a := range g.Axes() {
		for i, v := range flow.Comp[a] {
			f := flow.CompCoord(a, i)
			switch l := faceLayer(dist, a, f); {
			case l == Unreached:
				assert.Zero(t, v, "axis %d face %v", a, f)
			default:
				assert.Equal(t, 1.5, v, "axis %d face %v layer %d", a, f, l)
			}
		}
	}
}

func TestExtrapolateAveragesPreviousLayer(t *testing.T) {
	// A single fluid cell in a line: x faces 0 and 1 belong to layer 0.
	g := grid.MustNew(grid.Coord{5, 1, 1}, 1, r3.Vec{})
	m := grid.NewMarkerField(g)
	m.Set(grid.Coord{0, 0, 0}, grid.Fluid)
	flow := grid.NewFaceField(g)
	flow.Set(0, grid.Coord{0, 0, 0}, 2)
	flow.Set(0, grid.Coord{1, 0, 0}, 4)
	dist := grid.NewIndexField(g, 0)

	Extrapolate(flow, m, dist, 2)
	assert.Equal(t, 2.0, flow.At(0, grid.Coord{0, 0, 0}))
	assert.Equal(t, 4.0, flow.At(0, grid.Coord{1, 0, 0}))
	assert.Equal(t, 4.0, flow.At(0, grid.Coord{2, 0, 0}))
	assert.Equal(t, 4.0, flow.At(0, grid.Coord{3, 0, 0}))
	assert.Equal(t, 0.0, flow.At(0, grid.Coord{4, 0, 0}))
}

func TestG2PBlend(t *testing.T) {
	g := grid.MustNew(grid.Coord{6, 6, 1}, 1, r3.Vec{})
	ps := particles.NewSet(1)
	ps.Add(r3.Vec{X: 3.2, Y: 2.7}, r3.Vec{X: 1, Y: -2}, 1)
	in, buf := setup(g, ps)
	in.Markers.Fill(grid.Fluid)

	in.Flow.Fill(3)
	buf.Cache.Fill(0.5)

	for _, ratio := range []float64{0, 0.97, 1} {
		ps.Vel[0] = r3.Vec{X: 1, Y: -2}
		p := DefaultParams()
		p.Ratio = ratio
		require.NoError(t, G2P(in, p, buf))
		wantX := ratio*(1+3-0.5) + (1-ratio)*3
		wantY := ratio*(-2+3-0.5) + (1-ratio)*3
		assert.InDelta(t, wantX, ps.Vel[0].X, 1e-12, "ratio %v", ratio)
		assert.InDelta(t, wantY, ps.Vel[0].Y, 1e-12, "ratio %v", ratio)
		assert.Zero(t, ps.Vel[0].Z)
	}
}

func TestRoundTripWithoutForcesKeepsUniformVelocity(t *testing.T) {
	g := grid.MustNew(grid.Coord{10, 10, 1}, 0.1, r3.Vec{})
	ps := randomParticles(g, 300, 2, r3.Vec{X: 1, Y: 1})
	for i := range ps.Vel {
		ps.Vel[i] = r3.Vec{X: 0.3, Y: -0.1}
	}
	in, buf := setup(g, ps)
	p := DefaultParams()
	require.NoError(t, P2G(in, p, buf))
	require.NoError(t, G2P(in, p, buf))
	for _, v := range ps.Vel {
		assert.InDelta(t, 0.3, v.X, 1e-9)
		assert.InDelta(t, -0.1, v.Y, 1e-9)
	}
}

func TestSolvePressureIsDivergenceFree(t *testing.T) {
	g := grid.MustNew(grid.Coord{16, 16, 1}, 1.0/16, r3.Vec{})
	ps := randomParticles(g, 1500, 3, r3.Vec{X: 1, Y: 0.5})
	in, buf := setup(g, ps)
	p := DefaultParams()
	p.Boundary = SolidWalls
	p.Pressure.Solver = linsys.Settings{Preconditioner: linsys.ModifiedIncompleteCholesky, Tolerance: 1e-11}

	require.NoError(t, P2G(in, p, buf))
	AddForce(in.Flow, r3.Vec{Y: -9.8}, 0.01)
	stats, err := SolvePressure(in, p, buf)
	require.NoError(t, err)
	assert.True(t, stats.Converged, "stats %+v", stats)

	for i, tag := range in.Markers.Data {
		if tag == grid.Fluid {
			assert.InDelta(t, 0, poisson.Divergence(in.Flow, g.CoordOf(i)), 1e-8)
		}
	}
	for i, v := range in.Flow.Comp[1] {
		if f := in.Flow.CompCoord(1, i); f[1] == 0 || f[1] == g.Res[1] {
			assert.Zero(t, v)
		}
	}
}

func TestSolidWalls(t *testing.T) {
	g := grid.MustNew(grid.Coord{4, 3, 1}, 1, r3.Vec{})
	m := grid.NewMarkerField(g)
	m.Set(grid.Coord{2, 1, 0}, grid.Solid)
	flow := grid.NewFaceField(g)
	flow.Fill(1)
	SolidWalls(flow, m)

	assert.Zero(t, flow.At(0, grid.Coord{0, 1, 0}))
	assert.Zero(t, flow.At(0, grid.Coord{4, 1, 0}))
	assert.Zero(t, flow.At(0, grid.Coord{2, 1, 0}))
	assert.Zero(t, flow.At(0, grid.Coord{3, 1, 0}))
	assert.Zero(t, flow.At(1, grid.Coord{2, 1, 0}))
	assert.Zero(t, flow.At(1, grid.Coord{2, 2, 0}))
	assert.Equal(t, 1.0, flow.At(0, grid.Coord{1, 1, 0}))
	assert.Equal(t, 1.0, flow.At(1, grid.Coord{1, 1, 0}))
}

func TestStepKeepsParticlesInside(t *testing.T) {
	g := grid.MustNew(grid.Coord{12, 12, 1}, 1.0/12, r3.Vec{})
	ps := randomParticles(g, 600, 4, r3.Vec{X: 0.4, Y: 0.6})
	in, buf := setup(g, ps)
	p := DefaultParams()
	p.Boundary = SolidWalls

	for step := 0; step < 5; step++ {
		_, err := Step(in, p, buf, r3.Vec{Y: -9.8}, 0.01)
		require.NoError(t, err)
	}
	for i, pos := range ps.Pos {
		assert.True(t, g.Contains(pos), "particle %d at %v", i, pos)
		assert.False(t, math.IsNaN(ps.Vel[i].X) || math.IsNaN(ps.Vel[i].Y))
	}
}

func TestValidation(t *testing.T) {
	g := grid.MustNew(grid.Coord{4, 4, 1}, 1, r3.Vec{})
	ps := particles.NewSet(0)
	in, buf := setup(g, ps)

	bad := in
	bad.Flow = grid.NewCenterField(g)
	assert.ErrorIs(t, P2G(bad, DefaultParams(), buf), grid.ErrSampling)

	bad = in
	bad.Particles = nil
	assert.ErrorIs(t, G2P(bad, DefaultParams(), buf), grid.ErrMissingField)

	assert.ErrorIs(t, P2G(in, DefaultParams(), nil), grid.ErrMissingField)

	other := NewBuffers(grid.MustNew(grid.Coord{4, 5, 1}, 1, r3.Vec{}))
	_, err := SolvePressure(in, DefaultParams(), other)
	assert.ErrorIs(t, err, grid.ErrDimensionMismatch)

	p := DefaultParams()
	p.Ratio = 1.5
	assert.Error(t, P2G(in, p, buf))

	_, err = Step(in, DefaultParams(), buf, r3.Vec{}, 0)
	assert.Error(t, err)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
