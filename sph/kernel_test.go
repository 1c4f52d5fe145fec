package sph

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/integrate/quad"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/voxflow/grid"
)

func TestGradientVanishesAtOriginAndSupport(t *testing.T) {
	for _, kind := range Kinds() {
		t.Run(kind.String(), func(t *testing.T) {
			k := NewKernel(kind, 0.3)
			assert.Equal(t, r3.Vec{}, k.Grad(r3.Vec{}))

			edge := k.Grad(r3.Vec{X: 0.3})
			assert.InDelta(t, 0, r3.Norm(edge), 1e-9)
			nearEdge := k.Grad(r3.Scale(0.3*(1-1e-9), r3.Unit(r3.Vec{X: 1, Y: 2, Z: -1})))
			assert.InDelta(t, 0, r3.Norm(nearEdge), 1e-6)

			assert.Zero(t, k.WScalar(0.3))
			assert.Zero(t, k.W(r3.Vec{Y: 0.31}))
		})
	}
}

func TestKernelIntegratesToOne(t *testing.T) {
	for _, kind := range Kinds() {
		t.Run(kind.String(), func(t *testing.T) {
			h := 0.7
			k := NewKernel(kind, h)
			shell := func(r float64) float64 { return 4 * math.Pi * r * r * k.WScalar(r) }
			// The cubic spline is piecewise; split at its knot.
			total := quad.Fixed(shell, 0, h/2, 16, nil, 0) + quad.Fixed(shell, h/2, h, 16, nil, 0)
			assert.InDelta(t, 1, total, 1e-9)
		})
	}
}

func TestGradientMatchesFiniteDifference(t *testing.T) {
	const delta = 1e-6
	points := []r3.Vec{{X: 0.05, Y: 0.02}, {X: -0.1, Y: 0.07, Z: 0.03}, {Z: 0.21}}
	for _, kind := range Kinds() {
		k := NewKernel(kind, 0.25)
		for _, p := range points {
			g := k.Grad(p)
			for axis, e := range []r3.Vec{{X: 1}, {Y: 1}, {Z: 1}} {
				fd := (k.W(r3.Add(p, r3.Scale(delta, e))) - k.W(r3.Sub(p, r3.Scale(delta, e)))) / (2 * delta)
				got := []float64{g.X, g.Y, g.Z}[axis]
				assert.InDelta(t, fd, got, 1e-3*math.Max(1, math.Abs(fd)), "%s at %v axis %d", kind, p, axis)
			}
		}
	}
}

func TestGradientPointsInward(t *testing.T) {
	for _, kind := range Kinds() {
		k := NewKernel(kind, 1)
		g := k.Grad(r3.Vec{X: 0.6})
		assert.Less(t, g.X, 0.0, kind.String())
		assert.Zero(t, g.Y)
	}
}

func TestParseKind(t *testing.T) {
	for _, kind := range Kinds() {
		got, err := ParseKind(kind.String())
		require.NoError(t, err)
		assert.Equal(t, kind, got)
	}
	_, err := ParseKind("wendland")
	assert.Error(t, err)
}

func TestUnknownKindPanics(t *testing.T) {
	assert.Panics(t, func() { NewKernel(Kind(9), 1) })
	k := NewKernel(Poly6, 1)
	k.Kind = Kind(9)
	assert.Panics(t, func() { k.WScalar(0.5) })
	assert.Panics(t, func() { k.Grad(r3.Vec{X: 0.5}) })
}

func TestSplat(t *testing.T) {
	g := grid.MustNew(grid.Coord{8, 8, 8}, 0.125, r3.Vec{})
	k := NewKernel(Poly6, 0.3)
	f := grid.NewScalarField(g)
	centre := r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}
	Splat(f, k, []r3.Vec{centre}, []float64{2})

	for i, v := range f.Data {
		x := g.CellCenter(g.CoordOf(i))
		assert.InDelta(t, 2*k.W(r3.Sub(x, centre)), v, 1e-12)
	}
	assert.Greater(t, f.At(grid.Coord{4, 4, 4}), 0.0)
	assert.Zero(t, f.At(grid.Coord{0, 0, 0}))

	// Default mass is one.
	Splat(f, k, []r3.Vec{centre}, nil)
	assert.InDelta(t, k.W(r3.Sub(g.CellCenter(grid.Coord{4, 4, 4}), centre)), f.At(grid.Coord{4, 4, 4}), 1e-12)
}
