package particles

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func randomPositions(n int, seed uint64) []r3.Vec {
	rng := rand.New(rand.NewPCG(seed, 1))
	pos := make([]r3.Vec, n)
	for i := range pos {
		pos[i] = r3.Vec{X: rng.Float64()*2 - 1, Y: rng.Float64()*2 - 1, Z: rng.Float64()*2 - 1}
	}
	return pos
}

func bruteForce(pos []r3.Vec, i int, radius float64) []int {
	var out []int
	for j := range pos {
		if r3.Norm2(r3.Sub(pos[j], pos[i])) <= radius*radius {
			out = append(out, j)
		}
	}
	return out
}

func TestNeighborsMatchBruteForce(t *testing.T) {
	pos := randomPositions(600, 1)
	var nb Neighbors
	for _, radius := range []float64{0.1, 0.25} {
		nb.Build(pos, radius)
		require.Equal(t, len(pos), nb.Len())
		for i := range pos {
			got := slices.Clone(nb.Of(i))
			slices.Sort(got)
			assert.Equal(t, bruteForce(pos, i, radius), got, "particle %d radius %v", i, radius)
		}
	}
}

func TestNeighborsIncludeSelf(t *testing.T) {
	pos := randomPositions(50, 2)
	var nb Neighbors
	nb.Build(pos, 0.05)
	for i := range pos {
		assert.Contains(t, nb.Of(i), i)
	}
}

func TestNeighborsRebuiltEachCall(t *testing.T) {
	pos := []r3.Vec{{}, {X: 0.05}}
	var nb Neighbors
	nb.Build(pos, 0.1)
	assert.Len(t, nb.Of(0), 2)

	pos[1] = r3.Vec{X: 5}
	nb.Build(pos, 0.1)
	assert.Equal(t, []int{0}, nb.Of(0))

	nb.Build(pos[:1], 0.1)
	assert.Equal(t, 1, nb.Len())
}

func TestNeighborsZeroRadius(t *testing.T) {
	pos := randomPositions(5, 3)
	var nb Neighbors
	nb.Build(pos, 0)
	for i := range pos {
		assert.Equal(t, []int{i}, nb.Of(i))
	}
}

func TestSpatialHashNegativeCoordinates(t *testing.T) {
	h := NewSpatialHash(1)
	pos := []r3.Vec{{X: -0.1}, {X: 0.1}, {X: -1.5}}
	for i, p := range pos {
		h.Insert(i, p)
	}
	got := h.QueryRadiusInto(nil, r3.Vec{}, 0.5, pos)
	slices.Sort(got)
	assert.Equal(t, []int{0, 1}, got)

	h.Clear()
	assert.Empty(t, h.QueryRadiusInto(nil, r3.Vec{}, 0.5, pos))
}

func TestSetAddAndScratch(t *testing.T) {
	s := NewSet(2)
	assert.Equal(t, 0, s.Add(r3.Vec{X: 1}, r3.Vec{Y: 2}, 0.5))
	assert.Equal(t, 1, s.Add(r3.Vec{X: 2}, r3.Vec{Y: -1}, 1.5))
	assert.Equal(t, 2, s.Len())
	require.NoError(t, s.Validate())

	s.EnsureScratch()
	assert.Len(t, s.PrevPos, 2)
	assert.Len(t, s.Lambda, 2)
	assert.Len(t, s.Density, 2)
	assert.Len(t, s.NeighborCount, 2)

	assert.Equal(t, r3.Vec{Y: 2*0.5 - 1.5}, s.Momentum())

	s.Mass = s.Mass[:1]
	assert.Error(t, s.Validate())

	s.Reset()
	assert.Zero(t, s.Len())
}
