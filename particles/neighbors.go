package particles

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/voxflow/parallel"
)

type cellKey [3]int32

// SpatialHash buckets particle indices into cubic cells for radius queries.
// The domain is unbounded; only occupied cells are stored.
type SpatialHash struct {
	cellSize float64
	cells    map[cellKey][]int
}

// NewSpatialHash creates a hash with the given cell edge length.
func NewSpatialHash(cellSize float64) *SpatialHash {
	return &SpatialHash{cellSize: cellSize, cells: make(map[cellKey][]int)}
}

// Clear removes all particles, keeping bucket storage.
func (g *SpatialHash) Clear() {
	for k, v := range g.cells {
		g.cells[k] = v[:0]
	}
}

// Insert adds particle i at position p.
func (g *SpatialHash) Insert(i int, p r3.Vec) {
	k := g.key(p)
	g.cells[k] = append(g.cells[k], i)
}

// QueryRadiusInto appends every particle within radius of p (inclusive) to
// dst and returns it. pos must be the positions the hash was filled from.
// Safe for concurrent use once filled.
func (g *SpatialHash) QueryRadiusInto(dst []int, p r3.Vec, radius float64, pos []r3.Vec) []int {
	cellRadius := int32(radius/g.cellSize) + 1
	c := g.key(p)
	radiusSq := radius * radius

	for dz := -cellRadius; dz <= cellRadius; dz++ {
		for dy := -cellRadius; dy <= cellRadius; dy++ {
			for dx := -cellRadius; dx <= cellRadius; dx++ {
				for _, j := range g.cells[cellKey{c[0] + dx, c[1] + dy, c[2] + dz}] {
					if r3.Norm2(r3.Sub(pos[j], p)) <= radiusSq {
						dst = append(dst, j)
					}
				}
			}
		}
	}
	return dst
}

func (g *SpatialHash) key(p r3.Vec) cellKey {
	return cellKey{
		int32(math.Floor(p.X / g.cellSize)),
		int32(math.Floor(p.Y / g.cellSize)),
		int32(math.Floor(p.Z / g.cellSize)),
	}
}

// Neighbors holds one fixed-radius neighbour list per particle. Every list
// includes the particle itself.
type Neighbors struct {
	Radius float64
	lists  [][]int
	hash   *SpatialHash
}

// Build discards the previous lists and recomputes them for pos. Hash
// insertion is serial; queries run in parallel.
func (n *Neighbors) Build(pos []r3.Vec, radius float64) {
	if cap(n.lists) < len(pos) {
		n.lists = make([][]int, len(pos))
	}
	n.lists = n.lists[:len(pos)]
	if !(radius > 0) {
		for i := range n.lists {
			n.lists[i] = append(n.lists[i][:0], i)
		}
		n.Radius = radius
		return
	}

	if n.hash == nil || n.Radius != radius {
		n.hash = NewSpatialHash(radius)
	}
	n.Radius = radius
	n.hash.Clear()
	for i, p := range pos {
		n.hash.Insert(i, p)
	}

	parallel.For(len(pos), parallel.Parallel, func(i int) {
		n.lists[i] = n.hash.QueryRadiusInto(n.lists[i][:0], pos[i], radius, pos)
	})
}

// Of returns the neighbour indices of particle i.
func (n *Neighbors) Of(i int) []int { return n.lists[i] }

func (n *Neighbors) Len() int { return len(n.lists) }
