package sph

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/voxflow/grid"
	"github.com/pthm-cable/voxflow/parallel"
	"github.com/pthm-cable/voxflow/particles"
)

// Splat overwrites field with the kernel sum of mass around every cell
// centre, sum_j m_j W(x_cell - x_j). A nil mass counts every particle as
// one. On a 2D grid cell centres are taken in the z = 0 plane.
func Splat(field *grid.ScalarField, k Kernel, pos []r3.Vec, mass []float64) {
	g := field.Grid
	hash := particles.NewSpatialHash(k.H)
	for i, p := range pos {
		hash.Insert(i, p)
	}

	parallel.ForRange(len(field.Data), parallel.Parallel, func(i0, i1 int) {
		var near []int
		for i := i0; i < i1; i++ {
			x := g.CellCenter(g.CoordOf(i))
			if g.Is2D() {
				x.Z = 0
			}
			near = hash.QueryRadiusInto(near[:0], x, k.H, pos)
			var sum float64
			for _, j := range near {
				m := 1.0
				if mass != nil {
					m = mass[j]
				}
				sum += m * k.W(r3.Sub(x, pos[j]))
			}
			field.Data[i] = sum
		}
	})
}
