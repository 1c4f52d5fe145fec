package scene

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/voxflow/grid"
	"github.com/pthm-cable/voxflow/parallel"
)

// DamBreak seeds perAxis jittered particles per active axis in every cell
// whose centre lies in the lower corner block covering fill of the domain.
// In 2D particles sit on the mid plane of the single z layer. Returns the
// number of particles spawned.
func DamBreak(w *World, g grid.Grid, fill r3.Vec, perAxis int, mass float64, rng *rand.Rand) int {
	ext := g.Extent()
	limit := r3.Vec{X: fill.X * ext.X, Y: fill.Y * ext.Y, Z: fill.Z * ext.Z}

	n := 0
	for i := 0; i < g.NumCells(); i++ {
		c := g.CoordOf(i)
		centre := r3.Sub(g.CellCenter(c), g.Origin)
		if centre.X > limit.X || centre.Y > limit.Y || (!g.Is2D() && centre.Z > limit.Z) {
			continue
		}
		n += seedCell(g, c, perAxis, rng, func(p r3.Vec) {
			w.Spawn(p, r3.Vec{}, mass)
		})
	}
	return n
}

// Inflow emits jittered particles moving at vel into every cell of the x = 0
// slab whose centre height lies within band, given as fractions of the domain
// height. The particles are tagged with step. Returns the number emitted.
func Inflow(w *World, g grid.Grid, band [2]float64, perAxis int, mass float64, vel r3.Vec, step int, rng *rand.Rand) int {
	height := g.Extent().Y
	n := 0
	for i := 0; i < g.NumCells(); i++ {
		c := g.CoordOf(i)
		if c[0] != 0 {
			continue
		}
		y := (g.CellCenter(c).Y - g.Origin.Y) / height
		if y < band[0] || y > band[1] {
			continue
		}
		n += seedCell(g, c, perAxis, rng, func(p r3.Vec) {
			w.Emit(p, vel, mass, step)
		})
	}
	return n
}

// seedCell calls place for perAxis jittered positions per axis inside cell c.
// In 2D the positions sit on the mid plane of the single z layer.
func seedCell(g grid.Grid, c grid.Coord, perAxis int, rng *rand.Rand, place func(p r3.Vec)) int {
	sub := g.H / float64(perAxis)
	axes := g.Axes()
	lower := r3.Sub(g.CellCenter(c), r3.Scale(0.5*g.H, r3.Vec{X: 1, Y: 1, Z: 1}))
	n := 0
	var k [3]int
	for {
		var off [3]float64
		for _, a := range axes {
			off[a] = (float64(k[a]) + 0.25 + 0.5*rng.Float64()) * sub
		}
		p := r3.Add(lower, r3.Vec{X: off[0], Y: off[1], Z: off[2]})
		if g.Is2D() {
			p.Z = g.CellCenter(c).Z
		}
		place(p)
		n++
		if !next(&k, axes, perAxis) {
			return n
		}
	}
}

// next advances a mixed-radix counter over the given axes.
func next(k *[3]int, axes []int, base int) bool {
	for _, a := range axes {
		k[a]++
		if k[a] < base {
			return true
		}
		k[a] = 0
	}
	return false
}

// Block spawns an n[0] x n[1] x n[2] lattice of resting particles with the
// given spacing, its lowest particle at corner.
func Block(w *World, corner r3.Vec, n [3]int, spacing, mass float64) int {
	count := 0
	for z := 0; z < n[2]; z++ {
		for y := 0; y < n[1]; y++ {
			for x := 0; x < n[0]; x++ {
				p := r3.Add(corner, r3.Scale(spacing, r3.Vec{X: float64(x), Y: float64(y), Z: float64(z)}))
				w.Spawn(p, r3.Vec{}, mass)
				count++
			}
		}
	}
	return count
}

// Disc sets every cell whose centre lies within radius of centre to value
// and returns how many cells it touched.
func Disc(f *grid.ScalarField, centre r3.Vec, radius, value float64) int {
	n := 0
	for i := range f.Data {
		if r3.Norm(r3.Sub(f.Grid.CellCenter(f.Grid.CoordOf(i)), centre)) <= radius {
			f.Data[i] = value
			n++
		}
	}
	return n
}

// Pulse adds a raised-cosine bump of the given amplitude and radius.
func Pulse(f *grid.ScalarField, centre r3.Vec, radius, amplitude float64) {
	for i := range f.Data {
		d := r3.Norm(r3.Sub(f.Grid.CellCenter(f.Grid.CoordOf(i)), centre))
		if d < radius {
			f.Data[i] += amplitude * 0.5 * (1 + math.Cos(math.Pi*d/radius))
		}
	}
}

// Buoyancy adds dt*lift*density to the vertical faces, averaging the two
// cells beside each face.
func Buoyancy(flow *grid.VectorField, density *grid.ScalarField, lift, dt float64) {
	comp := flow.Comp[1]
	parallel.For(len(comp), parallel.Parallel, func(i int) {
		f := flow.CompCoord(1, i)
		if f[1] == 0 || f[1] == flow.Grid.Res[1] {
			return
		}
		d := 0.5 * (density.At(f) + density.At(f.Add(1, -1)))
		comp[i] += dt * lift * d
	})
}

// AdvectField transports src through flow for dt by tracing each cell
// centre backwards and sampling src there.
func AdvectField(dst, src *grid.ScalarField, flow *grid.VectorField, dt float64) {
	g := src.Grid
	parallel.For(len(dst.Data), parallel.Parallel, func(i int) {
		x := g.CellCenter(g.CoordOf(i))
		back := r3.Sub(x, r3.Scale(dt, flow.SampleVec(x)))
		dst.Data[i] = src.Sample(back)
	})
}

// Centre returns the point at the given fractions of the grid extent.
func Centre(g grid.Grid, frac r3.Vec) r3.Vec {
	e := g.Extent()
	c := r3.Add(g.Origin, r3.Vec{X: frac.X * e.X, Y: frac.Y * e.Y, Z: frac.Z * e.Z})
	if g.Is2D() {
		c.Z = g.CellCenter(grid.Coord{}).Z
	}
	return c
}
