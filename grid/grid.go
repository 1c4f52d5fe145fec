// Package grid provides uniform voxel grids, cell classification and the
// cell-centred and face-centred (MAC) fields the solvers operate on.
package grid

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// CellType tags a grid cell. Only Fluid cells take part in linear systems.
type CellType uint8

const (
	Empty CellType = iota
	Fluid
	Solid
	Inflow
	Outflow
)

func (t CellType) String() string {
	switch t {
	case Empty:
		return "empty"
	case Fluid:
		return "fluid"
	case Solid:
		return "solid"
	case Inflow:
		return "inflow"
	case Outflow:
		return "outflow"
	}
	return fmt.Sprintf("CellType(%d)", uint8(t))
}

// Coord is an integer cell or face coordinate. 2D grids use Coord[2] == 0.
type Coord [3]int

// Add returns c offset by d along axis.
func (c Coord) Add(axis, d int) Coord {
	c[axis] += d
	return c
}

// Grid describes a uniform voxel grid. Storage order is x fastest, then y, then z.
type Grid struct {
	Res    Coord
	H      float64 // cell size, identical along every axis
	Origin r3.Vec  // lower corner of cell (0,0,0)
}

// New validates and returns a grid. A 2D grid has Res[2] == 1.
func New(res Coord, h float64, origin r3.Vec) (Grid, error) {
	for a := 0; a < 3; a++ {
		if res[a] < 1 {
			return Grid{}, fmt.Errorf("%w: axis %d has resolution %d", ErrResolution, a, res[a])
		}
	}
	if !(h > 0) || math.IsInf(h, 0) {
		return Grid{}, fmt.Errorf("%w: cell size %v", ErrResolution, h)
	}
	return Grid{Res: res, H: h, Origin: origin}, nil
}

// MustNew is like New but panics on error.
func MustNew(res Coord, h float64, origin r3.Vec) Grid {
	g, err := New(res, h, origin)
	if err != nil {
		panic(err)
	}
	return g
}

// Axes returns the active axes, those with resolution greater than one.
func (g Grid) Axes() []int {
	axes := make([]int, 0, 3)
	for a := 0; a < 3; a++ {
		if g.Res[a] > 1 {
			axes = append(axes, a)
		}
	}
	return axes
}

// Is2D reports whether the z axis is collapsed.
func (g Grid) Is2D() bool { return g.Res[2] == 1 }

// NumCells returns the total cell count.
func (g Grid) NumCells() int { return g.Res[0] * g.Res[1] * g.Res[2] }

// Index maps a cell coordinate to its linear offset.
func (g Grid) Index(c Coord) int {
	return c[0] + g.Res[0]*(c[1]+g.Res[1]*c[2])
}

// CoordOf is the inverse of Index.
func (g Grid) CoordOf(i int) Coord {
	plane := g.Res[0] * g.Res[1]
	z := i / plane
	rem := i - z*plane
	y := rem / g.Res[0]
	return Coord{rem - y*g.Res[0], y, z}
}

// Valid reports whether c lies inside the grid.
func (g Grid) Valid(c Coord) bool {
	return c[0] >= 0 && c[0] < g.Res[0] &&
		c[1] >= 0 && c[1] < g.Res[1] &&
		c[2] >= 0 && c[2] < g.Res[2]
}

// Neighbor returns the cell next to c along axis; dir 0 is the lower side, 1 the upper.
func (g Grid) Neighbor(c Coord, axis, dir int) Coord {
	if dir == 0 {
		return c.Add(axis, -1)
	}
	return c.Add(axis, 1)
}

// Clamp pulls c onto the nearest valid cell.
func (g Grid) Clamp(c Coord) Coord {
	for a := 0; a < 3; a++ {
		if c[a] < 0 {
			c[a] = 0
		} else if c[a] >= g.Res[a] {
			c[a] = g.Res[a] - 1
		}
	}
	return c
}

// CellCenter returns the world position of a cell centre.
func (g Grid) CellCenter(c Coord) r3.Vec {
	return r3.Vec{
		X: g.Origin.X + (float64(c[0])+0.5)*g.H,
		Y: g.Origin.Y + (float64(c[1])+0.5)*g.H,
		Z: g.Origin.Z + (float64(c[2])+0.5)*g.H,
	}
}

// PosToCell returns the cell containing p. The result may be invalid.
func (g Grid) PosToCell(p r3.Vec) Coord {
	return Coord{
		int(math.Floor((p.X - g.Origin.X) / g.H)),
		int(math.Floor((p.Y - g.Origin.Y) / g.H)),
		int(math.Floor((p.Z - g.Origin.Z) / g.H)),
	}
}

// Extent returns the world size of the grid.
func (g Grid) Extent() r3.Vec {
	return r3.Vec{X: float64(g.Res[0]) * g.H, Y: float64(g.Res[1]) * g.H, Z: float64(g.Res[2]) * g.H}
}

// Contains reports whether p lies strictly inside the grid bounds.
func (g Grid) Contains(p r3.Vec) bool {
	e := g.Extent()
	d := r3.Sub(p, g.Origin)
	if d.X <= 0 || d.X >= e.X || d.Y <= 0 || d.Y >= e.Y {
		return false
	}
	if g.Is2D() {
		return true
	}
	return d.Z > 0 && d.Z < e.Z
}

func component(p r3.Vec, axis int) float64 {
	switch axis {
	case 0:
		return p.X
	case 1:
		return p.Y
	}
	return p.Z
}
