package grid

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Sampling selects where vector components live.
type Sampling uint8

const (
	// Center stores every component at cell centres.
	Center Sampling = iota
	// Face stores component a on the faces normal to axis a (MAC layout).
	Face
)

func (s Sampling) String() string {
	if s == Face {
		return "face"
	}
	return "center"
}

// VectorField stores one component per active axis. Components of inactive
// axes are nil.
type VectorField struct {
	Grid     Grid
	Sampling Sampling
	Comp     [3][]float64
}

// NewFaceField allocates a zeroed MAC velocity field.
func NewFaceField(g Grid) *VectorField { return newVectorField(g, Face) }

// NewCenterField allocates a zeroed cell-centred vector field.
func NewCenterField(g Grid) *VectorField { return newVectorField(g, Center) }

func newVectorField(g Grid, s Sampling) *VectorField {
	v := &VectorField{Grid: g, Sampling: s}
	for _, a := range g.Axes() {
		r := v.CompRes(a)
		v.Comp[a] = make([]float64, r[0]*r[1]*r[2])
	}
	return v
}

func (v *VectorField) Layout() Grid { return v.Grid }

// CompRes returns the sample resolution of component axis.
func (v *VectorField) CompRes(axis int) Coord {
	r := v.Grid.Res
	if v.Sampling == Face {
		r[axis]++
	}
	return r
}

// CompIndex maps a sample coordinate of component axis to its offset.
func (v *VectorField) CompIndex(axis int, f Coord) int {
	r := v.CompRes(axis)
	return f[0] + r[0]*(f[1]+r[1]*f[2])
}

// CompCoord is the inverse of CompIndex.
func (v *VectorField) CompCoord(axis, i int) Coord {
	r := v.CompRes(axis)
	plane := r[0] * r[1]
	z := i / plane
	rem := i - z*plane
	y := rem / r[0]
	return Coord{rem - y*r[0], y, z}
}

// CompValid reports whether f is a sample of component axis.
func (v *VectorField) CompValid(axis int, f Coord) bool {
	r := v.CompRes(axis)
	return f[0] >= 0 && f[0] < r[0] && f[1] >= 0 && f[1] < r[1] && f[2] >= 0 && f[2] < r[2]
}

func (v *VectorField) At(axis int, f Coord) float64 { return v.Comp[axis][v.CompIndex(axis, f)] }

func (v *VectorField) Set(axis int, f Coord, val float64) {
	v.Comp[axis][v.CompIndex(axis, f)] = val
}

// Fill sets every sample of every component to val.
func (v *VectorField) Fill(val float64) {
	for _, a := range v.Grid.Axes() {
		for i := range v.Comp[a] {
			v.Comp[a][i] = val
		}
	}
}

// CopyFrom copies src's samples. Both fields must share grid and sampling.
func (v *VectorField) CopyFrom(src *VectorField) {
	for _, a := range v.Grid.Axes() {
		copy(v.Comp[a], src.Comp[a])
	}
}

// SamplePos returns the world position of a sample of component axis.
func (v *VectorField) SamplePos(axis int, f Coord) r3.Vec {
	p := v.Grid.CellCenter(f)
	if v.Sampling == Face {
		switch axis {
		case 0:
			p.X -= 0.5 * v.Grid.H
		case 1:
			p.Y -= 0.5 * v.Grid.H
		case 2:
			p.Z -= 0.5 * v.Grid.H
		}
	}
	return p
}

// Stencil holds the in-bounds interpolation samples around a position with
// weights renormalised to sum to one. N is zero when no sample is in bounds.
type Stencil struct {
	N   int
	Idx [8]int
	W   [8]float64
}

// Stencil computes bilinear (2D) or trilinear (3D) weights of component axis at p.
func (v *VectorField) Stencil(axis int, p r3.Vec) Stencil {
	axes := v.Grid.Axes()
	var base Coord
	var frac [3]float64
	for _, b := range axes {
		u := (component(p, b) - component(v.Grid.Origin, b)) / v.Grid.H
		if v.Sampling == Center || b != axis {
			u -= 0.5
		}
		fl := math.Floor(u)
		base[b] = int(fl)
		frac[b] = u - fl
	}

	var st Stencil
	var sum float64
	corners := 1 << len(axes)
	for k := 0; k < corners; k++ {
		c := base
		w := 1.0
		for bit, b := range axes {
			if k&(1<<bit) != 0 {
				c[b]++
				w *= frac[b]
			} else {
				w *= 1 - frac[b]
			}
		}
		if w == 0 || !v.CompValid(axis, c) {
			continue
		}
		st.Idx[st.N] = v.CompIndex(axis, c)
		st.W[st.N] = w
		st.N++
		sum += w
	}
	if sum <= 0 {
		st.N = 0
		return st
	}
	for k := 0; k < st.N; k++ {
		st.W[k] /= sum
	}
	return st
}

// Sample interpolates component axis at p. Positions with no in-bounds
// sample return zero.
func (v *VectorField) Sample(axis int, p r3.Vec) float64 {
	st := v.Stencil(axis, p)
	var s float64
	for k := 0; k < st.N; k++ {
		s += st.W[k] * v.Comp[axis][st.Idx[k]]
	}
	return s
}

// SampleVec interpolates every active component at p.
func (v *VectorField) SampleVec(p r3.Vec) r3.Vec {
	var out [3]float64
	for _, a := range v.Grid.Axes() {
		out[a] = v.Sample(a, p)
	}
	return r3.Vec{X: out[0], Y: out[1], Z: out[2]}
}
