package flip

import (
	"github.com/pthm-cable/voxflow/grid"
	"github.com/pthm-cable/voxflow/parallel"
)

// Unreached marks a cell the distance field did not reach.
const Unreached = -1

// BuildDistance fills dist with the breadth-first layer of every cell:
// 0 for Fluid cells, L for cells first reached from a layer L-1 neighbour,
// up to depth. Layers complete strictly in order; each layer is scanned in
// parallel and committed after the scan.
func BuildDistance(markers *grid.MarkerField, dist *grid.IndexField, depth int) {
	g := markers.Grid
	d := dist.Data
	for i, t := range markers.Data {
		if t == grid.Fluid {
			d[i] = 0
		} else {
			d[i] = Unreached
		}
	}

	axes := g.Axes()
	reached := make([]bool, len(d))
	for layer := 1; layer <= depth; layer++ {
		parallel.For(len(d), parallel.Parallel, func(i int) {
			reached[i] = false
			if d[i] != Unreached {
				return
			}
			c := g.CoordOf(i)
			for _, a := range axes {
				for dir := 0; dir < 2; dir++ {
					nb := g.Neighbor(c, a, dir)
					if g.Valid(nb) && d[g.Index(nb)] == layer-1 {
						reached[i] = true
						return
					}
				}
			}
		})
		grown := false
		for i, r := range reached {
			if r {
				d[i] = layer
				grown = true
			}
		}
		if !grown {
			return
		}
	}
}

// faceLayer returns the smaller layer of the in-grid cells beside face f of
// axis a, or Unreached when neither was reached.
func faceLayer(dist *grid.IndexField, a int, f grid.Coord) int {
	layer := Unreached
	for _, c := range [2]grid.Coord{f.Add(a, -1), f} {
		if !dist.Grid.Valid(c) {
			continue
		}
		if l := dist.At(c); l != Unreached && (layer == Unreached || l < layer) {
			layer = l
		}
	}
	return layer
}

// Extrapolate rebuilds the distance field from markers and extends face
// velocities outward layer by layer: a face of layer L takes the average of
// its same-axis neighbour faces of lower layers. Faces beyond depth keep their
// values.
func Extrapolate(flow *grid.VectorField, markers *grid.MarkerField, dist *grid.IndexField, depth int) {
	extrapolate(flow, markers, dist, depth, nil)
}

// extrapolate is Extrapolate with an optional field of known faces: a face
// whose known weight is positive is layer 0 and keeps its value.
func extrapolate(flow *grid.VectorField, markers *grid.MarkerField, dist *grid.IndexField, depth int, known *grid.VectorField) {
	BuildDistance(markers, dist, depth)
	g := flow.Grid
	axes := g.Axes()
	for _, a := range axes {
		comp := flow.Comp[a]
		layers := make([]int, len(comp))
		parallel.For(len(comp), parallel.Parallel, func(i int) {
			if known != nil && known.Comp[a][i] > 0 {
				layers[i] = 0
				return
			}
			layers[i] = faceLayer(dist, a, flow.CompCoord(a, i))
		})
		for layer := 1; layer <= depth; layer++ {
			// Faces of this layer only read finished faces.
			parallel.For(len(comp), parallel.Parallel, func(i int) {
				if layers[i] != layer {
					return
				}
				f := flow.CompCoord(a, i)
				var sum float64
				n := 0
				for _, b := range axes {
					for _, step := range [2]int{-1, 1} {
						nf := f.Add(b, step)
						if !flow.CompValid(a, nf) {
							continue
						}
						j := flow.CompIndex(a, nf)
						if l := layers[j]; l != Unreached && l < layer {
							sum += comp[j]
							n++
						}
					}
				}
				if n > 0 {
					comp[i] = sum / float64(n)
				}
			})
		}
	}
}
