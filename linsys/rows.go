// Package linsys assembles scaled grid Laplacians over classified cells and
// solves them with preconditioned conjugate gradients.
package linsys

import (
	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"

	"github.com/pthm-cable/voxflow/grid"
	"github.com/pthm-cable/voxflow/parallel"
)

// Exterior decides how a valid neighbour without a row enters the stencil.
type Exterior uint8

const (
	// Dirichlet treats the neighbour as a fixed zero value: it adds to the
	// diagonal but has no off-diagonal entry.
	Dirichlet Exterior = iota
	// Neumann drops the neighbour from the stencil entirely.
	Neumann
)

// RowMap maps grid cells to matrix rows. Rows[cell] is -1 for cells without
// an equation; Cells[row] is the inverse.
type RowMap struct {
	Grid     grid.Grid
	Rows     []int
	Cells    []int
	Exterior Exterior
}

// Len returns the system size.
func (rm RowMap) Len() int { return len(rm.Cells) }

// FluidRows gives every Fluid cell a row, in storage order.
func FluidRows(m *grid.MarkerField) RowMap {
	rm := RowMap{Grid: m.Grid, Rows: make([]int, len(m.Data)), Exterior: Dirichlet}
	for i, t := range m.Data {
		if t != grid.Fluid {
			rm.Rows[i] = -1
			continue
		}
		rm.Rows[i] = len(rm.Cells)
		rm.Cells = append(rm.Cells, i)
	}
	return rm
}

// ActiveRows uses a precomputed active index (grid.Inactive for cells
// outside the domain). Inactive neighbours are treated as Neumann.
func ActiveRows(active *grid.IndexField) RowMap {
	rm := RowMap{Grid: active.Grid, Rows: make([]int, len(active.Data)), Exterior: Neumann}
	n := 0
	for _, r := range active.Data {
		if r != grid.Inactive {
			n++
		}
	}
	rm.Cells = make([]int, n)
	for i, r := range active.Data {
		rm.Rows[i] = r
		if r != grid.Inactive {
			rm.Cells[r] = i
		}
	}
	return rm
}

// Gather builds a row vector from per-cell values. Rows are disjoint, so the
// loop runs in parallel. An empty map yields nil.
func (rm RowMap) Gather(fn func(cell int) float64) *mat.VecDense {
	if rm.Len() == 0 {
		return nil
	}
	b := mat.NewVecDense(rm.Len(), nil)
	data := b.RawVector().Data
	parallel.For(rm.Len(), parallel.Parallel, func(r int) {
		data[r] = fn(rm.Cells[r])
	})
	return b
}

// Scatter hands each row's solution value back to its cell.
func (rm RowMap) Scatter(x *mat.VecDense, fn func(cell int, v float64)) {
	if x == nil {
		return
	}
	data := x.RawVector().Data
	parallel.For(rm.Len(), parallel.Parallel, func(r int) {
		fn(rm.Cells[r], data[r])
	})
}

// SolveInto solves A x = b starting from the values already in dst and
// writes the solution back to dst. Cells without a row are set to zero.
func (rm RowMap) SolveInto(a *sparse.CSR, b *mat.VecDense, dst []float64, s Settings) Stats {
	if rm.Len() == 0 {
		for i := range dst {
			dst[i] = 0
		}
		return Stats{Converged: true}
	}
	x := rm.Gather(func(cell int) float64 { return dst[cell] })
	stats := Solve(a, b, x, s)
	for i := range dst {
		dst[i] = 0
	}
	rm.Scatter(x, func(cell int, v float64) { dst[cell] = v })
	return stats
}
