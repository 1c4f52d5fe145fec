package linsys

import (
	"sort"

	"github.com/james-bowman/sparse"
)

// Stencil describes the operator (Identity ? I : 0) + Factor * (-Laplacian).
//
//	Factor = 1                     pressure projection
//	Factor = D*dt/h^2 with I       implicit diffusion
//	Factor = c*dt^2/h^2 with I     implicit wave
type Stencil struct {
	Factor   float64
	Identity bool
}

// Assemble builds the system matrix for every row of rm. For each active axis
// and direction, a valid neighbour adds Factor to the diagonal and, when it
// owns a row, -Factor off the diagonal. Neighbours outside the grid add
// nothing, which leaves a zero-flux boundary at the domain edge.
//
// Assembly writes into one shared sparse structure and always runs on the
// calling goroutine.
func Assemble(rm RowMap, st Stencil) *sparse.CSR {
	n := rm.Len()
	g := rm.Grid
	axes := g.Axes()
	dok := sparse.NewDOK(n, n)

	for r, cell := range rm.Cells {
		c := g.CoordOf(cell)
		diag := 0.0
		if st.Identity {
			diag = 1
		}
		for _, a := range axes {
			for dir := 0; dir < 2; dir++ {
				nb := g.Neighbor(c, a, dir)
				if !g.Valid(nb) {
					continue
				}
				nr := rm.Rows[g.Index(nb)]
				if nr < 0 {
					if rm.Exterior == Dirichlet {
						diag += st.Factor
					}
					continue
				}
				diag += st.Factor
				dok.Set(r, nr, dok.At(r, nr)-st.Factor)
			}
		}
		// An isolated cell has no coupling at all; keep the row invertible.
		if diag == 0 {
			diag = 1
		}
		dok.Set(r, r, diag)
	}
	return dok.ToCSR()
}

// matrix is a row-compressed copy of a CSR with sorted columns and a cached
// diagonal, used by the solver kernels.
type matrix struct {
	n      int
	rowPtr []int
	col    []int
	val    []float64
	diag   []float64
}

func compress(a *sparse.CSR) *matrix {
	n, _ := a.Dims()
	type entry struct {
		j int
		v float64
	}
	rows := make([][]entry, n)
	a.DoNonZero(func(i, j int, v float64) {
		rows[i] = append(rows[i], entry{j, v})
	})

	m := &matrix{n: n, rowPtr: make([]int, n+1), diag: make([]float64, n)}
	for i, row := range rows {
		sort.Slice(row, func(x, y int) bool { return row[x].j < row[y].j })
		for _, e := range row {
			m.col = append(m.col, e.j)
			m.val = append(m.val, e.v)
			if e.j == i {
				m.diag[i] = e.v
			}
		}
		m.rowPtr[i+1] = len(m.col)
	}
	return m
}

// mulVec computes dst = A*x for rows [i0, i1).
func (m *matrix) mulVec(dst, x []float64, i0, i1 int) {
	for i := i0; i < i1; i++ {
		var s float64
		for k := m.rowPtr[i]; k < m.rowPtr[i+1]; k++ {
			s += m.val[k] * x[m.col[k]]
		}
		dst[i] = s
	}
}
