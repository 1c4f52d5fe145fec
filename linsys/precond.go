package linsys

import (
	"fmt"
	"math"
	"strings"
)

// Preconditioner selects the PCG preconditioner.
type Preconditioner uint8

const (
	None Preconditioner = iota
	Jacobi
	IncompleteCholesky
	ModifiedIncompleteCholesky
)

func (p Preconditioner) String() string {
	switch p {
	case None:
		return "none"
	case Jacobi:
		return "jacobi"
	case IncompleteCholesky:
		return "ic"
	case ModifiedIncompleteCholesky:
		return "mic"
	}
	return fmt.Sprintf("Preconditioner(%d)", uint8(p))
}

// ParsePreconditioner accepts the names printed by String.
func ParsePreconditioner(s string) (Preconditioner, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return None, nil
	case "jacobi":
		return Jacobi, nil
	case "ic", "cholesky", "incomplete_cholesky":
		return IncompleteCholesky, nil
	case "mic", "modified_incomplete_cholesky", "":
		return ModifiedIncompleteCholesky, nil
	}
	return 0, fmt.Errorf("linsys: unknown preconditioner %q", s)
}

const (
	// micTuning is the fraction of dropped fill-in moved onto the diagonal.
	micTuning = 0.97
	// micSafety triggers the pivot fallback when a pivot shrinks below this
	// fraction of the original diagonal.
	micSafety = 0.25
)

// applier computes dst = M^-1 r.
type applier interface {
	apply(dst, r []float64)
}

func newApplier(p Preconditioner, m *matrix) applier {
	switch p {
	case None:
		return identity{}
	case Jacobi:
		return newJacobi(m)
	case IncompleteCholesky:
		return newCholesky(m, 0)
	case ModifiedIncompleteCholesky:
		return newCholesky(m, micTuning)
	}
	panic(fmt.Sprintf("linsys: unknown preconditioner %d", uint8(p)))
}

type identity struct{}

func (identity) apply(dst, r []float64) { copy(dst, r) }

type jacobi struct{ inv []float64 }

func newJacobi(m *matrix) jacobi {
	inv := make([]float64, m.n)
	for i, d := range m.diag {
		if d != 0 {
			inv[i] = 1 / d
		} else {
			inv[i] = 1
		}
	}
	return jacobi{inv: inv}
}

func (j jacobi) apply(dst, r []float64) {
	for i, v := range r {
		dst[i] = v * j.inv[i]
	}
}

// cholesky is a zero fill-in incomplete factor A ~ L L^T stored by column.
// tau = 0 gives IC(0); tau > 0 moves dropped fill-in onto the diagonal (MIC(0)).
type cholesky struct {
	pivot   []float64 // L_kk
	colRows [][]int   // rows i > k with L_ik != 0
	colVals [][]float64
}

func newCholesky(m *matrix, tau float64) *cholesky {
	n := m.n
	f := &cholesky{
		pivot:   make([]float64, n),
		colRows: make([][]int, n),
		colVals: make([][]float64, n),
	}
	// The strictly upper part of row k equals the strictly lower part of
	// column k for a symmetric matrix.
	for k := 0; k < n; k++ {
		for p := m.rowPtr[k]; p < m.rowPtr[k+1]; p++ {
			if j := m.col[p]; j > k {
				f.colRows[k] = append(f.colRows[k], j)
				f.colVals[k] = append(f.colVals[k], m.val[p])
			}
		}
	}

	d := make([]float64, n)
	copy(d, m.diag)
	for k := 0; k < n; k++ {
		orig := m.diag[k]
		if orig <= 0 {
			orig = 1
		}
		if d[k] < micSafety*orig {
			d[k] = orig
		}
		lkk := math.Sqrt(d[k])
		f.pivot[k] = lkk

		rows, vals := f.colRows[k], f.colVals[k]
		for p := range vals {
			vals[p] /= lkk
		}
		for p, i := range rows {
			vi := vals[p]
			d[i] -= vi * vi
			for q := 0; q < p; q++ {
				j, vj := rows[q], vals[q]
				// Fill-in at (i, j) with i > j > k.
				if at := indexOf(f.colRows[j], i); at >= 0 {
					f.colVals[j][at] -= vi * vj
				} else if tau > 0 {
					d[i] -= tau * vi * vj
					d[j] -= tau * vi * vj
				}
			}
		}
	}
	return f
}

func indexOf(rows []int, i int) int {
	for p, r := range rows {
		if r == i {
			return p
		}
	}
	return -1
}

func (f *cholesky) apply(dst, r []float64) {
	copy(dst, r)
	// Forward: L y = r.
	for k := range dst {
		dst[k] /= f.pivot[k]
		yk := dst[k]
		for p, i := range f.colRows[k] {
			dst[i] -= f.colVals[k][p] * yk
		}
	}
	// Backward: L^T z = y.
	for k := len(dst) - 1; k >= 0; k-- {
		s := dst[k]
		for p, i := range f.colRows[k] {
			s -= f.colVals[k][p] * dst[i]
		}
		dst[k] = s / f.pivot[k]
	}
}
