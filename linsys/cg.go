package linsys

import (
	"log/slog"
	"math"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/pthm-cable/voxflow/parallel"
)

// Settings configures a conjugate gradient solve.
type Settings struct {
	Preconditioner Preconditioner
	Tolerance      float64 // relative residual ||r||/||b||
	MaxIterations  int     // 0 = automatic
}

// DefaultSettings returns MIC preconditioning with a tight tolerance.
func DefaultSettings() Settings {
	return Settings{
		Preconditioner: ModifiedIncompleteCholesky,
		Tolerance:      1e-8,
	}
}

// Stats describes how a solve ended. A solve that hits its iteration cap
// still leaves its last iterate in x.
type Stats struct {
	Size       int
	Iterations int
	Residual   float64
	Converged  bool
}

// LogValue implements slog.LogValuer for structured logging.
func (s Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("size", s.Size),
		slog.Int("iterations", s.Iterations),
		slog.Float64("residual", s.Residual),
		slog.Bool("converged", s.Converged),
	)
}

// Merge combines the stats of consecutive solves sharing one matrix.
func (s Stats) Merge(o Stats) Stats {
	return Stats{
		Size:       max(s.Size, o.Size),
		Iterations: s.Iterations + o.Iterations,
		Residual:   max(s.Residual, o.Residual),
		Converged:  s.Converged && o.Converged,
	}
}

// Solve runs preconditioned conjugate gradients on a symmetric positive
// (semi-)definite A. x holds the initial guess on entry and the solution on
// return.
func Solve(a *sparse.CSR, b, x *mat.VecDense, s Settings) Stats {
	m := compress(a)
	n := m.n
	stats := Stats{Size: n}
	if n == 0 {
		stats.Converged = true
		return stats
	}

	tol := s.Tolerance
	if tol <= 0 {
		tol = DefaultSettings().Tolerance
	}
	maxIter := s.MaxIterations
	if maxIter <= 0 {
		maxIter = max(100, 2*n)
	}

	bd := b.RawVector().Data
	xd := x.RawVector().Data
	bnorm := floats.Norm(bd, 2)
	if bnorm == 0 {
		for i := range xd {
			xd[i] = 0
		}
		stats.Converged = true
		return stats
	}

	precon := newApplier(s.Preconditioner, m)

	r := make([]float64, n)
	z := make([]float64, n)
	p := make([]float64, n)
	q := make([]float64, n)

	matVec(m, q, xd)
	floats.SubTo(r, bd, q)
	stats.Residual = floats.Norm(r, 2) / bnorm
	if stats.Residual <= tol {
		stats.Converged = true
		return stats
	}

	precon.apply(z, r)
	copy(p, z)
	rz := floats.Dot(r, z)

	for stats.Iterations < maxIter {
		matVec(m, q, p)
		pq := floats.Dot(p, q)
		if pq <= 0 || math.IsNaN(pq) {
			break
		}
		alpha := rz / pq
		floats.AddScaled(xd, alpha, p)
		floats.AddScaled(r, -alpha, q)
		stats.Iterations++

		stats.Residual = floats.Norm(r, 2) / bnorm
		if stats.Residual <= tol {
			stats.Converged = true
			break
		}

		precon.apply(z, r)
		rzNew := floats.Dot(r, z)
		beta := rzNew / rz
		rz = rzNew
		for i := range p {
			p[i] = z[i] + beta*p[i]
		}
	}

	if !stats.Converged {
		slog.Debug("linear solve did not converge", "stats", stats)
	}
	return stats
}

// matVec computes dst = A*x with rows split across the pool.
func matVec(m *matrix, dst, x []float64) {
	parallel.ForRange(m.n, parallel.Parallel, func(i0, i1 int) {
		m.mulVec(dst, x, i0, i1)
	})
}
