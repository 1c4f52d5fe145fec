// Package pbf implements position based fluids: particles are advected, then
// their positions are corrected iteratively until the density constraint is
// met or an iteration cap is reached.
package pbf

import (
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/voxflow/grid"
	"github.com/pthm-cable/voxflow/parallel"
	"github.com/pthm-cable/voxflow/particles"
	"github.com/pthm-cable/voxflow/sph"
)

type Params struct {
	Kernel        sph.Kind
	KernelRadius  float64
	Epsilon       float64 // relaxation added to the lambda denominator
	Viscosity     float64 // velocity damping in UpdateVelocity
	Gravity       r3.Vec
	RestDensity   float64
	DPScale       float64
	MaxIterations int

	Center      r3.Vec
	HalfExtent  r3.Vec
	TopOpen     bool // no clamp at +y
	Reflect     bool // reflect velocity off clamped faces, in Iterate and UpdateVelocity
	Restitution float64
}

func DefaultParams() Params {
	return Params{
		Kernel:        sph.Poly6,
		KernelRadius:  0.04,
		Viscosity:     0.01,
		Gravity:       r3.Vec{Y: -9.8},
		RestDensity:   1000,
		DPScale:       1,
		MaxIterations: 20,
		HalfExtent:    r3.Vec{X: 0.5, Y: 0.5, Z: 0.5},
		Restitution:   0.5,
	}
}

// Validate reports parameters the solver cannot run with.
func (p Params) Validate() error {
	switch {
	case !(p.KernelRadius > 0):
		return fmt.Errorf("pbf: kernel radius must be positive, got %v", p.KernelRadius)
	case !(p.RestDensity > 0):
		return fmt.Errorf("pbf: rest density must be positive, got %v", p.RestDensity)
	case p.MaxIterations < 1:
		return fmt.Errorf("pbf: max iterations must be at least 1, got %d", p.MaxIterations)
	case p.Epsilon < 0:
		return fmt.Errorf("pbf: epsilon must not be negative, got %v", p.Epsilon)
	case p.HalfExtent.X < 0 || p.HalfExtent.Y < 0 || p.HalfExtent.Z < 0:
		return fmt.Errorf("pbf: half extent must not be negative, got %v", p.HalfExtent)
	}
	return nil
}

// Result reports how an Iterate call ended.
type Result struct {
	Done                 bool
	ExceededMaxIteration bool
	Iterations           int
	Residual             float64 // sum of max(density/rest - 1, 0)
}

func (r Result) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("done", r.Done),
		slog.Bool("exceeded_max_iteration", r.ExceededMaxIteration),
		slog.Int("iterations", r.Iterations),
		slog.Float64("residual", r.Residual),
	)
}

// Solver owns the scratch a PBF step needs. It is not safe for concurrent use.
type Solver struct {
	params Params
	kernel sph.Kernel
	nb     particles.Neighbors
	dp     []r3.Vec
	// contact holds the unit normal of the faces each particle was last
	// clamped against during Iterate, zero when it stayed inside.
	contact []r3.Vec
}

// New validates p and returns a solver. An unknown kernel kind panics.
func New(p Params) (*Solver, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Solver{params: p, kernel: sph.NewKernel(p.Kernel, p.KernelRadius)}, nil
}

func (s *Solver) Params() Params { return s.params }

func (s *Solver) Kernel() sph.Kernel { return s.kernel }

// Advect applies gravity and moves particles, remembering the position each
// particle started from for UpdateVelocity.
func (s *Solver) Advect(ps *particles.Set, dt float64) {
	ps.EnsureScratch()
	gdt := r3.Scale(dt, s.params.Gravity)
	parallel.For(ps.Len(), parallel.Parallel, func(i int) {
		ps.PrevPos[i] = ps.Pos[i]
		ps.Vel[i] = r3.Add(ps.Vel[i], gdt)
		ps.Pos[i] = r3.Add(ps.Pos[i], r3.Scale(dt, ps.Vel[i]))
	})
}

// Iterate corrects positions until the density residual drops below one or
// MaxIterations passes have run. Each pass rebuilds the neighbour lists,
// computes lambda, applies the position correction, enforces the box and
// measures the residual on the corrected positions.
func (s *Solver) Iterate(ps *particles.Set) Result {
	ps.EnsureScratch()
	n := ps.Len()
	if cap(s.dp) < n {
		s.dp = make([]r3.Vec, n)
	}
	s.dp = s.dp[:n]
	if cap(s.contact) < n {
		s.contact = make([]r3.Vec, n)
	}
	s.contact = s.contact[:n]
	clear(s.contact)

	var res Result
	for res.Iterations < s.params.MaxIterations {
		s.nb.Build(ps.Pos, s.kernel.H)
		s.computeLambda(ps)
		s.applyCorrection(ps)
		s.enforceBoundary(ps)
		res.Iterations++
		res.Residual = s.residual(ps)
		if res.Residual < 1 {
			res.Done = true
			break
		}
	}
	if !res.Done {
		res.ExceededMaxIteration = true
		slog.Debug("pbf iteration cap reached", "result", res)
	}
	return res
}

// UpdateVelocity derives velocity from the displacement since Advect,
// damped by the viscosity factor. With Reflect, a particle clamped during the
// last Iterate has the derived velocity into the wall reflected and scaled by
// the restitution.
func (s *Solver) UpdateVelocity(ps *particles.Set, dt float64) {
	damp := (1 - s.params.Viscosity) / dt
	reflect := s.params.Reflect && len(s.contact) == ps.Len()
	parallel.For(ps.Len(), parallel.Parallel, func(i int) {
		v := r3.Scale(damp, r3.Sub(ps.Pos[i], ps.PrevPos[i]))
		if reflect {
			v = s.reflect(v, s.contact[i])
		}
		ps.Vel[i] = v
	})
}

// reflect removes the component of v moving into the unit normal n and adds
// it back reversed and scaled by the restitution. A zero normal leaves v.
func (s *Solver) reflect(v, n r3.Vec) r3.Vec {
	if n == (r3.Vec{}) {
		return v
	}
	if vn := r3.Dot(v, n); vn > 0 {
		return r3.Sub(v, r3.Scale((1+s.params.Restitution)*vn, n))
	}
	return v
}

// Step runs Advect, Iterate and UpdateVelocity.
func (s *Solver) Step(ps *particles.Set, dt float64) (Result, error) {
	if ps == nil {
		return Result{}, fmt.Errorf("%w: particles", grid.ErrMissingField)
	}
	if err := ps.Validate(); err != nil {
		return Result{}, err
	}
	if !(dt > 0) {
		return Result{}, fmt.Errorf("pbf: time step must be positive, got %v", dt)
	}
	s.Advect(ps, dt)
	res := s.Iterate(ps)
	s.UpdateVelocity(ps, dt)
	return res, nil
}

// computeLambda sets lambda = -(density - rest) / (sum |grad W|^2 + |sum grad W|^2 + epsilon)
// for particles denser than rest, 0 otherwise. Mass enters the density only;
// the gradients are plain kernel gradients.
func (s *Solver) computeLambda(ps *particles.Set) {
	k := s.kernel
	rest, eps := s.params.RestDensity, s.params.Epsilon
	parallel.For(ps.Len(), parallel.Parallel, func(i int) {
		near := s.nb.Of(i)
		ps.NeighborCount[i] = len(near)
		pi := ps.Pos[i]
		var density, sumGrad2 float64
		var gradSelf r3.Vec
		for _, j := range near {
			r := r3.Sub(pi, ps.Pos[j])
			density += ps.Mass[j] * k.W(r)
			if j == i {
				continue
			}
			g := k.Grad(r)
			sumGrad2 += r3.Norm2(g)
			gradSelf = r3.Add(gradSelf, g)
		}
		ps.Density[i] = density
		denom := sumGrad2 + r3.Norm2(gradSelf) + eps
		if density <= rest || denom == 0 {
			ps.Lambda[i] = 0
			return
		}
		ps.Lambda[i] = -(density - rest) / denom
	})
}

// applyCorrection moves every particle by dpScale * sum (lambda_i + lambda_j) grad W,
// with all displacements computed before any is applied.
func (s *Solver) applyCorrection(ps *particles.Set) {
	k := s.kernel
	scale := s.params.DPScale
	parallel.For(ps.Len(), parallel.Parallel, func(i int) {
		var dp r3.Vec
		pi := ps.Pos[i]
		for _, j := range s.nb.Of(i) {
			if j == i {
				continue
			}
			g := k.Grad(r3.Sub(pi, ps.Pos[j]))
			dp = r3.Add(dp, r3.Scale(ps.Lambda[i]+ps.Lambda[j], g))
		}
		s.dp[i] = r3.Scale(scale, dp)
	})
	parallel.For(ps.Len(), parallel.Parallel, func(i int) {
		ps.Pos[i] = r3.Add(ps.Pos[i], s.dp[i])
	})
}

// enforceBoundary clamps particles into the box Center +- HalfExtent,
// leaving +y open when TopOpen is set, and records the contact normal. With
// Reflect, velocity moving into a clamped face is reflected and scaled by the
// restitution; Step recomputes velocity afterwards, and UpdateVelocity
// reflects again against the recorded normal.
func (s *Solver) enforceBoundary(ps *particles.Set) {
	p := s.params
	lo := r3.Sub(p.Center, p.HalfExtent)
	hi := r3.Add(p.Center, p.HalfExtent)
	parallel.For(ps.Len(), parallel.Parallel, func(i int) {
		pos := ps.Pos[i]
		var normal r3.Vec
		clamp := func(v *float64, lo, hi float64, n *float64, upper bool) {
			if upper && *v > hi {
				*v = hi
				*n++
			}
			if *v < lo {
				*v = lo
				*n--
			}
		}
		clamp(&pos.X, lo.X, hi.X, &normal.X, true)
		clamp(&pos.Y, lo.Y, hi.Y, &normal.Y, !p.TopOpen)
		clamp(&pos.Z, lo.Z, hi.Z, &normal.Z, true)
		ps.Pos[i] = pos

		if normal == (r3.Vec{}) {
			return
		}
		normal = r3.Unit(normal)
		s.contact[i] = normal
		if p.Reflect {
			ps.Vel[i] = s.reflect(ps.Vel[i], normal)
		}
	})
}

// residual recomputes densities on the corrected positions with the current
// neighbour lists and sums the positive constraint violations.
func (s *Solver) residual(ps *particles.Set) float64 {
	k := s.kernel
	rest := s.params.RestDensity
	parallel.For(ps.Len(), parallel.Parallel, func(i int) {
		var density float64
		for _, j := range s.nb.Of(i) {
			density += ps.Mass[j] * k.W(r3.Sub(ps.Pos[i], ps.Pos[j]))
		}
		ps.Density[i] = density
	})
	var sum float64
	for _, d := range ps.Density {
		sum += math.Max(d/rest-1, 0)
	}
	return sum
}

// Density fills ps.Density with the kernel density of every particle using a
// fresh neighbour search.
func Density(ps *particles.Set, k sph.Kernel) {
	ps.EnsureScratch()
	var nb particles.Neighbors
	nb.Build(ps.Pos, k.H)
	parallel.For(ps.Len(), parallel.Parallel, func(i int) {
		var density float64
		near := nb.Of(i)
		for _, j := range near {
			density += ps.Mass[j] * k.W(r3.Sub(ps.Pos[i], ps.Pos[j]))
		}
		ps.Density[i] = density
		ps.NeighborCount[i] = len(near)
	})
}
