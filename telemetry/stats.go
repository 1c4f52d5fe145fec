package telemetry

import (
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/voxflow/grid"
	"github.com/pthm-cable/voxflow/linsys"
	"github.com/pthm-cable/voxflow/pbf"
)

// StepStats is one row of step telemetry. Fields that do not apply to the
// running scenario stay zero.
type StepStats struct {
	Step    int     `csv:"step"`
	SimTime float64 `csv:"sim_time"`

	Particles  int `csv:"particles"`
	FluidCells int `csv:"fluid_cells"`

	// Linear solves of the step, merged
	SolverSize       int     `csv:"solver_size"`
	SolverIterations int     `csv:"solver_iterations"`
	SolverResidual   float64 `csv:"solver_residual"`
	SolverConverged  bool    `csv:"solver_converged"`

	// Position based fluid constraint loop
	PBFIterations int     `csv:"pbf_iterations"`
	PBFResidual   float64 `csv:"pbf_residual"`
	PBFDone       bool    `csv:"pbf_done"`
	PBFExceeded   bool    `csv:"pbf_exceeded"`

	// Particle speed distribution
	SpeedMean float64 `csv:"speed_mean"`
	SpeedP50  float64 `csv:"speed_p50"`
	SpeedP90  float64 `csv:"speed_p90"`
	SpeedMax  float64 `csv:"speed_max"`

	// Cell-centred scalar (smoke density, diffused or wave field)
	FieldSum float64 `csv:"field_sum"`
	FieldMax float64 `csv:"field_max"`

	MaxDivergence float64 `csv:"max_divergence"`
}

// SetSolver records the merged stats of the step's linear solves.
func (s *StepStats) SetSolver(st linsys.Stats) {
	s.SolverSize = st.Size
	s.SolverIterations = st.Iterations
	s.SolverResidual = st.Residual
	s.SolverConverged = st.Converged
}

// SetPBF records the outcome of a constraint loop.
func (s *StepStats) SetPBF(r pbf.Result) {
	s.PBFIterations = r.Iterations
	s.PBFResidual = r.Residual
	s.PBFDone = r.Done
	s.PBFExceeded = r.ExceededMaxIteration
}

// SetSpeeds fills the speed distribution from particle velocities.
func (s *StepStats) SetSpeeds(vel []r3.Vec) {
	speeds := make([]float64, len(vel))
	for i, v := range vel {
		speeds[i] = r3.Norm(v)
	}
	s.Particles = len(vel)
	s.SpeedMean, s.SpeedP50, s.SpeedP90, s.SpeedMax = ComputeSpeedStats(speeds)
}

// SetField records the sum and maximum of a scalar field.
func (s *StepStats) SetField(f *grid.ScalarField) {
	s.FieldSum, s.FieldMax = 0, 0
	for i, v := range f.Data {
		s.FieldSum += v
		if i == 0 || v > s.FieldMax {
			s.FieldMax = v
		}
	}
}

// Percentile calculates the p-th percentile of a sorted slice.
// p should be in [0, 1]. Returns 0 if slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// ComputeSpeedStats returns the mean, median, 90th percentile and maximum
// of values. values is not modified.
func ComputeSpeedStats(values []float64) (mean, p50, p90, maxV float64) {
	n := len(values)
	if n == 0 {
		return 0, 0, 0, 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(n)

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	return mean, Percentile(sorted, 0.5), Percentile(sorted, 0.9), sorted[n-1]
}

// LogValue implements slog.LogValuer for structured logging.
func (s StepStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("step", s.Step),
		slog.Float64("sim_time", s.SimTime),
		slog.Int("particles", s.Particles),
		slog.Int("fluid_cells", s.FluidCells),
		slog.Int("solver_size", s.SolverSize),
		slog.Int("solver_iterations", s.SolverIterations),
		slog.Float64("solver_residual", s.SolverResidual),
		slog.Bool("solver_converged", s.SolverConverged),
		slog.Int("pbf_iterations", s.PBFIterations),
		slog.Float64("pbf_residual", s.PBFResidual),
		slog.Bool("pbf_done", s.PBFDone),
		slog.Bool("pbf_exceeded", s.PBFExceeded),
		slog.Float64("speed_mean", s.SpeedMean),
		slog.Float64("speed_p90", s.SpeedP90),
		slog.Float64("speed_max", s.SpeedMax),
		slog.Float64("field_sum", s.FieldSum),
		slog.Float64("field_max", s.FieldMax),
		slog.Float64("max_divergence", s.MaxDivergence),
	)
}

// LogStats logs the headline numbers of the step at info level.
func (s StepStats) LogStats() {
	slog.Info("step",
		"step", s.Step,
		"sim_time", s.SimTime,
		"particles", s.Particles,
		"fluid_cells", s.FluidCells,
		"solver_iterations", s.SolverIterations,
		"solver_converged", s.SolverConverged,
		"pbf_iterations", s.PBFIterations,
		"speed_max", s.SpeedMax,
		"field_sum", s.FieldSum,
	)
}
