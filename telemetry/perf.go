package telemetry

import (
	"log/slog"
	"time"
)

// Phase names for one solver step.
const (
	PhaseNeighbors  = "neighbors"
	PhaseP2G        = "p2g"
	PhasePressure   = "pressure"
	PhaseG2P        = "g2p"
	PhaseAdvect     = "advect"
	PhaseConstraint = "constraint"
	PhaseDiffusion  = "diffusion"
	PhaseWave       = "wave"
	PhaseOutput     = "output"
)

// Phases lists every phase in the order a step reports them.
var Phases = []string{
	PhaseNeighbors, PhaseP2G, PhasePressure, PhaseG2P, PhaseAdvect,
	PhaseConstraint, PhaseDiffusion, PhaseWave, PhaseOutput,
}

// PerfSample holds timing data for a single step.
type PerfSample struct {
	StepDuration time.Duration
	Phases       map[string]time.Duration
}

// PerfCollector tracks step timings over a rolling window.
type PerfCollector struct {
	windowSize    int
	samples       []PerfSample
	writeIndex    int
	sampleCount   int
	currentPhases map[string]time.Duration
	stepStart     time.Time
	phaseStart    time.Time
	lastPhase     string
}

// NewPerfCollector creates a collector averaging over windowSize steps.
func NewPerfCollector(windowSize int) *PerfCollector {
	if windowSize < 1 {
		windowSize = 60
	}
	return &PerfCollector{
		windowSize:    windowSize,
		samples:       make([]PerfSample, windowSize),
		currentPhases: make(map[string]time.Duration),
	}
}

// StartStep begins timing a new step.
func (p *PerfCollector) StartStep() {
	p.stepStart = time.Now()
	p.currentPhases = make(map[string]time.Duration)
	p.lastPhase = ""
}

// StartPhase ends the running phase, if any, and starts timing phase.
func (p *PerfCollector) StartPhase(phase string) {
	now := time.Now()
	if p.lastPhase != "" {
		p.currentPhases[p.lastPhase] += now.Sub(p.phaseStart)
	}
	p.phaseStart = now
	p.lastPhase = phase
}

// EndStep finishes the current step and records its sample.
func (p *PerfCollector) EndStep() {
	now := time.Now()
	if p.lastPhase != "" {
		p.currentPhases[p.lastPhase] += now.Sub(p.phaseStart)
	}

	p.samples[p.writeIndex] = PerfSample{
		StepDuration: now.Sub(p.stepStart),
		Phases:       p.currentPhases,
	}
	p.writeIndex = (p.writeIndex + 1) % p.windowSize
	if p.sampleCount < p.windowSize {
		p.sampleCount++
	}
	p.lastPhase = ""
}

// PerfStats holds aggregated step timings.
type PerfStats struct {
	AvgStepDuration time.Duration
	MinStepDuration time.Duration
	MaxStepDuration time.Duration

	// Average duration and share of step time per phase
	PhaseAvg map[string]time.Duration
	PhasePct map[string]float64

	StepsPerSecond float64
}

// Stats computes aggregated statistics over the current window.
func (p *PerfCollector) Stats() PerfStats {
	if p.sampleCount == 0 {
		return PerfStats{
			PhaseAvg: make(map[string]time.Duration),
			PhasePct: make(map[string]float64),
		}
	}

	var total, minStep, maxStep time.Duration
	phaseSum := make(map[string]time.Duration)
	for i := 0; i < p.sampleCount; i++ {
		s := p.samples[i]
		total += s.StepDuration
		if i == 0 || s.StepDuration < minStep {
			minStep = s.StepDuration
		}
		if s.StepDuration > maxStep {
			maxStep = s.StepDuration
		}
		for phase, d := range s.Phases {
			phaseSum[phase] += d
		}
	}

	avg := total / time.Duration(p.sampleCount)
	phaseAvg := make(map[string]time.Duration)
	phasePct := make(map[string]float64)
	for phase, sum := range phaseSum {
		phaseAvg[phase] = sum / time.Duration(p.sampleCount)
		if avg > 0 {
			phasePct[phase] = float64(phaseAvg[phase]) / float64(avg) * 100
		}
	}

	var perSec float64
	if avg > 0 {
		perSec = float64(time.Second) / float64(avg)
	}

	return PerfStats{
		AvgStepDuration: avg,
		MinStepDuration: minStep,
		MaxStepDuration: maxStep,
		PhaseAvg:        phaseAvg,
		PhasePct:        phasePct,
		StepsPerSecond:  perSec,
	}
}

// LogStats logs the window at info level, skipping negligible phases.
func (s PerfStats) LogStats() {
	attrs := []any{
		"avg_step_us", s.AvgStepDuration.Microseconds(),
		"min_step_us", s.MinStepDuration.Microseconds(),
		"max_step_us", s.MaxStepDuration.Microseconds(),
		"steps_per_sec", int(s.StepsPerSecond),
	}
	for _, phase := range Phases {
		if pct, ok := s.PhasePct[phase]; ok && pct > 0.1 {
			attrs = append(attrs, phase+"_pct", float64(int(pct*10))/10)
		}
	}
	slog.Info("perf", attrs...)
}

// LogValue implements slog.LogValuer for structured logging.
func (s PerfStats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int64("avg_step_us", s.AvgStepDuration.Microseconds()),
		slog.Int64("min_step_us", s.MinStepDuration.Microseconds()),
		slog.Int64("max_step_us", s.MaxStepDuration.Microseconds()),
		slog.Float64("steps_per_sec", s.StepsPerSecond),
	}
	for _, phase := range Phases {
		if pct, ok := s.PhasePct[phase]; ok {
			attrs = append(attrs, slog.Float64(phase+"_pct", pct))
		}
	}
	return slog.GroupValue(attrs...)
}

// PerfStatsCSV is a flat struct for CSV export of performance stats.
type PerfStatsCSV struct {
	Step          int     `csv:"step"`
	AvgStepUS     int64   `csv:"avg_step_us"`
	MinStepUS     int64   `csv:"min_step_us"`
	MaxStepUS     int64   `csv:"max_step_us"`
	StepsPerSec   float64 `csv:"steps_per_sec"`
	NeighborsPct  float64 `csv:"neighbors_pct"`
	P2GPct        float64 `csv:"p2g_pct"`
	PressurePct   float64 `csv:"pressure_pct"`
	G2PPct        float64 `csv:"g2p_pct"`
	AdvectPct     float64 `csv:"advect_pct"`
	ConstraintPct float64 `csv:"constraint_pct"`
	DiffusionPct  float64 `csv:"diffusion_pct"`
	WavePct       float64 `csv:"wave_pct"`
	OutputPct     float64 `csv:"output_pct"`
}

// ToCSV converts PerfStats to a flat CSV-friendly struct.
func (s PerfStats) ToCSV(step int) PerfStatsCSV {
	return PerfStatsCSV{
		Step:          step,
		AvgStepUS:     s.AvgStepDuration.Microseconds(),
		MinStepUS:     s.MinStepDuration.Microseconds(),
		MaxStepUS:     s.MaxStepDuration.Microseconds(),
		StepsPerSec:   s.StepsPerSecond,
		NeighborsPct:  s.PhasePct[PhaseNeighbors],
		P2GPct:        s.PhasePct[PhaseP2G],
		PressurePct:   s.PhasePct[PhasePressure],
		G2PPct:        s.PhasePct[PhaseG2P],
		AdvectPct:     s.PhasePct[PhaseAdvect],
		ConstraintPct: s.PhasePct[PhaseConstraint],
		DiffusionPct:  s.PhasePct[PhaseDiffusion],
		WavePct:       s.PhasePct[PhaseWave],
		OutputPct:     s.PhasePct[PhaseOutput],
	}
}
