package main

import (
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/voxflow/config"
	"github.com/pthm-cable/voxflow/particles"
	"github.com/pthm-cable/voxflow/pbf"
	"github.com/pthm-cable/voxflow/scene"
	"github.com/pthm-cable/voxflow/telemetry"
)

// Fitness component weights.
const (
	weightResidual   = 1.0
	weightExceeded   = 10.0
	weightIterations = 1.0
	weightSpeed      = 0.1

	// failedFitness scores parameters the solver rejects or that blow up.
	failedFitness = 1e9

	// jitterFrac perturbs the seeded block by this fraction of the spacing.
	jitterFrac = 0.1
)

// runResult summarises one seeded run.
type runResult struct {
	meanResidual   float64
	exceededFrac   float64
	meanIterations float64 // fraction of the iteration cap
	maxSpeed       float64
}

// FitnessEvaluator runs headless PBF block drops and scores how well the
// density constraint is met.
type FitnessEvaluator struct {
	params     *ParamVector
	steps      int
	seeds      []uint64
	baseConfig *config.Config

	mu          sync.Mutex
	bestFitness float64
	last        runResult // averaged over seeds, most recent Evaluate
}

// NewFitnessEvaluator creates a new evaluator.
func NewFitnessEvaluator(params *ParamVector, steps int, seeds []uint64, baseCfg *config.Config) *FitnessEvaluator {
	return &FitnessEvaluator{
		params:      params,
		steps:       steps,
		seeds:       seeds,
		baseConfig:  baseCfg,
		bestFitness: math.Inf(1),
	}
}

// Last returns the seed-averaged result of the most recent evaluation.
func (fe *FitnessEvaluator) Last() runResult {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.last
}

// BestFitness returns the lowest fitness seen so far.
func (fe *FitnessEvaluator) BestFitness() float64 {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.bestFitness
}

// Evaluate computes fitness for raw parameter values (lower = better).
func (fe *FitnessEvaluator) Evaluate(x []float64) float64 {
	cfg := fe.copyConfig()
	fe.params.ApplyToConfig(cfg, x)

	results := make([]*runResult, len(fe.seeds))
	var wg sync.WaitGroup
	for i, seed := range fe.seeds {
		wg.Add(1)
		go func(idx int, s uint64) {
			defer wg.Done()
			results[idx] = fe.runSimulation(cfg, s)
		}(i, seed)
	}
	wg.Wait()

	var total float64
	var avg runResult
	for _, r := range results {
		if r == nil {
			total += failedFitness
			continue
		}
		total += computeFitness(r)
		avg.meanResidual += r.meanResidual
		avg.exceededFrac += r.exceededFrac
		avg.meanIterations += r.meanIterations
		avg.maxSpeed = math.Max(avg.maxSpeed, r.maxSpeed)
	}
	n := float64(len(fe.seeds))
	avg.meanResidual /= n
	avg.exceededFrac /= n
	avg.meanIterations /= n
	fitness := total / n

	fe.mu.Lock()
	fe.bestFitness = math.Min(fe.bestFitness, fitness)
	fe.last = avg
	fe.mu.Unlock()
	return fitness
}

// runSimulation drops a jittered block for the configured number of steps.
// It returns nil when the parameters are rejected or the run diverges.
func (fe *FitnessEvaluator) runSimulation(cfg *config.Config, seed uint64) *runResult {
	p := cfg.PBFParams()
	solver, err := pbf.New(p)
	if err != nil {
		slog.Debug("rejected parameters", "error", err)
		return nil
	}

	w := scene.NewWorld()
	spacing := cfg.Scene.PBFSpacing
	mass := p.RestDensity * spacing * spacing * spacing
	corner := r3.Add(r3.Sub(p.Center, p.HalfExtent), r3.Scale(0.5*spacing, r3.Vec{X: 1, Y: 1, Z: 1}))
	scene.Block(w, corner, cfg.Scene.PBFBlock, spacing, mass)

	ps := particles.NewSet(0)
	w.Gather(ps)
	rng := rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d))
	amp := jitterFrac * spacing
	for i := range ps.Pos {
		ps.Pos[i] = r3.Add(ps.Pos[i], r3.Vec{
			X: amp * (2*rng.Float64() - 1),
			Y: amp * (2*rng.Float64() - 1),
			Z: amp * (2*rng.Float64() - 1),
		})
	}

	dt := cfg.Scene.DT
	var r runResult
	for step := 0; step < fe.steps; step++ {
		res, err := solver.Step(ps, dt)
		if err != nil {
			slog.Debug("pbf step failed", "seed", seed, "step", step, "error", err)
			return nil
		}
		r.meanResidual += res.Residual
		if res.ExceededMaxIteration {
			r.exceededFrac++
		}
		r.meanIterations += float64(res.Iterations) / float64(p.MaxIterations)
	}
	w.Scatter(ps)

	var st telemetry.StepStats
	st.SetSpeeds(ps.Vel)
	r.maxSpeed = st.SpeedMax

	n := float64(max(fe.steps, 1))
	r.meanResidual /= n
	r.exceededFrac /= n
	r.meanIterations /= n
	if math.IsNaN(r.meanResidual) || math.IsInf(r.maxSpeed, 0) || math.IsNaN(r.maxSpeed) {
		return nil
	}
	return &r
}

// copyConfig returns a copy of the base config. PBF and scene settings are
// plain values, so a shallow copy is independent.
func (fe *FitnessEvaluator) copyConfig() *config.Config {
	cfg := *fe.baseConfig
	return &cfg
}

// computeFitness combines the run metrics into a scalar (lower = better).
// Blowing past the iteration cap dominates; the speed term penalises
// corrections that inject energy.
func computeFitness(r *runResult) float64 {
	return weightResidual*r.meanResidual +
		weightExceeded*r.exceededFrac +
		weightIterations*r.meanIterations +
		weightSpeed*math.Log1p(r.maxSpeed)
}
