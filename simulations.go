package main

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/voxflow/config"
	"github.com/pthm-cable/voxflow/diffusion"
	"github.com/pthm-cable/voxflow/flip"
	"github.com/pthm-cable/voxflow/grid"
	"github.com/pthm-cable/voxflow/linsys"
	"github.com/pthm-cable/voxflow/particles"
	"github.com/pthm-cable/voxflow/pbf"
	"github.com/pthm-cable/voxflow/poisson"
	"github.com/pthm-cable/voxflow/scene"
	"github.com/pthm-cable/voxflow/telemetry"
	"github.com/pthm-cable/voxflow/wave"
)

// Scenario names accepted by the run command.
var scenarios = []string{"flip", "pbf", "smoke", "diffusion", "wave"}

// simulation advances one scenario by a step and fills in its stats.
type simulation interface {
	Step(perf *telemetry.PerfCollector, st *telemetry.StepStats) error
}

// particleSim is a simulation whose state can be snapshotted.
type particleSim interface {
	simulation
	Particles() (*particles.Set, grid.Grid)
}

// newSimulation builds a scenario from cfg. A non-nil snap replaces the
// initial particle fill of particle scenarios.
func newSimulation(name string, cfg *config.Config, snap *telemetry.Snapshot) (simulation, error) {
	rng := rand.New(rand.NewPCG(cfg.Scene.Seed, cfg.Scene.Seed^0x9e3779b97f4a7c15))
	if snap != nil && name != "flip" && name != "pbf" {
		return nil, fmt.Errorf("scenario %q has no particles to resume", name)
	}
	switch name {
	case "flip":
		return newFLIPSim(cfg, rng, snap)
	case "pbf":
		return newPBFSim(cfg, snap)
	case "smoke":
		return newSmokeSim(cfg), nil
	case "diffusion":
		return newDiffusionSim(cfg), nil
	case "wave":
		return newWaveSim(cfg), nil
	default:
		return nil, fmt.Errorf("unknown scenario %q (want one of %v)", name, scenarios)
	}
}

// restore spawns the particles of snap into w and drops any that lie
// outside bounds. A nil bounds keeps every particle.
func restore(w *scene.World, snap *telemetry.Snapshot, bounds *grid.Grid) {
	ps := snap.Restore()
	for i := range ps.Pos {
		w.Spawn(ps.Pos[i], ps.Vel[i], ps.Mass[i])
	}
	if bounds == nil {
		return
	}
	if n := w.RemoveOutside(*bounds); n > 0 {
		slog.Warn("dropped resumed particles outside the domain", "removed", n, "kept", w.Len())
	}
}

// fluidMarkers returns markers with every cell Fluid.
func fluidMarkers(g grid.Grid) *grid.MarkerField {
	m := grid.NewMarkerField(g)
	m.Fill(grid.Fluid)
	return m
}

// maxDivergence returns the largest absolute divergence over cells accepted by keep.
func maxDivergence(flow *grid.VectorField, keep func(cell int) bool) float64 {
	worst := 0.0
	g := flow.Grid
	for i := 0; i < g.NumCells(); i++ {
		if keep(i) {
			worst = math.Max(worst, math.Abs(poisson.Divergence(flow, g.CoordOf(i))))
		}
	}
	return worst
}

type flipSim struct {
	world   *scene.World
	rng     *rand.Rand
	inflow  inflow
	ps      *particles.Set
	flow    *grid.VectorField
	markers *grid.MarkerField
	buf     *flip.Buffers
	params  flip.Params
	gravity r3.Vec
	dt      float64
}

// inflow is the FLIP particle source at the x = 0 wall.
type inflow struct {
	every   int
	band    [2]float64
	vel     r3.Vec
	perAxis int
	mass    float64
}

func newFLIPSim(cfg *config.Config, rng *rand.Rand, snap *telemetry.Snapshot) (*flipSim, error) {
	g := cfg.Derived.Grid
	w := scene.NewWorld()
	if snap != nil {
		sg, err := snap.Grid()
		if err != nil {
			return nil, err
		}
		if sg != g {
			return nil, fmt.Errorf("%w: snapshot grid %v, configured %v", grid.ErrDimensionMismatch, sg.Res, g.Res)
		}
		restore(w, snap, &g)
	} else {
		scene.DamBreak(w, g, vec(cfg.Scene.Fill), cfg.Scene.ParticlesPerAxis, cfg.Scene.ParticleMass, rng)
	}
	s := &flipSim{
		world: w,
		rng:   rng,
		inflow: inflow{
			every:   cfg.Scene.InflowEvery,
			band:    cfg.Scene.InflowBand,
			vel:     vec(cfg.Scene.InflowVelocity),
			perAxis: cfg.Scene.ParticlesPerAxis,
			mass:    cfg.Scene.ParticleMass,
		},
		ps:      particles.NewSet(0),
		flow:    grid.NewFaceField(g),
		markers: grid.NewMarkerField(g),
		buf:     flip.NewBuffers(g),
		params:  cfg.FLIPParams(),
		gravity: cfg.Gravity(),
		dt:      cfg.Scene.DT,
	}
	w.Gather(s.ps)
	return s, nil
}

func (s *flipSim) Step(perf *telemetry.PerfCollector, st *telemetry.StepStats) error {
	if s.inflow.every > 0 && st.Step%s.inflow.every == 0 {
		g := s.flow.Grid
		n := scene.Inflow(s.world, g, s.inflow.band, s.inflow.perAxis, s.inflow.mass, s.inflow.vel, st.Step, s.rng)
		s.world.Gather(s.ps)
		slog.Debug("inflow", "step", st.Step, "emitted", n, "total_emitted", s.world.EmittedSince(0))
	}
	in := flip.Input{Particles: s.ps, Flow: s.flow, Markers: s.markers}

	perf.StartPhase(telemetry.PhaseP2G)
	if err := flip.P2G(in, s.params, s.buf); err != nil {
		return err
	}
	flip.AddForce(s.flow, s.gravity, s.dt)

	perf.StartPhase(telemetry.PhasePressure)
	stats, err := flip.SolvePressure(in, s.params, s.buf)
	if err != nil {
		return err
	}
	st.SetSolver(stats)
	st.FluidCells = s.markers.Count(grid.Fluid)
	st.MaxDivergence = maxDivergence(s.flow, func(i int) bool { return s.markers.Data[i] == grid.Fluid })

	perf.StartPhase(telemetry.PhaseG2P)
	if err := flip.G2P(in, s.params, s.buf); err != nil {
		return err
	}

	perf.StartPhase(telemetry.PhaseAdvect)
	flip.Advect(s.ps, s.flow.Grid, s.dt)
	s.world.Scatter(s.ps)
	st.SetSpeeds(s.ps.Vel)
	return nil
}

func (s *flipSim) Particles() (*particles.Set, grid.Grid) { return s.ps, s.flow.Grid }

type pbfSim struct {
	world  *scene.World
	ps     *particles.Set
	solver *pbf.Solver
	grid   grid.Grid
	dt     float64
}

func newPBFSim(cfg *config.Config, snap *telemetry.Snapshot) (*pbfSim, error) {
	p := cfg.PBFParams()
	solver, err := pbf.New(p)
	if err != nil {
		return nil, err
	}
	// Snapshots record the box as a single-cell grid.
	size := 2 * math.Max(p.HalfExtent.X, math.Max(p.HalfExtent.Y, p.HalfExtent.Z))
	box, err := grid.New(grid.Coord{1, 1, 1}, size, r3.Sub(p.Center, r3.Scale(0.5*size, r3.Vec{X: 1, Y: 1, Z: 1})))
	if err != nil {
		return nil, err
	}

	w := scene.NewWorld()
	if snap != nil {
		// Particles rest on the clamped walls, so the kept region reaches a
		// kernel radius past the box. An open top keeps everything.
		var bounds *grid.Grid
		if !p.TopOpen {
			r := p.KernelRadius
			outer, err := grid.New(grid.Coord{1, 1, 1}, size+2*r, r3.Sub(box.Origin, r3.Vec{X: r, Y: r, Z: r}))
			if err != nil {
				return nil, err
			}
			bounds = &outer
		}
		restore(w, snap, bounds)
	} else {
		// Each particle carries the rest mass of its lattice cell.
		spacing := cfg.Scene.PBFSpacing
		mass := p.RestDensity * spacing * spacing * spacing
		corner := r3.Add(r3.Sub(p.Center, p.HalfExtent), r3.Scale(0.5*spacing, r3.Vec{X: 1, Y: 1, Z: 1}))
		scene.Block(w, corner, cfg.Scene.PBFBlock, spacing, mass)
	}

	s := &pbfSim{world: w, ps: particles.NewSet(0), solver: solver, grid: box, dt: cfg.Scene.DT}
	w.Gather(s.ps)
	return s, nil
}

func (s *pbfSim) Step(perf *telemetry.PerfCollector, st *telemetry.StepStats) error {
	perf.StartPhase(telemetry.PhaseAdvect)
	s.solver.Advect(s.ps, s.dt)

	perf.StartPhase(telemetry.PhaseConstraint)
	res := s.solver.Iterate(s.ps)
	s.solver.UpdateVelocity(s.ps, s.dt)
	s.world.Scatter(s.ps)

	st.SetPBF(res)
	st.SetSpeeds(s.ps.Vel)
	return nil
}

func (s *pbfSim) Particles() (*particles.Set, grid.Grid) { return s.ps, s.grid }

type smokeSim struct {
	density  *grid.ScalarField
	scratch  *grid.ScalarField
	flow     *grid.VectorField
	pressure *grid.ScalarField
	markers  *grid.MarkerField
	active   *grid.IndexField

	source     r3.Vec
	radius     float64
	lift       float64
	margin     int
	restricted bool
	dt         float64
	pressureP  poisson.Params
	diffusionP diffusion.Params
}

func newSmokeSim(cfg *config.Config) *smokeSim {
	g := cfg.Derived.Grid
	ext := g.Extent()
	return &smokeSim{
		density:    grid.NewScalarField(g),
		scratch:    grid.NewScalarField(g),
		flow:       grid.NewFaceField(g),
		pressure:   grid.NewScalarField(g),
		markers:    fluidMarkers(g),
		active:     grid.NewIndexField(g, grid.Inactive),
		source:     scene.Centre(g, r3.Vec{X: 0.5, Y: 0.15, Z: 0.5}),
		radius:     cfg.Scene.SourceRadius * math.Min(ext.X, ext.Y),
		lift:       cfg.Scene.Buoyancy,
		margin:     cfg.Scene.ActiveMargin,
		restricted: cfg.Scene.Restricted,
		dt:         cfg.Scene.DT,
		pressureP:  cfg.PoissonParams(),
		diffusionP: cfg.DiffusionParams(),
	}
}

func (s *smokeSim) Step(perf *telemetry.PerfCollector, st *telemetry.StepStats) error {
	perf.StartPhase(telemetry.PhaseAdvect)
	scene.Disc(s.density, s.source, s.radius, 1)
	scene.Buoyancy(s.flow, s.density, s.lift, s.dt)

	perf.StartPhase(telemetry.PhasePressure)
	var stats linsys.Stats
	var err error
	in := poisson.Input{Flow: s.flow, Markers: s.markers}
	out := poisson.Result{Pressure: s.pressure}
	if s.restricted {
		st.FluidCells = grid.BuildActiveDomain(s.density, s.margin, s.active)
		stats, err = poisson.ProjectRestricted(in, s.active, s.pressureP, out)
	} else {
		flip.SolidWalls(s.flow, s.markers)
		st.FluidCells = s.markers.Count(grid.Fluid)
		stats, err = poisson.Project(in, s.pressureP, out)
	}
	if err != nil {
		return err
	}
	if s.restricted {
		st.MaxDivergence = maxDivergence(s.flow, func(i int) bool { return s.active.Data[i] != grid.Inactive })
	} else {
		st.MaxDivergence = maxDivergence(s.flow, func(int) bool { return true })
	}

	perf.StartPhase(telemetry.PhaseAdvect)
	scene.AdvectField(s.scratch, s.density, s.flow, s.dt)
	s.density, s.scratch = s.scratch, s.density

	perf.StartPhase(telemetry.PhaseDiffusion)
	dstats, err := diffusion.Solve(diffusion.Input{Scalar: s.density, Markers: s.markers}, s.diffusionP, diffusion.Result{})
	if err != nil {
		return err
	}
	st.SetSolver(stats.Merge(dstats))
	st.SetField(s.density)
	return nil
}

type diffusionSim struct {
	field    *grid.ScalarField
	velocity *grid.VectorField
	markers  *grid.MarkerField
	params   diffusion.Params
}

// newDiffusionSim diffuses a disc of dye and a swirling centre velocity
// inside a box whose border cells are Solid.
func newDiffusionSim(cfg *config.Config) *diffusionSim {
	g := cfg.Derived.Grid
	ext := g.Extent()
	centre := scene.Centre(g, r3.Vec{X: 0.5, Y: 0.5, Z: 0.5})

	markers := fluidMarkers(g)
	for i := range markers.Data {
		c := g.CoordOf(i)
		for _, a := range g.Axes() {
			if c[a] == 0 || c[a] == g.Res[a]-1 {
				markers.Data[i] = grid.Solid
			}
		}
	}

	field := grid.NewScalarField(g)
	scene.Disc(field, centre, cfg.Scene.SourceRadius*math.Min(ext.X, ext.Y), 1)

	velocity := grid.NewCenterField(g)
	for i := 0; i < g.NumCells(); i++ {
		d := r3.Sub(g.CellCenter(g.CoordOf(i)), centre)
		swirl := [3]float64{-d.Y, d.X, 0}
		for _, a := range g.Axes() {
			velocity.Comp[a][i] = swirl[a]
		}
	}
	return &diffusionSim{field: field, velocity: velocity, markers: markers, params: cfg.DiffusionParams()}
}

func (s *diffusionSim) Step(perf *telemetry.PerfCollector, st *telemetry.StepStats) error {
	perf.StartPhase(telemetry.PhaseDiffusion)
	stats, err := diffusion.Solve(
		diffusion.Input{Scalar: s.field, Vector: s.velocity, Markers: s.markers},
		s.params, diffusion.Result{})
	if err != nil {
		return err
	}
	st.SetSolver(stats)
	st.FluidCells = s.markers.Count(grid.Fluid)
	st.SetField(s.field)
	return nil
}

type waveSim struct {
	state   *wave.State
	markers *grid.MarkerField
	params  wave.Params
}

// newWaveSim starts a raised-cosine pulse on a surface whose cells outside
// the inscribed circle are Empty and held at zero.
func newWaveSim(cfg *config.Config) *waveSim {
	g := cfg.Derived.Grid
	ext := g.Extent()
	centre := scene.Centre(g, r3.Vec{X: 0.5, Y: 0.5, Z: 0.5})

	ref := grid.NewScalarField(g)
	scene.Disc(ref, centre, 0.5*math.Min(ext.X, ext.Y), 1)
	markers := grid.NewMarkerField(g)
	grid.ClassifyField(markers, ref, 0.5)

	state := wave.NewState(g)
	scene.Pulse(state.Current, centre, cfg.Scene.SourceRadius*math.Min(ext.X, ext.Y), 1)
	state.Previous.CopyFrom(state.Current)
	return &waveSim{state: state, markers: markers, params: cfg.WaveParams()}
}

func (s *waveSim) Step(perf *telemetry.PerfCollector, st *telemetry.StepStats) error {
	perf.StartPhase(telemetry.PhaseWave)
	stats, err := s.state.Advance(s.markers, s.params)
	if err != nil {
		return err
	}
	st.SetSolver(stats)
	st.FluidCells = s.markers.Count(grid.Fluid)
	st.SetField(s.state.Current)
	return nil
}

func vec(v [3]float64) r3.Vec { return r3.Vec{X: v[0], Y: v[1], Z: v[2]} }
