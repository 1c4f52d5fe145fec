// Package config provides configuration loading and access for voxflow.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/voxflow/diffusion"
	"github.com/pthm-cable/voxflow/flip"
	"github.com/pthm-cable/voxflow/grid"
	"github.com/pthm-cable/voxflow/linsys"
	"github.com/pthm-cable/voxflow/pbf"
	"github.com/pthm-cable/voxflow/poisson"
	"github.com/pthm-cable/voxflow/sph"
	"github.com/pthm-cable/voxflow/wave"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all voxflow configuration parameters.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Grid      GridConfig      `yaml:"grid"`
	Solver    SolverConfig    `yaml:"solver"`
	Diffusion DiffusionConfig `yaml:"diffusion"`
	Wave      WaveConfig      `yaml:"wave"`
	FLIP      FLIPConfig      `yaml:"flip"`
	PBF       PBFConfig       `yaml:"pbf"`
	Scene     SceneConfig     `yaml:"scene"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
}

// GridConfig describes the simulation grid.
type GridConfig struct {
	Resolution [3]int     `yaml:"resolution"`
	CellSize   float64    `yaml:"cell_size"`
	Origin     [3]float64 `yaml:"origin"`
}

// SolverConfig holds the linear solver settings shared by every grid solver.
type SolverConfig struct {
	Preconditioner string  `yaml:"preconditioner"`
	Tolerance      float64 `yaml:"tolerance"`
	MaxIterations  int     `yaml:"max_iterations"`
	Workers        int     `yaml:"workers"` // worker pool size, 0 = GOMAXPROCS
}

type DiffusionConfig struct {
	Coefficient float64 `yaml:"coefficient"`
}

type WaveConfig struct {
	Coefficient float64 `yaml:"coefficient"` // squared wave speed
}

// FLIPConfig holds particle-grid transfer parameters.
type FLIPConfig struct {
	ExtrapolateDepth int     `yaml:"extrapolate_depth"`
	Ratio            float64 `yaml:"ratio"`    // FLIP fraction of the PIC/FLIP blend
	Boundary         string  `yaml:"boundary"` // none or walls
}

// PBFConfig holds position based fluid parameters.
type PBFConfig struct {
	Kernel        string     `yaml:"kernel"`
	KernelRadius  float64    `yaml:"kernel_radius"`
	Epsilon       float64    `yaml:"epsilon"`
	Viscosity     float64    `yaml:"viscosity"`
	Gravity       [3]float64 `yaml:"gravity"`
	RestDensity   float64    `yaml:"rest_density"`
	DPScale       float64    `yaml:"dp_scale"`
	MaxIterations int        `yaml:"max_iterations"`
	Center        [3]float64 `yaml:"center"`
	HalfExtent    [3]float64 `yaml:"half_extent"`
	TopOpen       bool       `yaml:"top_open"`
	Reflect       bool       `yaml:"reflect"`
	Restitution   float64    `yaml:"restitution"`
}

// SceneConfig holds the scenario setup used by the run command.
type SceneConfig struct {
	DT               float64    `yaml:"dt"`
	Steps            int        `yaml:"steps"`
	Seed             uint64     `yaml:"seed"`
	Gravity          [3]float64 `yaml:"gravity"`
	ParticleMass     float64    `yaml:"particle_mass"`
	ParticlesPerAxis int        `yaml:"particles_per_axis"` // FLIP seeding per cell and axis
	Fill             [3]float64 `yaml:"fill"`               // dam-break block, fraction of the domain
	PBFSpacing       float64    `yaml:"pbf_spacing"`
	PBFBlock         [3]int     `yaml:"pbf_block"`
	SourceRadius     float64    `yaml:"source_radius"` // fraction of the domain
	Buoyancy         float64    `yaml:"buoyancy"`      // smoke lift per unit density
	Restricted       bool       `yaml:"restricted"`    // smoke solves only around the density
	ActiveMargin     int        `yaml:"active_margin"`
	InflowEvery      int        `yaml:"inflow_every"`    // FLIP steps between emissions, 0 = off
	InflowBand       [2]float64 `yaml:"inflow_band"`     // emitter height, fraction of the domain
	InflowVelocity   [3]float64 `yaml:"inflow_velocity"` // velocity of emitted particles
}

// TelemetryConfig holds output parameters.
type TelemetryConfig struct {
	OutputDir     string `yaml:"output_dir"`
	Database      string `yaml:"database"`
	PerfWindow    int    `yaml:"perf_window"`
	LogEvery      int    `yaml:"log_every"`
	SnapshotEvery int    `yaml:"snapshot_every"` // 0 = only the final step
}

// DerivedConfig holds parsed and validated values computed from the loaded config.
type DerivedConfig struct {
	LogLevel       slog.Level
	Grid           grid.Grid
	Preconditioner linsys.Preconditioner
	Kernel         sph.Kind
	Boundary       flip.BoundaryFunc
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.computeDerived(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// computeDerived parses enum names and validates sizes.
func (c *Config) computeDerived() error {
	if err := c.Derived.LogLevel.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}

	g, err := grid.New(grid.Coord(c.Grid.Resolution), c.Grid.CellSize, vec(c.Grid.Origin))
	if err != nil {
		return fmt.Errorf("grid: %w", err)
	}
	c.Derived.Grid = g

	if c.Derived.Preconditioner, err = linsys.ParsePreconditioner(c.Solver.Preconditioner); err != nil {
		return fmt.Errorf("solver.preconditioner: %w", err)
	}
	if c.Derived.Kernel, err = sph.ParseKind(c.PBF.Kernel); err != nil {
		return fmt.Errorf("pbf.kernel: %w", err)
	}
	switch strings.ToLower(c.FLIP.Boundary) {
	case "none", "":
		c.Derived.Boundary = flip.NoBoundary
	case "walls", "solid_walls":
		c.Derived.Boundary = flip.SolidWalls
	default:
		return fmt.Errorf("flip.boundary: unknown boundary %q", c.FLIP.Boundary)
	}

	if err := c.PBFParams().Validate(); err != nil {
		return err
	}
	switch {
	case !(c.Scene.DT > 0):
		return fmt.Errorf("scene.dt must be positive, got %v", c.Scene.DT)
	case c.Scene.Steps < 0:
		return fmt.Errorf("scene.steps must not be negative, got %d", c.Scene.Steps)
	case !(c.Scene.SourceRadius > 0):
		return fmt.Errorf("scene.source_radius must be positive, got %v", c.Scene.SourceRadius)
	case c.Scene.ActiveMargin < 0:
		return fmt.Errorf("scene.active_margin must not be negative, got %d", c.Scene.ActiveMargin)
	case !(c.Scene.PBFSpacing > 0):
		return fmt.Errorf("scene.pbf_spacing must be positive, got %v", c.Scene.PBFSpacing)
	case c.Scene.ParticlesPerAxis < 1:
		return fmt.Errorf("scene.particles_per_axis must be at least 1, got %d", c.Scene.ParticlesPerAxis)
	case c.Scene.InflowEvery < 0:
		return fmt.Errorf("scene.inflow_every must not be negative, got %d", c.Scene.InflowEvery)
	case !(0 <= c.Scene.InflowBand[0] && c.Scene.InflowBand[0] < c.Scene.InflowBand[1] && c.Scene.InflowBand[1] <= 1):
		return fmt.Errorf("scene.inflow_band must be an increasing pair in [0, 1], got %v", c.Scene.InflowBand)
	case c.Solver.Workers < 0:
		return fmt.Errorf("solver.workers must not be negative, got %d", c.Solver.Workers)
	case c.Telemetry.PerfWindow < 1:
		return fmt.Errorf("telemetry.perf_window must be at least 1, got %d", c.Telemetry.PerfWindow)
	case c.Telemetry.SnapshotEvery < 0:
		return fmt.Errorf("telemetry.snapshot_every must not be negative, got %d", c.Telemetry.SnapshotEvery)
	}
	return nil
}

// SolverSettings returns the linear solver settings.
func (c *Config) SolverSettings() linsys.Settings {
	return linsys.Settings{
		Preconditioner: c.Derived.Preconditioner,
		Tolerance:      c.Solver.Tolerance,
		MaxIterations:  c.Solver.MaxIterations,
	}
}

func (c *Config) PoissonParams() poisson.Params {
	return poisson.Params{Solver: c.SolverSettings()}
}

func (c *Config) DiffusionParams() diffusion.Params {
	return diffusion.Params{Coefficient: c.Diffusion.Coefficient, DT: c.Scene.DT, Solver: c.SolverSettings()}
}

func (c *Config) WaveParams() wave.Params {
	return wave.Params{Coefficient: c.Wave.Coefficient, DT: c.Scene.DT, Solver: c.SolverSettings()}
}

func (c *Config) FLIPParams() flip.Params {
	return flip.Params{
		ExtrapolateDepth: c.FLIP.ExtrapolateDepth,
		Ratio:            c.FLIP.Ratio,
		Boundary:         c.Derived.Boundary,
		Pressure:         c.PoissonParams(),
	}
}

func (c *Config) PBFParams() pbf.Params {
	p := c.PBF
	return pbf.Params{
		Kernel:        c.Derived.Kernel,
		KernelRadius:  p.KernelRadius,
		Epsilon:       p.Epsilon,
		Viscosity:     p.Viscosity,
		Gravity:       vec(p.Gravity),
		RestDensity:   p.RestDensity,
		DPScale:       p.DPScale,
		MaxIterations: p.MaxIterations,
		Center:        vec(p.Center),
		HalfExtent:    vec(p.HalfExtent),
		TopOpen:       p.TopOpen,
		Reflect:       p.Reflect,
		Restitution:   p.Restitution,
	}
}

// Gravity returns the scene gravity used by the grid solvers.
func (c *Config) Gravity() r3.Vec { return vec(c.Scene.Gravity) }

func vec(v [3]float64) r3.Vec { return r3.Vec{X: v[0], Y: v[1], Z: v[2]} }

// YAML returns the configuration as YAML.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return data, nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := c.YAML()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
