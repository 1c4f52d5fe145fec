package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pthm-cable/voxflow/linsys"
	"github.com/pthm-cable/voxflow/sph"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load defaults: %v", err)
	}
	if cfg.Derived.Preconditioner != linsys.ModifiedIncompleteCholesky {
		t.Errorf("preconditioner = %v, want mic", cfg.Derived.Preconditioner)
	}
	if cfg.Derived.Kernel != sph.Poly6 {
		t.Errorf("kernel = %v, want poly6", cfg.Derived.Kernel)
	}
	if cfg.Derived.LogLevel != slog.LevelInfo {
		t.Errorf("log level = %v, want info", cfg.Derived.LogLevel)
	}
	if !cfg.Derived.Grid.Is2D() {
		t.Errorf("default grid %v should be 2D", cfg.Derived.Grid.Res)
	}
	if got := cfg.FLIPParams(); got.ExtrapolateDepth != 6 || got.Ratio != 0.97 || got.Boundary == nil {
		t.Errorf("flip params = %+v", got)
	}
	p := cfg.PBFParams()
	if p.KernelRadius != 0.04 || p.RestDensity != 1000 || p.MaxIterations != 20 || p.Gravity.Y != -9.8 {
		t.Errorf("pbf params = %+v", p)
	}
}

func TestLoadOverridesOnlyGivenKeys(t *testing.T) {
	path := writeFile(t, `
solver:
  preconditioner: jacobi
pbf:
  kernel: cubic
grid:
  resolution: [16, 8, 4]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Derived.Preconditioner != linsys.Jacobi {
		t.Errorf("preconditioner = %v, want jacobi", cfg.Derived.Preconditioner)
	}
	if cfg.Derived.Kernel != sph.Cubic {
		t.Errorf("kernel = %v, want cubic", cfg.Derived.Kernel)
	}
	if cfg.Derived.Grid.Is2D() || cfg.Derived.Grid.NumCells() != 16*8*4 {
		t.Errorf("grid = %v", cfg.Derived.Grid.Res)
	}
	if cfg.Solver.Tolerance != 1e-8 {
		t.Errorf("tolerance = %v, want default 1e-8", cfg.Solver.Tolerance)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"preconditioner", "solver:\n  preconditioner: amg\n", "solver.preconditioner"},
		{"kernel", "pbf:\n  kernel: gaussian\n", "pbf.kernel"},
		{"boundary", "flip:\n  boundary: periodic\n", "flip.boundary"},
		{"level", "log:\n  level: loud\n", "log.level"},
		{"resolution", "grid:\n  resolution: [0, 4, 1]\n", "grid"},
		{"dt", "scene:\n  dt: 0\n", "scene.dt"},
		{"radius", "pbf:\n  kernel_radius: -1\n", "kernel radius"},
		{"snapshot", "telemetry:\n  snapshot_every: -1\n", "telemetry.snapshot_every"},
		{"inflow", "scene:\n  inflow_every: -2\n", "scene.inflow_every"},
		{"inflow band", "scene:\n  inflow_band: [0.8, 0.6]\n", "scene.inflow_band"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWriteYAMLRoundTrip(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Scene.Steps = 7
	cfg.PBF.Kernel = "spiky"
	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := cfg.WriteYAML(path); err != nil {
		t.Fatalf("WriteYAML: %v", err)
	}

	back, err := Load(path)
	if err != nil {
		t.Fatalf("Load written file: %v", err)
	}
	if back.Scene.Steps != 7 || back.Derived.Kernel != sph.Spiky {
		t.Errorf("round trip lost values: steps %d kernel %v", back.Scene.Steps, back.Derived.Kernel)
	}
}

func TestInitAndCfg(t *testing.T) {
	global = nil
	defer func() { global = nil }()

	func() {
		defer func() {
			if recover() == nil {
				t.Error("Cfg before Init should panic")
			}
		}()
		Cfg()
	}()

	MustInit("")
	if Cfg().Scene.Steps != 120 {
		t.Errorf("steps = %d, want 120", Cfg().Scene.Steps)
	}
}
