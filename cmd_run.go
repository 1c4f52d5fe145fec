package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/pthm-cable/voxflow/config"
	"github.com/pthm-cable/voxflow/telemetry"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "run <scenario>",
		Short:     "Run a scenario: flip, pbf, smoke, diffusion or wave",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: scenarios,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Cfg()
			if cmd.Flags().Changed("steps") {
				cfg.Scene.Steps, _ = cmd.Flags().GetInt("steps")
			}
			if cmd.Flags().Changed("seed") {
				cfg.Scene.Seed, _ = cmd.Flags().GetUint64("seed")
			}
			if cmd.Flags().Changed("output-dir") {
				cfg.Telemetry.OutputDir, _ = cmd.Flags().GetString("output-dir")
			}
			if cmd.Flags().Changed("db") {
				cfg.Telemetry.Database, _ = cmd.Flags().GetString("db")
			}
			if cfg.Scene.Steps < 0 {
				return fmt.Errorf("steps must not be negative, got %d", cfg.Scene.Steps)
			}
			resume, _ := cmd.Flags().GetString("resume")

			_, err := runScenario(cmd.Context(), cfg, args[0], resume)
			return err
		},
	}

	cmd.Flags().Int("steps", 0, "Number of steps (overrides scene.steps)")
	cmd.Flags().Uint64("seed", 0, "RNG seed (overrides scene.seed)")
	cmd.Flags().String("output-dir", "", "Directory for CSV logs, config and snapshots")
	cmd.Flags().String("db", "", "SQLite file recording the run")
	cmd.Flags().String("resume", "", "Snapshot to resume a flip or pbf run from")
	return cmd
}

// runScenario runs the named scenario for cfg.Scene.Steps steps and returns
// the stats of the last step.
func runScenario(ctx context.Context, cfg *config.Config, name, resume string) (telemetry.StepStats, error) {
	var last telemetry.StepStats

	var snap *telemetry.Snapshot
	if resume != "" {
		var err error
		if snap, err = telemetry.LoadSnapshot(resume); err != nil {
			return last, err
		}
	}
	sim, err := newSimulation(name, cfg, snap)
	if err != nil {
		return last, err
	}

	out, err := telemetry.NewOutputManager(cfg.Telemetry.OutputDir)
	if err != nil {
		return last, err
	}
	defer out.Close()
	if err := out.WriteConfig(cfg); err != nil {
		return last, err
	}

	store, err := telemetry.OpenRunStore(ctx, cfg.Telemetry.Database)
	if err != nil {
		return last, err
	}
	defer store.Close()
	cfgYAML, err := cfg.YAML()
	if err != nil {
		return last, err
	}
	runID, err := store.BeginRun(ctx, name, string(cfgYAML))
	if err != nil {
		return last, err
	}

	first, simTime := 1, 0.0
	if snap != nil {
		first, simTime = snap.Step+1, snap.SimTime
	}
	steps := cfg.Scene.Steps
	perf := telemetry.NewPerfCollector(cfg.Telemetry.PerfWindow)

	slog.Info("starting run",
		"scenario", name,
		"steps", steps,
		"seed", cfg.Scene.Seed,
		"resolution", cfg.Derived.Grid.Res,
		"preconditioner", cfg.Derived.Preconditioner.String(),
		"output_dir", out.Dir(),
	)
	started := time.Now()

	for i := 1; i <= steps; i++ {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		step := first + i - 1
		simTime += cfg.Scene.DT
		st := telemetry.StepStats{Step: step, SimTime: simTime}

		perf.StartStep()
		if err := sim.Step(perf, &st); err != nil {
			return last, fmt.Errorf("step %d: %w", step, err)
		}

		perf.StartPhase(telemetry.PhaseOutput)
		if err := out.WriteStep(st); err != nil {
			return last, err
		}
		if err := store.InsertStep(ctx, runID, st); err != nil {
			return last, err
		}
		if ps, ok := sim.(particleSim); ok && out != nil && snapshotDue(cfg, i, steps) {
			set, g := ps.Particles()
			path, err := telemetry.SaveSnapshot(telemetry.NewSnapshot(name, cfg.Scene.Seed, step, simTime, g, set), out.Dir())
			if err != nil {
				return last, err
			}
			slog.Debug("snapshot saved", "path", path)
		}
		perf.EndStep()

		if st.SolverSize > 0 && !st.SolverConverged {
			slog.Warn("linear solve did not converge", "stats", st)
		}
		if st.PBFExceeded {
			slog.Debug("pbf iteration cap reached", "stats", st)
		}
		if i%cfg.Telemetry.PerfWindow == 0 {
			ps := perf.Stats()
			ps.LogStats()
			if err := out.WritePerf(ps, step); err != nil {
				return last, err
			}
		}
		if cfg.Telemetry.LogEvery > 0 && i%cfg.Telemetry.LogEvery == 0 {
			st.LogStats()
		}
		last = st
	}

	summary, err := store.Summary(ctx, runID)
	if err != nil {
		return last, err
	}
	slog.Info("run complete",
		"scenario", name,
		"steps", steps,
		"elapsed", time.Since(started).String(),
		"last", last,
		"stored_steps", summary.Steps,
		"unconverged", summary.Unconverged,
	)
	return last, nil
}

// snapshotDue reports whether step i of n should be snapshotted.
func snapshotDue(cfg *config.Config, i, n int) bool {
	every := cfg.Telemetry.SnapshotEvery
	return i == n || (every > 0 && i%every == 0)
}
