package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/pthm-cable/voxflow/config"
	"github.com/pthm-cable/voxflow/parallel"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "voxflow",
		Short: "Grid and particle fluid solvers",
		Long: `voxflow runs incompressible fluid scenarios on a uniform grid.

Grid solvers (pressure projection, implicit diffusion and wave steps) share
one preconditioned conjugate gradient core. Particle scenarios use FLIP
transfers or position based fluids.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			if err := config.Init(path); err != nil {
				return err
			}
			cfg := config.Cfg()
			setupLogging(cmd.OutOrStdout(), cfg)
			parallel.SetDefaultWorkers(cfg.Solver.Workers)
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "Path to config.yaml (empty = use defaults)")

	rootCmd.AddCommand(
		newRunCmd(),
		newKernelsCmd(),
	)
	return rootCmd
}

// setupLogging installs the slog handler selected by the config.
func setupLogging(w io.Writer, cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: cfg.Derived.LogLevel}
	var handler slog.Handler
	if cfg.Log.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}
