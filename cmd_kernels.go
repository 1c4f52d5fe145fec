package main

import (
	"fmt"
	"log/slog"

	"github.com/gocarina/gocsv"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/voxflow/config"
	"github.com/pthm-cable/voxflow/grid"
	"github.com/pthm-cable/voxflow/particles"
	"github.com/pthm-cable/voxflow/scene"
	"github.com/pthm-cable/voxflow/sph"
	"github.com/pthm-cable/voxflow/telemetry"
)

// kernelSample is one row of the kernel profile table.
type kernelSample struct {
	Kernel string  `csv:"kernel"`
	Q      float64 `csv:"q"` // distance as a fraction of the support radius
	W      float64 `csv:"w"`
	Grad   float64 `csv:"grad"` // x component of the gradient at (q*h, 0, 0)
}

// splatSummary describes one kernel splatted onto the configured grid.
type splatSummary struct {
	Kernel    string  `csv:"kernel"`
	Particles int     `csv:"particles"`
	Max       float64 `csv:"max"`
	Mass      float64 `csv:"mass"` // field sum times cell volume
}

func newKernelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kernels",
		Short: "Print smoothing kernel profiles and splat them onto the grid",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Cfg()
			radius, _ := cmd.Flags().GetFloat64("radius")
			if !cmd.Flags().Changed("radius") {
				radius = cfg.PBF.KernelRadius
			}
			if !(radius > 0) {
				return fmt.Errorf("radius must be positive, got %v", radius)
			}
			samples, _ := cmd.Flags().GetInt("samples")
			if samples < 2 {
				return fmt.Errorf("samples must be at least 2, got %d", samples)
			}

			rows := kernelProfiles(radius, samples)
			if err := gocsv.Marshal(rows, cmd.OutOrStdout()); err != nil {
				return fmt.Errorf("writing kernel table: %w", err)
			}

			splats := splatKernels(cfg, radius)
			for _, s := range splats {
				slog.Info("kernel splat", "kernel", s.Kernel, "particles", s.Particles, "max", s.Max, "mass", s.Mass)
			}

			out, err := telemetry.NewOutputManager(cfg.Telemetry.OutputDir)
			if err != nil {
				return err
			}
			defer out.Close()
			if err := out.WriteTable("kernels.csv", rows); err != nil {
				return err
			}
			return out.WriteTable("splat.csv", splats)
		},
	}
	cmd.Flags().Float64("radius", 0, "Support radius (default pbf.kernel_radius)")
	cmd.Flags().Int("samples", 21, "Samples per kernel over [0, radius]")
	return cmd
}

// kernelProfiles samples every kernel at n evenly spaced distances in [0, h].
func kernelProfiles(h float64, n int) []kernelSample {
	var rows []kernelSample
	for _, kind := range sph.Kinds() {
		k := sph.NewKernel(kind, h)
		for i := 0; i < n; i++ {
			q := float64(i) / float64(n-1)
			r := r3.Vec{X: q * h}
			rows = append(rows, kernelSample{
				Kernel: kind.String(),
				Q:      q,
				W:      k.W(r),
				Grad:   k.Grad(r).X,
			})
		}
	}
	return rows
}

// splatKernels splats a block of unit particles, spaced at half the kernel
// radius in the middle of the grid, with every kernel.
func splatKernels(cfg *config.Config, h float64) []splatSummary {
	g := cfg.Derived.Grid
	spacing := 0.5 * h
	n := [3]int{8, 8, 8}
	if g.Is2D() {
		n[2] = 1
	}
	half := r3.Scale(0.5*spacing, r3.Vec{X: float64(n[0] - 1), Y: float64(n[1] - 1), Z: float64(n[2] - 1)})
	corner := r3.Sub(scene.Centre(g, r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}), half)
	if g.Is2D() {
		// Splat takes 2D cell centres at z = 0.
		corner.Z = 0
	}

	w := scene.NewWorld()
	count := scene.Block(w, corner, n, spacing, 1)
	ps := particles.NewSet(count)
	w.Gather(ps)

	field := grid.NewScalarField(g)
	volume := g.H * g.H * g.H
	var out []splatSummary
	for _, kind := range sph.Kinds() {
		sph.Splat(field, sph.NewKernel(kind, h), ps.Pos, ps.Mass)
		s := splatSummary{Kernel: kind.String(), Particles: count}
		for _, v := range field.Data {
			s.Mass += v * volume
			s.Max = max(s.Max, v)
		}
		out = append(out, s)
	}
	return out
}
