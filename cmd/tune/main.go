package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/optimize"

	"github.com/pthm-cable/voxflow/config"
)

// options holds the tune command flags.
type options struct {
	configPath string
	steps      int
	seeds      int
	maxEvals   int
	population int
	outputDir  string
}

// evalRecord is one row of tune_log.csv.
type evalRecord struct {
	Eval           int     `csv:"eval"`
	Fitness        float64 `csv:"fitness"`
	DPScale        float64 `csv:"dp_scale"`
	Epsilon        float64 `csv:"epsilon"`
	Viscosity      float64 `csv:"viscosity"`
	MeanResidual   float64 `csv:"mean_residual"`
	ExceededFrac   float64 `csv:"exceeded_frac"`
	MeanIterations float64 `csv:"mean_iterations"`
	MaxSpeed       float64 `csv:"max_speed"`
}

// tuneResult is the outcome of a search.
type tuneResult struct {
	Evals       int
	BestFitness float64
	BestParams  []float64
	ConfigPath  string
}

// formatDuration formats a duration as HH:MM:SS or MM:SS for shorter durations.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newTuneCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newTuneCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "tune",
		Short: "Search PBF correction parameters with CMA-ES",
		Long: `tune drops jittered particle blocks with position based fluids and
searches dp_scale, epsilon and viscosity for the lowest combined density
residual, iteration count and iteration-cap overruns.

Every evaluation is appended to tune_log.csv and the best parameters are
written to best_config.yaml in the output directory.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.outputDir == "" {
				return fmt.Errorf("--output is required")
			}
			res, err := run(cmd.Context(), opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "best fitness %.6f after %d evaluations, config saved to %s\n",
				res.BestFitness, res.Evals, res.ConfigPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "Base config YAML file (empty = use defaults)")
	cmd.Flags().IntVar(&opts.steps, "steps", 60, "Simulation steps per run")
	cmd.Flags().IntVar(&opts.seeds, "seeds", 3, "Number of seeds per evaluation")
	cmd.Flags().IntVar(&opts.maxEvals, "max-evals", 200, "Maximum number of evaluations")
	cmd.Flags().IntVar(&opts.population, "population", 0, "CMA-ES population size (0 = auto)")
	cmd.Flags().StringVar(&opts.outputDir, "output", "", "Output directory for results")
	return cmd
}

// run performs the search and writes its log and best config.
func run(ctx context.Context, opts options) (*tuneResult, error) {
	if opts.seeds < 1 || opts.steps < 1 || opts.maxEvals < 1 {
		return nil, fmt.Errorf("steps, seeds and max-evals must be positive")
	}
	if err := os.MkdirAll(opts.outputDir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	baseCfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	params := NewParamVector()
	evalSeeds := make([]uint64, opts.seeds)
	for i := range evalSeeds {
		evalSeeds[i] = uint64(i*1000 + 42)
	}
	evaluator := NewFitnessEvaluator(params, opts.steps, evalSeeds, baseCfg)

	dim := params.Dim()
	initX := params.Normalize(params.ExtractFromConfig(baseCfg))

	popSize := opts.population
	if popSize == 0 {
		popSize = 4 + int(3.0*math.Log(float64(dim)))
	}

	logPath := filepath.Join(opts.outputDir, "tune_log.csv")
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("creating log file: %w", err)
	}
	defer logFile.Close()

	evalCount := 0
	bestFitness := math.Inf(1)
	var bestParams []float64
	var logErr error
	startTime := time.Now()

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			// A cancelled search scores everything as failed so CMA-ES winds down.
			if ctx.Err() != nil {
				return failedFitness
			}
			clamped := params.Clamp(params.Denormalize(x))
			fitness := evaluator.Evaluate(clamped)
			evalCount++
			if fitness < bestFitness {
				bestFitness = fitness
				bestParams = clamped
			}

			last := evaluator.Last()
			rec := []evalRecord{{
				Eval:           evalCount,
				Fitness:        fitness,
				DPScale:        clamped[0],
				Epsilon:        clamped[1],
				Viscosity:      clamped[2],
				MeanResidual:   last.meanResidual,
				ExceededFrac:   last.exceededFrac,
				MeanIterations: last.meanIterations,
				MaxSpeed:       last.maxSpeed,
			}}
			var werr error
			if evalCount == 1 {
				werr = gocsv.Marshal(rec, logFile)
			} else {
				werr = gocsv.MarshalWithoutHeaders(rec, logFile)
			}
			if werr != nil && logErr == nil {
				logErr = werr
			}

			elapsed := time.Since(startTime)
			remaining := time.Duration(opts.maxEvals-evalCount) * (elapsed / time.Duration(evalCount))
			slog.Info("evaluation",
				"eval", evalCount,
				"max_evals", opts.maxEvals,
				"fitness", fitness,
				"best", bestFitness,
				"elapsed", formatDuration(elapsed),
				"eta", formatDuration(remaining),
			)
			return fitness
		},
	}

	settings := &optimize.Settings{
		FuncEvaluations: opts.maxEvals,
		Concurrent:      0, // Sequential evaluation
	}
	method := &optimize.CmaEsChol{
		InitStepSize: 0.3,
		Population:   popSize,
	}

	slog.Info("starting CMA-ES search",
		"params", dim,
		"population", popSize,
		"max_evals", opts.maxEvals,
		"seeds", opts.seeds,
		"steps", opts.steps,
	)
	result, err := optimize.Minimize(problem, initX, settings, method)
	if err != nil {
		slog.Warn("search ended", "error", err)
	}
	if logErr != nil {
		return nil, fmt.Errorf("writing %s: %w", logPath, logErr)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The best evaluation may come from any generation, not just the last.
	if bestParams == nil && result != nil {
		bestParams = params.Clamp(params.Denormalize(result.X))
	}
	if bestParams == nil {
		return nil, fmt.Errorf("search made no evaluations")
	}

	names := make([]string, dim)
	for i, spec := range params.Specs {
		names[i] = fmt.Sprintf("%s=%.6g", spec.Path, bestParams[i])
	}
	slog.Info("search complete",
		"evals", evalCount,
		"duration", formatDuration(time.Since(startTime)),
		"best_fitness", bestFitness,
		"best_params", strings.Join(names, " "),
	)

	bestCfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	params.ApplyToConfig(bestCfg, bestParams)
	configOutPath := filepath.Join(opts.outputDir, "best_config.yaml")
	if err := bestCfg.WriteYAML(configOutPath); err != nil {
		return nil, err
	}

	return &tuneResult{
		Evals:       evalCount,
		BestFitness: bestFitness,
		BestParams:  bestParams,
		ConfigPath:  configOutPath,
	}, nil
}
