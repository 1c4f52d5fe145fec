package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    scenario TEXT NOT NULL,
    started_at TEXT NOT NULL,
    config TEXT
);

CREATE TABLE IF NOT EXISTS steps (
    run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    step INTEGER NOT NULL,
    sim_time REAL NOT NULL,
    particles INTEGER,
    fluid_cells INTEGER,
    solver_size INTEGER,
    solver_iterations INTEGER,
    solver_residual REAL,
    solver_converged INTEGER,
    pbf_iterations INTEGER,
    pbf_residual REAL,
    pbf_done INTEGER,
    speed_max REAL,
    field_sum REAL,
    max_divergence REAL,
    PRIMARY KEY (run_id, step)
);
`

// RunStore records runs and their step telemetry in a SQLite database.
type RunStore struct {
	db *sql.DB
}

// OpenRunStore opens or creates the database at path. ":memory:" keeps it
// in memory. Returns nil if path is empty (store disabled); every method
// accepts a nil store.
func OpenRunStore(ctx context.Context, path string) (*RunStore, error) {
	if path == "" {
		return nil, nil
	}
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite works best with a single writer; this also pins ":memory:" to one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &RunStore{db: db}, nil
}

// BeginRun inserts a run and returns its id. configYAML may be empty.
func (s *RunStore) BeginRun(ctx context.Context, scenario, configYAML string) (int64, error) {
	if s == nil {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (scenario, started_at, config) VALUES (?, ?, ?)`,
		scenario, time.Now().UTC().Format(time.RFC3339), configYAML)
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}
	return res.LastInsertId()
}

// InsertStep stores one step of run.
func (s *RunStore) InsertStep(ctx context.Context, run int64, st StepStats) error {
	if s == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO steps (run_id, step, sim_time, particles, fluid_cells,
			solver_size, solver_iterations, solver_residual, solver_converged,
			pbf_iterations, pbf_residual, pbf_done,
			speed_max, field_sum, max_divergence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run, st.Step, st.SimTime, st.Particles, st.FluidCells,
		st.SolverSize, st.SolverIterations, st.SolverResidual, st.SolverConverged,
		st.PBFIterations, st.PBFResidual, st.PBFDone,
		st.SpeedMax, st.FieldSum, st.MaxDivergence)
	if err != nil {
		return fmt.Errorf("failed to insert step %d: %w", st.Step, err)
	}
	return nil
}

// RunSummary aggregates the stored steps of one run. Unconverged counts only
// steps that ran a linear solve.
type RunSummary struct {
	Steps            int
	SolverIterations int
	Unconverged      int
	MaxSpeed         float64
}

// Summary aggregates the steps stored for run.
func (s *RunStore) Summary(ctx context.Context, run int64) (RunSummary, error) {
	var sum RunSummary
	if s == nil {
		return sum, nil
	}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(solver_iterations), 0),
			COALESCE(SUM(CASE WHEN solver_size > 0 AND NOT solver_converged THEN 1 ELSE 0 END), 0),
			COALESCE(MAX(speed_max), 0)
		FROM steps WHERE run_id = ?`, run).
		Scan(&sum.Steps, &sum.SolverIterations, &sum.Unconverged, &sum.MaxSpeed)
	if err != nil {
		return sum, fmt.Errorf("failed to summarize run %d: %w", run, err)
	}
	return sum, nil
}

// Close closes the database.
func (s *RunStore) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}
