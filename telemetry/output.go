package telemetry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/voxflow/config"
)

// OutputManager writes per-run CSV output into one directory.
type OutputManager struct {
	dir       string
	stepsFile *os.File
	perfFile  *os.File

	stepsHeaderWritten bool
	perfHeaderWritten  bool
}

// NewOutputManager creates the output directory with steps.csv and perf.csv.
// Returns nil if dir is empty (output disabled); every method accepts a nil
// manager.
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir}
	f, err := os.Create(filepath.Join(dir, "steps.csv"))
	if err != nil {
		return nil, fmt.Errorf("creating steps.csv: %w", err)
	}
	om.stepsFile = f

	f, err = os.Create(filepath.Join(dir, "perf.csv"))
	if err != nil {
		om.stepsFile.Close()
		return nil, fmt.Errorf("creating perf.csv: %w", err)
	}
	om.perfFile = f

	return om, nil
}

// WriteConfig saves the effective configuration as YAML.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, "config.yaml"))
}

// WriteStep appends a step record to steps.csv.
func (om *OutputManager) WriteStep(stats StepStats) error {
	if om == nil {
		return nil
	}
	if err := writeRecords(om.stepsFile, []StepStats{stats}, &om.stepsHeaderWritten); err != nil {
		return fmt.Errorf("writing step: %w", err)
	}
	return nil
}

// WritePerf appends a performance window to perf.csv.
func (om *OutputManager) WritePerf(stats PerfStats, step int) error {
	if om == nil {
		return nil
	}
	if err := writeRecords(om.perfFile, []PerfStatsCSV{stats.ToCSV(step)}, &om.perfHeaderWritten); err != nil {
		return fmt.Errorf("writing perf: %w", err)
	}
	return nil
}

// WriteTable writes records to name as a standalone CSV file with a header.
func (om *OutputManager) WriteTable(name string, records any) error {
	if om == nil {
		return nil
	}
	f, err := os.Create(filepath.Join(om.dir, name))
	if err != nil {
		return fmt.Errorf("creating %s: %w", name, err)
	}
	if err := gocsv.Marshal(records, f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return f.Close()
}

// writeRecords includes the header only on the first write to f.
func writeRecords(f *os.File, records any, headerWritten *bool) error {
	if !*headerWritten {
		if err := gocsv.Marshal(records, f); err != nil {
			return err
		}
		*headerWritten = true
		return nil
	}
	return gocsv.MarshalWithoutHeaders(records, f)
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close closes all output files.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}

	var firstErr error
	for _, f := range []*os.File{om.stepsFile, om.perfFile} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
