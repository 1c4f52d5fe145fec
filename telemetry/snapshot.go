package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/voxflow/grid"
	"github.com/pthm-cable/voxflow/particles"
)

// SnapshotVersion is incremented when the format changes.
const SnapshotVersion = 1

// Snapshot holds the particle state of a run so it can be resumed.
type Snapshot struct {
	Version  int     `json:"version"`
	Scenario string  `json:"scenario"`
	Seed     uint64  `json:"seed"`
	Step     int     `json:"step"`
	SimTime  float64 `json:"sim_time"`

	Resolution [3]int     `json:"resolution"`
	CellSize   float64    `json:"cell_size"`
	Origin     [3]float64 `json:"origin"`

	Particles []ParticleState `json:"particles"`
}

// ParticleState holds one particle.
type ParticleState struct {
	Pos  [3]float64 `json:"pos"`
	Vel  [3]float64 `json:"vel"`
	Mass float64    `json:"mass"`
}

// NewSnapshot captures ps at the given step.
func NewSnapshot(scenario string, seed uint64, step int, simTime float64, g grid.Grid, ps *particles.Set) *Snapshot {
	s := &Snapshot{
		Version:    SnapshotVersion,
		Scenario:   scenario,
		Seed:       seed,
		Step:       step,
		SimTime:    simTime,
		Resolution: [3]int(g.Res),
		CellSize:   g.H,
		Origin:     [3]float64{g.Origin.X, g.Origin.Y, g.Origin.Z},
		Particles:  make([]ParticleState, ps.Len()),
	}
	for i := range s.Particles {
		p, v := ps.Pos[i], ps.Vel[i]
		s.Particles[i] = ParticleState{
			Pos:  [3]float64{p.X, p.Y, p.Z},
			Vel:  [3]float64{v.X, v.Y, v.Z},
			Mass: ps.Mass[i],
		}
	}
	return s
}

// Grid rebuilds the grid the snapshot was taken on.
func (s *Snapshot) Grid() (grid.Grid, error) {
	return grid.New(grid.Coord(s.Resolution), s.CellSize, r3.Vec{X: s.Origin[0], Y: s.Origin[1], Z: s.Origin[2]})
}

// Restore returns a particle set holding the snapshot's particles.
func (s *Snapshot) Restore() *particles.Set {
	ps := particles.NewSet(len(s.Particles))
	for _, p := range s.Particles {
		ps.Add(r3.Vec{X: p.Pos[0], Y: p.Pos[1], Z: p.Pos[2]}, r3.Vec{X: p.Vel[0], Y: p.Vel[1], Z: p.Vel[2]}, p.Mass)
	}
	return ps
}

// SaveSnapshot writes a snapshot to dir and returns its path.
func SaveSnapshot(snapshot *Snapshot, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("snapshot_%s_%d.json", snapshot.Scenario, snapshot.Step))

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return path, nil
}

// LoadSnapshot reads a snapshot from disk.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snapshot.Version != SnapshotVersion {
		return nil, fmt.Errorf("snapshot version %d, want %d", snapshot.Version, SnapshotVersion)
	}
	return &snapshot, nil
}
