// Package particles provides the particle container shared by the particle
// solvers and a fixed-radius neighbour search.
package particles

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// Set stores particles as parallel slices indexed by particle. Pos, Vel and
// Mass are the particle state; the remaining slices are solver scratch sized
// by EnsureScratch.
type Set struct {
	Pos  []r3.Vec
	Vel  []r3.Vec
	Mass []float64

	PrevPos       []r3.Vec
	Lambda        []float64
	Density       []float64
	NeighborCount []int
}

// NewSet returns an empty set with room for capacity particles.
func NewSet(capacity int) *Set {
	return &Set{
		Pos:  make([]r3.Vec, 0, capacity),
		Vel:  make([]r3.Vec, 0, capacity),
		Mass: make([]float64, 0, capacity),
	}
}

// Add appends a particle and returns its index.
func (s *Set) Add(pos, vel r3.Vec, mass float64) int {
	s.Pos = append(s.Pos, pos)
	s.Vel = append(s.Vel, vel)
	s.Mass = append(s.Mass, mass)
	return len(s.Pos) - 1
}

func (s *Set) Len() int { return len(s.Pos) }

// Reset removes every particle, keeping allocated storage.
func (s *Set) Reset() {
	s.Pos = s.Pos[:0]
	s.Vel = s.Vel[:0]
	s.Mass = s.Mass[:0]
}

// Validate checks that the state slices agree in length.
func (s *Set) Validate() error {
	if len(s.Vel) != len(s.Pos) || len(s.Mass) != len(s.Pos) {
		return fmt.Errorf("particles: inconsistent set: %d positions, %d velocities, %d masses",
			len(s.Pos), len(s.Vel), len(s.Mass))
	}
	return nil
}

// EnsureScratch sizes the scratch slices to the particle count, reusing
// existing storage where possible.
func (s *Set) EnsureScratch() {
	n := s.Len()
	s.PrevPos = resize(s.PrevPos, n)
	s.Lambda = resize(s.Lambda, n)
	s.Density = resize(s.Density, n)
	s.NeighborCount = resize(s.NeighborCount, n)
}

func resize[T any](v []T, n int) []T {
	if cap(v) >= n {
		return v[:n]
	}
	return make([]T, n)
}

// Momentum returns the total mass-weighted velocity.
func (s *Set) Momentum() r3.Vec {
	var m r3.Vec
	for i, v := range s.Vel {
		m = r3.Add(m, r3.Scale(s.Mass[i], v))
	}
	return m
}
