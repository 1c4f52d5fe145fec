// Package scene owns the particle population of a run as an ECS world and
// builds the initial state of each scenario.
package scene

import (
	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/voxflow/components"
	"github.com/pthm-cable/voxflow/grid"
	"github.com/pthm-cable/voxflow/particles"
)

// World holds particles as entities. Solvers work on a particles.Set
// gathered from the world and scattered back after each step.
type World struct {
	world *ecs.World

	mapper  *ecs.Map3[components.Position, components.Velocity, components.Mass]
	emitted *ecs.Map4[components.Position, components.Velocity, components.Mass, components.Emitter]
	filter  *ecs.Filter3[components.Position, components.Velocity, components.Mass]
	sources *ecs.Filter1[components.Emitter]

	// entity order of the last Gather
	order []ecs.Entity
}

// NewWorld creates an empty particle world.
func NewWorld() *World {
	world := ecs.NewWorld()
	return &World{
		world:   world,
		mapper:  ecs.NewMap3[components.Position, components.Velocity, components.Mass](world),
		emitted: ecs.NewMap4[components.Position, components.Velocity, components.Mass, components.Emitter](world),
		filter:  ecs.NewFilter3[components.Position, components.Velocity, components.Mass](world),
		sources: ecs.NewFilter1[components.Emitter](world),
	}
}

// Spawn adds a particle of the initial fill.
func (w *World) Spawn(pos, vel r3.Vec, mass float64) ecs.Entity {
	return w.mapper.NewEntity(
		&components.Position{Vec: pos},
		&components.Velocity{Vec: vel},
		&components.Mass{Value: mass},
	)
}

// Emit adds a particle created by a source during the run.
func (w *World) Emit(pos, vel r3.Vec, mass float64, step int) ecs.Entity {
	return w.emitted.NewEntity(
		&components.Position{Vec: pos},
		&components.Velocity{Vec: vel},
		&components.Mass{Value: mass},
		&components.Emitter{SpawnStep: step},
	)
}

// Len returns the number of live particles.
func (w *World) Len() int {
	n := 0
	query := w.filter.Query()
	for query.Next() {
		n++
	}
	return n
}

// EmittedSince returns how many live particles were emitted at or after step.
func (w *World) EmittedSince(step int) int {
	n := 0
	query := w.sources.Query()
	for query.Next() {
		if query.Get().SpawnStep >= step {
			n++
		}
	}
	return n
}

// Gather copies every particle into ps, replacing its contents, and
// remembers the order for Scatter.
func (w *World) Gather(ps *particles.Set) {
	ps.Reset()
	w.order = w.order[:0]
	query := w.filter.Query()
	for query.Next() {
		pos, vel, mass := query.Get()
		ps.Add(pos.Vec, vel.Vec, mass.Value)
		w.order = append(w.order, query.Entity())
	}
}

// Scatter writes positions and velocities of ps back to the entities of
// the last Gather. ps must not have been resized in between.
func (w *World) Scatter(ps *particles.Set) {
	if ps.Len() != len(w.order) {
		panic("scene: particle set does not match the last gather")
	}
	for i, e := range w.order {
		pos, vel, _ := w.mapper.Get(e)
		pos.Vec = ps.Pos[i]
		vel.Vec = ps.Vel[i]
	}
}

// RemoveOutside deletes every particle whose position lies outside g and
// returns how many were removed. Call Gather again afterwards.
func (w *World) RemoveOutside(g grid.Grid) int {
	var dead []ecs.Entity
	query := w.filter.Query()
	for query.Next() {
		pos, _, _ := query.Get()
		if !g.Contains(pos.Vec) {
			dead = append(dead, query.Entity())
		}
	}
	for _, e := range dead {
		w.world.RemoveEntity(e)
	}
	w.order = w.order[:0]
	return len(dead)
}
