// Package components defines ECS components for scene particles.
package components

import "gonum.org/v1/gonum/spatial/r3"

// Position represents a particle's world position.
type Position struct {
	r3.Vec
}

// Velocity represents a particle's velocity.
type Velocity struct {
	r3.Vec
}

// Mass is a particle's mass.
type Mass struct {
	Value float64
}

// Emitter marks particles spawned by a source after the initial fill.
type Emitter struct {
	SpawnStep int
}
