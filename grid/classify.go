package grid

import "gonum.org/v1/gonum/spatial/r3"

// ClassifyParticles rebuilds markers from particle occupancy: a cell is Fluid
// iff at least one position falls inside it, every other cell is Empty.
// Positions outside the grid are ignored.
func ClassifyParticles(m *MarkerField, positions []r3.Vec) {
	m.Fill(Empty)
	for _, p := range positions {
		c := m.Grid.PosToCell(p)
		if m.Grid.Is2D() {
			c[2] = 0
		}
		if m.Grid.Valid(c) {
			m.Set(c, Fluid)
		}
	}
}

// ClassifyField rebuilds markers from a reference scalar field: cells whose
// value exceeds threshold are Fluid, the rest Empty.
func ClassifyField(m *MarkerField, ref *ScalarField, threshold float64) {
	for i, v := range ref.Data {
		if v > threshold {
			m.Data[i] = Fluid
		} else {
			m.Data[i] = Empty
		}
	}
}
