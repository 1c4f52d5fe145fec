package grid

import "gonum.org/v1/gonum/spatial/r3"

// MarkerField holds one CellType per cell.
type MarkerField struct {
	Grid Grid
	Data []CellType
}

// NewMarkerField allocates an all-Empty marker field.
func NewMarkerField(g Grid) *MarkerField {
	return &MarkerField{Grid: g, Data: make([]CellType, g.NumCells())}
}

func (m *MarkerField) Layout() Grid { return m.Grid }

func (m *MarkerField) At(c Coord) CellType     { return m.Data[m.Grid.Index(c)] }
func (m *MarkerField) Set(c Coord, t CellType) { m.Data[m.Grid.Index(c)] = t }

// Fill tags every cell with t.
func (m *MarkerField) Fill(t CellType) {
	for i := range m.Data {
		m.Data[i] = t
	}
}

// Count returns the number of cells tagged t.
func (m *MarkerField) Count(t CellType) int {
	n := 0
	for _, v := range m.Data {
		if v == t {
			n++
		}
	}
	return n
}

// ScalarField stores one value per cell centre.
type ScalarField struct {
	Grid Grid
	Data []float64
}

// NewScalarField allocates a zeroed scalar field.
func NewScalarField(g Grid) *ScalarField {
	return &ScalarField{Grid: g, Data: make([]float64, g.NumCells())}
}

func (f *ScalarField) Layout() Grid { return f.Grid }

func (f *ScalarField) At(c Coord) float64     { return f.Data[f.Grid.Index(c)] }
func (f *ScalarField) Set(c Coord, v float64) { f.Data[f.Grid.Index(c)] = v }

// AtClamped samples the field with out-of-range coordinates clamped to the border.
func (f *ScalarField) AtClamped(c Coord) float64 {
	return f.Data[f.Grid.Index(f.Grid.Clamp(c))]
}

// Fill sets every cell to v.
func (f *ScalarField) Fill(v float64) {
	for i := range f.Data {
		f.Data[i] = v
	}
}

// Scale multiplies every cell by s.
func (f *ScalarField) Scale(s float64) {
	for i := range f.Data {
		f.Data[i] *= s
	}
}

// CopyFrom copies src's values. Both fields must share a grid.
func (f *ScalarField) CopyFrom(src *ScalarField) { copy(f.Data, src.Data) }

// Sample interpolates the field at p from the surrounding cell centres.
// Positions with no in-bounds centre return zero.
func (f *ScalarField) Sample(p r3.Vec) float64 {
	layout := VectorField{Grid: f.Grid, Sampling: Center}
	st := layout.Stencil(0, p)
	var s float64
	for k := 0; k < st.N; k++ {
		s += st.W[k] * f.Data[st.Idx[k]]
	}
	return s
}

// Clone returns a deep copy.
func (f *ScalarField) Clone() *ScalarField {
	c := NewScalarField(f.Grid)
	copy(c.Data, f.Data)
	return c
}

// IndexField stores one integer per cell. It backs the restricted-domain
// active index and the extrapolation distance field.
type IndexField struct {
	Grid Grid
	Data []int
}

// NewIndexField allocates an index field filled with fill.
func NewIndexField(g Grid, fill int) *IndexField {
	f := &IndexField{Grid: g, Data: make([]int, g.NumCells())}
	f.Fill(fill)
	return f
}

func (f *IndexField) Layout() Grid { return f.Grid }

func (f *IndexField) At(c Coord) int     { return f.Data[f.Grid.Index(c)] }
func (f *IndexField) Set(c Coord, v int) { f.Data[f.Grid.Index(c)] = v }

func (f *IndexField) Fill(v int) {
	for i := range f.Data {
		f.Data[i] = v
	}
}
