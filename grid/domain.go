package grid

// Inactive marks a cell outside a restricted domain.
const Inactive = -1

// BuildActiveDomain fills active with consecutive row indices, assigned in
// storage order, for every cell inside the bounding box of ref > 0 grown by
// margin cells and clamped to the grid. Cells outside the box are Inactive.
// It returns the number of active cells; an all-zero ref yields none.
func BuildActiveDomain(ref *ScalarField, margin int, active *IndexField) int {
	g := ref.Grid
	active.Fill(Inactive)

	lo := g.Res
	hi := Coord{-1, -1, -1}
	for i, v := range ref.Data {
		if v <= 0 {
			continue
		}
		c := g.CoordOf(i)
		for a := 0; a < 3; a++ {
			lo[a] = min(lo[a], c[a])
			hi[a] = max(hi[a], c[a])
		}
	}
	if hi[0] < 0 {
		return 0
	}
	for a := 0; a < 3; a++ {
		lo[a] = max(lo[a]-margin, 0)
		hi[a] = min(hi[a]+margin, g.Res[a]-1)
	}

	n := 0
	for i := range active.Data {
		c := g.CoordOf(i)
		if c[0] >= lo[0] && c[0] <= hi[0] &&
			c[1] >= lo[1] && c[1] <= hi[1] &&
			c[2] >= lo[2] && c[2] <= hi[2] {
			active.Data[i] = n
			n++
		}
	}
	return n
}
