// Package grid holds the in-memory sheet model and the operations that
// mutate it: range read/write, row append and batch cell updates.
//
// A [Grid] is ragged. Rows may have different lengths, readers never assume
// padding, and writers pad explicitly before indexing. Every function in this
// package that changes a grid returns the changed grid; callers persist it
// with [Store.Save].
package grid

// Grid is an ordered list of rows of text cells.
type Grid [][]string

// Address is a zero-based cell position.
type Address struct {
	Row int
	Col int
}

// Update reports the extent of a write or append.
type Update struct {
	Rows    int `json:"updatedRows"`
	Columns int `json:"updatedColumns"`
}

// Clone returns a deep copy of g.
func (g Grid) Clone() Grid {
	if g == nil {
		return nil
	}

	out := make(Grid, len(g))
	for i, row := range g {
		out[i] = append([]string(nil), row...)
	}

	return out
}

// Width returns the length of the longest row.
func (g Grid) Width() int {
	w := 0
	for _, row := range g {
		w = max(w, len(row))
	}

	return w
}

// Cell returns the cell at (row, col), or "" if it lies outside the grid.
func (g Grid) Cell(row, col int) string {
	if row < 0 || row >= len(g) || col < 0 || col >= len(g[row]) {
		return ""
	}

	return g[row][col]
}

// IsBlankRow reports whether row has no cells or only empty cells.
func IsBlankRow(row []string) bool {
	for _, c := range row {
		if c != "" {
			return false
		}
	}

	return true
}

// extent computes the Update for a block of value rows.
func extent(values [][]string) Update {
	u := Update{Rows: len(values)}
	for _, row := range values {
		u.Columns = max(u.Columns, len(row))
	}

	return u
}

// growRows pads g with empty rows until it has at least n rows.
func growRows(g Grid, n int) Grid {
	for len(g) < n {
		g = append(g, []string{})
	}

	return g
}

// growRow pads row with empty cells until it has at least n cells.
func growRow(row []string, n int) []string {
	for len(row) < n {
		row = append(row, "")
	}

	return row
}
