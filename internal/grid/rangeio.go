package grid

import "github.com/calvinalkan/sheetfs/internal/a1"

// Read returns the cells of g inside r.
//
// Rows are sliced by the row bound, then each row by the column bound.
// Short rows are not re-padded, so a row that ends before r.StartCol comes
// back empty. The result never aliases g.
func Read(g Grid, r a1.Range) [][]string {
	start, end := clamp(r.StartRow, r.EndRow, len(g))

	out := make([][]string, 0, end-start)

	for _, row := range g[start:end] {
		cs, ce := clamp(r.StartCol, r.EndCol, len(row))
		out = append(out, append([]string{}, row[cs:ce]...))
	}

	return out
}

// Write overwrites the rectangle starting at start with values.
//
// The grid grows with empty rows until it has start.Row+len(values) rows,
// and each touched row grows with empty cells until it covers its value row.
// Cells outside the rectangle are left alone and the grid never shrinks.
func Write(g Grid, start Address, values [][]string) (Grid, Update) {
	start.Row = max(start.Row, 0)
	start.Col = max(start.Col, 0)

	g = growRows(g, start.Row+len(values))

	for i, vals := range values {
		ri := start.Row + i

		g[ri] = growRow(g[ri], start.Col+len(vals))
		copy(g[ri][start.Col:], vals)
	}

	return g, extent(values)
}

// clamp converts a half-open bound with an optional [a1.Unbounded] end into
// valid slice indices for a sequence of length n.
func clamp(start, end, n int) (int, int) {
	if end == a1.Unbounded || end > n {
		end = n
	}

	start = min(max(start, 0), n)
	if end < start {
		end = start
	}

	return start, end
}
