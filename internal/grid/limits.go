package grid

import (
	"errors"
	"fmt"
)

// ErrTooLarge is returned when an operation would grow a grid past its
// [Limits].
var ErrTooLarge = errors.New("grid too large")

// Default grid limits, the same as a spreadsheet worksheet.
const (
	DefaultMaxRows    = 1 << 20
	DefaultMaxColumns = 1 << 14
)

// Limits caps how far a write may grow a grid. Zero fields mean the
// defaults.
//
// Positions come from user input (A1 ranges, batch coordinates) and padding
// allocates every row and cell up to them, so they are checked before the
// grid is touched.
type Limits struct {
	MaxRows    int
	MaxColumns int
}

func (l Limits) rows() int {
	if l.MaxRows <= 0 {
		return DefaultMaxRows
	}

	return l.MaxRows
}

func (l Limits) columns() int {
	if l.MaxColumns <= 0 {
		return DefaultMaxColumns
	}

	return l.MaxColumns
}

// CheckWrite reports whether [Write] of values at start stays within l.
func (l Limits) CheckWrite(start Address, values [][]string) error {
	start.Row = max(start.Row, 0)
	start.Col = max(start.Col, 0)

	if n := start.Row + len(values); n > l.rows() {
		return fmt.Errorf("%w: write reaches row %d, limit is %d", ErrTooLarge, n, l.rows())
	}

	for _, row := range values {
		if n := start.Col + len(row); n > l.columns() {
			return fmt.Errorf("%w: write reaches column %d, limit is %d", ErrTooLarge, n, l.columns())
		}
	}

	return nil
}

// CheckAppend reports whether [Append] of values to g with mode stays
// within l.
func (l Limits) CheckAppend(g Grid, values [][]string, mode Mode) error {
	return l.CheckWrite(Address{Row: appendStart(g, mode)}, values)
}

// CheckOperations reports whether every update in ops stays within l.
// Appended rows are bounded by the request itself; use [Limits.CheckGrid]
// on the result to cap them.
func (l Limits) CheckOperations(ops []Operation) error {
	for i, op := range ops {
		uc := op.UpdateCells
		if uc == nil {
			continue
		}

		start := Address{Row: uc.Start.RowIndex, Col: uc.Start.ColumnIndex}

		err := l.CheckWrite(start, Texts(uc.Rows))
		if err != nil {
			return fmt.Errorf("operation %d: %w", i, err)
		}
	}

	return nil
}

// CheckGrid reports whether g is within l.
func (l Limits) CheckGrid(g Grid) error {
	if len(g) > l.rows() {
		return fmt.Errorf("%w: %d rows, limit is %d", ErrTooLarge, len(g), l.rows())
	}

	if w := g.Width(); w > l.columns() {
		return fmt.Errorf("%w: %d columns, limit is %d", ErrTooLarge, w, l.columns())
	}

	return nil
}
