package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Limits_Allow_Writes_Up_To_The_Cap(t *testing.T) {
	t.Parallel()

	lim := Limits{MaxRows: 10, MaxColumns: 4}

	tests := []struct {
		name   string
		start  Address
		values [][]string
		tooBig bool
	}{
		{"last row", Address{Row: 9}, [][]string{{"x"}}, false},
		{"one row past", Address{Row: 10}, [][]string{{"x"}}, true},
		{"block ends at cap", Address{Row: 8}, [][]string{{"a"}, {"b"}}, false},
		{"block ends past cap", Address{Row: 8}, [][]string{{"a"}, {"b"}, {"c"}}, true},
		{"last column", Address{Col: 3}, [][]string{{"x"}}, false},
		{"one column past", Address{Col: 2}, [][]string{{"x", "y", "z"}}, true},
		{"negative start clamps", Address{Row: -5, Col: -5}, [][]string{{"x"}}, false},
	}

	for _, tt := range tests {
		err := lim.CheckWrite(tt.start, tt.values)
		if tt.tooBig {
			assert.ErrorIs(t, err, ErrTooLarge, tt.name)
		} else {
			assert.NoError(t, err, tt.name)
		}
	}
}

func Test_Limits_Use_Defaults_When_Zero(t *testing.T) {
	t.Parallel()

	var lim Limits

	require.NoError(t, lim.CheckWrite(Address{Row: DefaultMaxRows - 1, Col: DefaultMaxColumns - 1}, [][]string{{"x"}}))
	require.ErrorIs(t, lim.CheckWrite(Address{Row: DefaultMaxRows}, [][]string{{"x"}}), ErrTooLarge)
	require.ErrorIs(t, lim.CheckWrite(Address{Row: 1 << 40}, [][]string{{"x"}}), ErrTooLarge)
}

func Test_Limits_CheckAppend_Counts_From_First_Blank_Row_When_Filling(t *testing.T) {
	t.Parallel()

	lim := Limits{MaxRows: 3}
	g := Grid{{"a"}, {}, {"b"}}

	assert.NoError(t, lim.CheckAppend(g, [][]string{{"x"}, {"y"}}, ModeFillFirstBlank))
	assert.ErrorIs(t, lim.CheckAppend(g, [][]string{{"x"}}, ModeAppend), ErrTooLarge)
}

func Test_ValidateOperations_Rejects_Updates_Past_The_Cap(t *testing.T) {
	t.Parallel()

	lim := Limits{MaxRows: 10, MaxColumns: 4}
	update := func(r, c int) []Operation {
		return []Operation{{UpdateCells: &UpdateCells{
			Start: GridCoordinate{RowIndex: r, ColumnIndex: c},
			Rows:  []RowData{row(StringValue("x"))},
		}}}
	}

	require.NoError(t, ValidateOperations(update(9, 3), lim))
	require.ErrorIs(t, ValidateOperations(update(10, 0), lim), ErrTooLarge)
	require.ErrorIs(t, ValidateOperations(update(0, 4), lim), ErrTooLarge)

	_, err := DecodeOperations([]byte(`[{"updateCells": {"start": {"rowIndex": 1099511627776}, "rows": [{"values": [{}]}]}}]`))
	require.ErrorIs(t, err, ErrTooLarge)
}

func Test_Limits_CheckGrid_Measures_Rows_And_Widest_Row(t *testing.T) {
	t.Parallel()

	lim := Limits{MaxRows: 2, MaxColumns: 2}

	assert.NoError(t, lim.CheckGrid(Grid{{"a", "b"}, {"c"}}))
	assert.ErrorIs(t, lim.CheckGrid(Grid{{"a"}, {"b"}, {"c"}}), ErrTooLarge)
	assert.ErrorIs(t, lim.CheckGrid(Grid{{"a", "b", "c"}}), ErrTooLarge)
}
