package a1

import (
	"strconv"
	"testing"
)

// FuzzParse_Never_Inverts_Bounds checks that any input, however malformed,
// parses to a range whose ends are unbounded or not before its starts.
func FuzzParse_Never_Inverts_Bounds(f *testing.F) {
	for _, seed := range []string{"", "A1", "C5:A1", "Tab!B:D", "'it''s'!3:7", "$A$1:$B", "ZZZZZZZZ99999999999", ":", "!", "1:A"} {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, expr string) {
		r := Parse(expr)

		if r.StartRow < 0 || r.StartCol < 0 {
			t.Fatalf("Parse(%q) = %+v: negative start", expr, r)
		}

		if r.EndRow != Unbounded && r.EndRow < r.StartRow {
			t.Fatalf("Parse(%q) = %+v: rows inverted", expr, r)
		}

		if r.EndCol != Unbounded && r.EndCol < r.StartCol {
			t.Fatalf("Parse(%q) = %+v: columns inverted", expr, r)
		}
	})
}

// FuzzString_Round_Trips_Bounded_Ranges checks Parse(r.String()) == r for
// rectangles given by two corners.
func FuzzString_Round_Trips_Bounded_Ranges(f *testing.F) {
	f.Add(uint16(1), uint16(0), uint16(5), uint16(2))
	f.Add(uint16(2), uint16(1), uint16(2), uint16(1))
	f.Add(uint16(9), uint16(27), uint16(3), uint16(0))

	f.Fuzz(func(t *testing.T, row1, col1, row2, col2 uint16) {
		expr := ColumnName(int(col1)) + strconv.Itoa(int(row1)+1) + ":" + ColumnName(int(col2)) + strconv.Itoa(int(row2)+1)

		r := Parse(expr)

		if got := Parse(r.String()); got != r {
			t.Fatalf("Parse(%q) = %+v, String() = %q parses back to %+v", expr, r, r.String(), got)
		}
	})
}
