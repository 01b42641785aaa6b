// Package a1 parses A1-style range expressions ("A1:C5", "Tab!B:D", "3:7")
// into zero-based half-open bounds.
//
// Parsing is lenient: [Parse] never fails. Fragments that cannot be read
// fall back to 0 on the start side and to [Unbounded] on the end side, so
// loosely formed expressions from callers still address something sensible.
//
// Bounds are half-open on both axes: rows [StartRow, EndRow) and columns
// [StartCol, EndCol). Because the end row number and end column letter are
// carried through un-decremented, the stated end cell is included: "A1:C5"
// covers rows 1..5 and columns A..C.
package a1

import (
	"regexp"
	"strconv"
	"strings"
)

// Unbounded marks an end bound that extends to the end of the grid.
const Unbounded = -1

// maxIndex caps decoded rows and columns so absurd input cannot overflow.
const maxIndex = 1 << 30

// Range is a parsed range expression.
type Range struct {
	// Sheet is the optional tab title from a "Tab!" prefix, unquoted.
	Sheet string

	StartRow int
	StartCol int

	// EndRow and EndCol are exclusive, or [Unbounded].
	EndRow int
	EndCol int
}

// All is the range covering the whole grid.
var All = Range{EndRow: Unbounded, EndCol: Unbounded}

// refRe splits a cell reference into its letter and digit parts. Both parts
// are optional, and trailing junk is ignored.
var refRe = regexp.MustCompile(`^\$?([A-Za-z]*)\$?([0-9]*)`)

type ref struct {
	col    int // 1-based, 0 when absent
	row    int // 1-based, 0 when absent
	hasCol bool
	hasRow bool
}

// Parse parses expr. An empty expression (or one with only a tab prefix)
// yields the whole grid.
func Parse(expr string) Range {
	sheet, body := splitSheet(strings.TrimSpace(expr))

	r := All
	r.Sheet = sheet

	body = strings.TrimSpace(body)
	if body == "" {
		return r
	}

	fromRef, toRef, hasColon := strings.Cut(body, ":")

	from := parseRef(fromRef)
	to := from

	if hasColon {
		to = parseRef(toRef)
	}

	if from.hasCol && to.hasCol && from.col > to.col {
		from.col, to.col = to.col, from.col
	}

	if from.hasRow && to.hasRow && from.row > to.row {
		from.row, to.row = to.row, from.row
	}

	if from.hasRow {
		r.StartRow = max(from.row-1, 0)
	}

	if from.hasCol {
		r.StartCol = max(from.col-1, 0)
	}

	if to.hasRow {
		r.EndRow = to.row
	}

	if to.hasCol {
		r.EndCol = to.col
	}

	return r
}

// IsSingleCell reports whether r addresses exactly one cell.
func (r Range) IsSingleCell() bool {
	return r.EndRow == r.StartRow+1 && r.EndCol == r.StartCol+1
}

// String renders r back to A1 notation. Unbounded ends render as open
// column or row references ("A2:C", "B:D").
func (r Range) String() string {
	var b strings.Builder

	if r.Sheet != "" {
		b.WriteString(quoteSheet(r.Sheet))
		b.WriteByte('!')
	}

	if r.StartRow == 0 && r.StartCol == 0 && r.EndRow == Unbounded && r.EndCol == Unbounded {
		return b.String()
	}

	from := ColumnName(r.StartCol)
	if r.EndRow != Unbounded || r.StartRow > 0 {
		from += strconv.Itoa(r.StartRow + 1)
	}

	to := ""
	if r.EndCol != Unbounded {
		to = ColumnName(r.EndCol - 1)
	}

	if r.EndRow != Unbounded {
		to += strconv.Itoa(r.EndRow)
	}

	b.WriteString(from)

	if r.IsSingleCell() {
		return b.String()
	}

	b.WriteByte(':')
	b.WriteString(to)

	return b.String()
}

// ColumnName converts a zero-based column index to letters (0 -> "A",
// 26 -> "AA"). Negative input yields "".
func ColumnName(col int) string {
	n := col + 1

	var out []byte
	for n > 0 {
		n--
		out = append(out, byte('A'+n%26))
		n /= 26
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	return string(out)
}

// ColumnIndex converts column letters to a zero-based index. It is
// case-insensitive; non-letters are ignored. Empty input yields -1.
func ColumnIndex(letters string) int {
	n := lettersToCol(letters)
	if n == 0 {
		return -1
	}

	return n - 1
}

func splitSheet(expr string) (string, string) {
	i := strings.LastIndex(expr, "!")
	if i < 0 {
		return "", expr
	}

	sheet := strings.TrimSpace(expr[:i])
	if len(sheet) >= 2 && sheet[0] == '\'' && sheet[len(sheet)-1] == '\'' {
		sheet = strings.ReplaceAll(sheet[1:len(sheet)-1], "''", "'")
	}

	return sheet, expr[i+1:]
}

func quoteSheet(name string) string {
	if strings.ContainsAny(name, " '!:") {
		return "'" + strings.ReplaceAll(name, "'", "''") + "'"
	}

	return name
}

func parseRef(s string) ref {
	m := refRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return ref{}
	}

	var out ref

	if m[1] != "" {
		out.col = lettersToCol(m[1])
		out.hasCol = true
	}

	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil || n > maxIndex {
			n = maxIndex
		}

		out.row = n
		out.hasRow = true
	}

	return out
}

func lettersToCol(letters string) int {
	col := 0

	for _, c := range strings.ToUpper(letters) {
		if c < 'A' || c > 'Z' {
			continue
		}

		col = col*26 + int(c-'A'+1)
		if col > maxIndex {
			return maxIndex
		}
	}

	return col
}
