package grid

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidMode is returned by [ParseMode] for unknown append modes.
var ErrInvalidMode = errors.New("invalid append mode")

// Mode selects how [Append] places new rows.
type Mode int

const (
	// ModeAppend adds rows after the last existing row.
	ModeAppend Mode = iota

	// ModeFillFirstBlank starts writing at the first blank row and extends
	// past the end as needed. Without a blank row it behaves like ModeAppend.
	ModeFillFirstBlank
)

func (m Mode) String() string {
	switch m {
	case ModeAppend:
		return "APPEND"
	case ModeFillFirstBlank:
		return "FILL_FIRST_BLANK"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses a mode name. The empty string means [ModeAppend]. The
// spreadsheet API names INSERT_ROWS and OVERWRITE are accepted as aliases.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "APPEND", "INSERT_ROWS":
		return ModeAppend, nil
	case "FILL_FIRST_BLANK", "OVERWRITE":
		return ModeFillFirstBlank, nil
	default:
		return ModeAppend, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// Append adds values to g according to mode.
//
// With [ModeFillFirstBlank], rows are replaced whole starting at the first
// row that has no cells or only empty cells: [[a],[],[b]] + [[x],[y]] gives
// [[a],[x],[y]].
func Append(g Grid, values [][]string, mode Mode) (Grid, Update) {
	at := appendStart(g, mode)

	g = growRows(g, at+len(values))

	for i, vals := range values {
		g[at+i] = append([]string{}, vals...)
	}

	return g, extent(values)
}

// appendStart returns the row index where [Append] places its first row.
func appendStart(g Grid, mode Mode) int {
	if mode == ModeFillFirstBlank {
		for i, row := range g {
			if IsBlankRow(row) {
				return i
			}
		}
	}

	return len(g)
}
