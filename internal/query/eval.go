// Package query evaluates a small SELECT / WHERE / ORDER BY language over a
// grid whose first row holds the column headers.
//
// The language supports projection, AND-ed equality filters and a single
// ORDER BY column. There is no OR, no inequality and no aggregation.
//
// Case handling: keywords are case-insensitive. Column references match a
// header exactly first, then case-insensitively, then as a 1-based column
// number. Literal values are compared case-sensitively against the raw
// cell text, so WHERE city = 'NYC' does not match "nyc".
package query

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/calvinalkan/sheetfs/internal/grid"
)

// Options selects the evaluation mode.
type Options struct {
	// Strict turns the lenient fallbacks (ignored conditions, dropped
	// columns, implicit SELECT *) into errors.
	Strict bool
}

// Result is the output of a query.
type Result struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// Evaluate parses text and runs it against g.
func Evaluate(g grid.Grid, text string, opts Options) (Result, error) {
	q, err := Parse(text, opts)
	if err != nil {
		return Result{}, err
	}

	return q.Run(g, opts)
}

// Run evaluates q against g. The first row of g is the header row; an empty
// grid yields an empty result.
//
// Missing cells read as "" for filtering, sorting and named projection.
// SELECT * returns data rows as stored, without padding.
func (q *Query) Run(g grid.Grid, opts Options) (Result, error) {
	if len(g) == 0 {
		return Result{Headers: []string{}, Rows: [][]string{}}, nil
	}

	headers := g[0]
	data := g[1:]

	type filter struct {
		col   int
		value string
	}

	var filters []filter

	for _, c := range q.Where {
		idx, ok := resolve(headers, c.Column)
		if !ok {
			if opts.Strict {
				return Result{}, fmt.Errorf("%w: %q in WHERE", ErrUnknownColumn, c.Column.Name)
			}

			continue
		}

		filters = append(filters, filter{col: idx, value: c.Value})
	}

	rows := make([][]string, 0, len(data))

	for _, row := range data {
		keep := true

		for _, f := range filters {
			if cell(row, f.col) != f.value {
				keep = false
				break
			}
		}

		if keep {
			rows = append(rows, row)
		}
	}

	if q.OrderBy != nil {
		idx, ok := resolve(headers, *q.OrderBy)

		switch {
		case ok:
			slices.SortStableFunc(rows, func(a, b []string) int {
				c := strings.Compare(cell(a, idx), cell(b, idx))
				if q.Desc {
					return -c
				}

				return c
			})
		case opts.Strict:
			return Result{}, fmt.Errorf("%w: %q in ORDER BY", ErrUnknownColumn, q.OrderBy.Name)
		}
	}

	if q.Star {
		out := make([][]string, len(rows))
		for i, row := range rows {
			out[i] = append([]string{}, row...)
		}

		return Result{Headers: append([]string{}, headers...), Rows: out}, nil
	}

	var (
		cols   []int
		outHdr = []string{}
	)

	for _, ref := range q.Columns {
		idx, ok := resolve(headers, ref)
		if !ok {
			if opts.Strict {
				return Result{}, fmt.Errorf("%w: %q in SELECT", ErrUnknownColumn, ref.Name)
			}

			continue
		}

		cols = append(cols, idx)

		if idx < len(headers) {
			outHdr = append(outHdr, headers[idx])
		} else {
			outHdr = append(outHdr, ref.Name)
		}
	}

	out := make([][]string, len(rows))

	for i, row := range rows {
		projected := make([]string, len(cols))
		for j, c := range cols {
			projected[j] = cell(row, c)
		}

		out[i] = projected
	}

	return Result{Headers: outHdr, Rows: out}, nil
}

// resolve maps a column reference to a zero-based index: exact header
// match, then case-insensitive match, then 1-based column number. A column
// number may point past the header row.
func resolve(headers []string, ref ColumnRef) (int, bool) {
	if i := slices.Index(headers, ref.Name); i >= 0 {
		return i, true
	}

	for i, h := range headers {
		if strings.EqualFold(h, ref.Name) {
			return i, true
		}
	}

	n, err := strconv.Atoi(ref.Name)
	if err == nil && n >= 1 {
		return n - 1, true
	}

	return 0, false
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}

	return ""
}
