package grid

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
)

// ErrMalformed is returned by [Decode] when a record cannot be parsed.
var ErrMalformed = errors.New("malformed csv")

// Encode renders g as CSV, one record per row, with "\n" line endings.
//
// Fields containing the delimiter, quotes or line breaks are quoted. An
// empty row is written as an empty line; a row holding a single empty cell
// is written as `""` so the two stay distinguishable. Equal grids always
// encode to identical bytes.
func Encode(g Grid) []byte {
	var buf bytes.Buffer

	w := csv.NewWriter(&buf)

	for _, row := range g {
		if len(row) == 1 && row[0] == "" {
			w.Flush()
			buf.WriteString("\"\"\n")

			continue
		}

		// Writes to a bytes.Buffer cannot fail.
		_ = w.Write(row)
	}

	w.Flush()

	return buf.Bytes()
}

// Decode parses CSV produced by [Encode] or any RFC 4180 writer.
//
// Unlike [csv.Reader], blank lines are kept as empty rows and the bytes of a
// quoted field are kept as written, so "\r\n" inside quotes survives. Rows
// may differ in length. Both "\n" and "\r\n" line endings are accepted. A
// quote inside an unquoted field, or one not followed by a delimiter inside
// a quoted field, is taken literally.
func Decode(data []byte) (Grid, error) {
	g := Grid{}
	d := decoder{data: data}

	for d.pos < len(d.data) {
		row, err := d.record()
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %w", ErrMalformed, len(g)+1, err)
		}

		g = append(g, row)
	}

	return g, nil
}

var errUnterminatedQuote = errors.New("quoted field is not closed")

type decoder struct {
	data []byte
	pos  int
}

// lineEnd returns the length of the record terminator at the current
// position, or 0. A trailing "\r" at the end of data counts as one.
func (d *decoder) lineEnd() int {
	switch {
	case d.pos >= len(d.data):
		return 0
	case d.data[d.pos] == '\n':
		return 1
	case d.data[d.pos] == '\r' && d.pos+1 < len(d.data) && d.data[d.pos+1] == '\n':
		return 2
	case d.data[d.pos] == '\r' && d.pos+1 == len(d.data):
		return 1
	default:
		return 0
	}
}

// fieldEnd reports whether the current position ends a field.
func (d *decoder) fieldEnd() bool {
	return d.pos >= len(d.data) || d.data[d.pos] == ',' || d.lineEnd() > 0
}

func (d *decoder) record() ([]string, error) {
	if n := d.lineEnd(); n > 0 {
		d.pos += n

		return []string{}, nil
	}

	var row []string

	for {
		field, err := d.field()
		if err != nil {
			return nil, err
		}

		row = append(row, field)

		if d.pos < len(d.data) && d.data[d.pos] == ',' {
			d.pos++

			continue
		}

		d.pos += d.lineEnd()

		return row, nil
	}
}

func (d *decoder) field() (string, error) {
	if d.pos >= len(d.data) || d.data[d.pos] != '"' {
		start := d.pos
		for !d.fieldEnd() {
			d.pos++
		}

		return string(d.data[start:d.pos]), nil
	}

	d.pos++

	var buf []byte

	for d.pos < len(d.data) {
		c := d.data[d.pos]
		d.pos++

		if c != '"' {
			buf = append(buf, c)

			continue
		}

		if d.pos < len(d.data) && d.data[d.pos] == '"' {
			buf = append(buf, '"')
			d.pos++

			continue
		}

		if d.fieldEnd() {
			return string(buf), nil
		}

		buf = append(buf, '"')
	}

	return "", errUnterminatedQuote
}
