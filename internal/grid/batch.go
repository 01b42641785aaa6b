package grid

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedOperation is returned when a batch request does not have the
// shape of a list of operations.
var ErrMalformedOperation = errors.New("malformed batch operation")

// GridCoordinate is a zero-based cell position in a batch request.
//
// SheetID is accepted for wire compatibility and not used for routing: a
// batch always targets the sheet it was sent to.
type GridCoordinate struct {
	SheetID     int64 `json:"sheetId,omitempty"`
	RowIndex    int   `json:"rowIndex"`
	ColumnIndex int   `json:"columnIndex"`
}

// UpdateCells overwrites cells starting at Start, padding like [Write].
type UpdateCells struct {
	Start  GridCoordinate `json:"start"`
	Rows   []RowData      `json:"rows"`
	Fields string         `json:"fields,omitempty"`
}

// AppendCells appends rows after the last row of the grid.
type AppendCells struct {
	SheetID int64     `json:"sheetId,omitempty"`
	Rows    []RowData `json:"rows"`
	Fields  string    `json:"fields,omitempty"`
}

// Operation is one entry of a batch request. Exactly one tag is expected to
// be set; if both are, UpdateCells is applied and AppendCells ignored. An
// operation with no recognized tag is skipped, see [IsRecognized].
type Operation struct {
	UpdateCells *UpdateCells `json:"updateCells,omitempty"`
	AppendCells *AppendCells `json:"appendCells,omitempty"`
}

// IsRecognized reports whether op carries a tag [Apply] knows how to run.
//
// Unrecognized operations are skipped without error and are not counted as
// applied, so newer clients can send request kinds this version ignores.
// Callers detect skipped work by comparing the applied count with the
// number of operations sent.
func IsRecognized(op Operation) bool {
	return op.UpdateCells != nil || op.AppendCells != nil
}

// Apply runs ops against g in order and returns the grid and the number of
// operations applied.
//
// There is no rollback: each operation sees the effects of the ones before
// it. Each recognized operation counts once, however many cells it touches.
func Apply(g Grid, ops []Operation) (Grid, int) {
	applied := 0

	for _, op := range ops {
		switch {
		case op.UpdateCells != nil:
			uc := op.UpdateCells
			start := Address{Row: uc.Start.RowIndex, Col: uc.Start.ColumnIndex}
			g, _ = Write(g, start, Texts(uc.Rows))
		case op.AppendCells != nil:
			g, _ = Append(g, Texts(op.AppendCells.Rows), ModeAppend)
		default:
			continue
		}

		applied++
	}

	return g, applied
}

// DecodeOperations parses a JSON batch. It accepts either a bare array of
// operations or an object {"requests": [...]}.
//
// Unknown operation tags decode to an empty [Operation]. Values of the
// wrong JSON type, or negative start indices, are rejected with
// [ErrMalformedOperation]; updates past the default [Limits] with
// [ErrTooLarge].
func DecodeOperations(data []byte) ([]Operation, error) {
	data = bytes.TrimSpace(data)

	var ops []Operation

	if len(data) > 0 && data[0] == '{' {
		var req struct {
			Requests *[]Operation `json:"requests"`
		}

		err := json.Unmarshal(data, &req)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedOperation, err)
		}

		if req.Requests == nil {
			return nil, fmt.Errorf("%w: missing requests", ErrMalformedOperation)
		}

		ops = *req.Requests
	} else {
		err := json.Unmarshal(data, &ops)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedOperation, err)
		}
	}

	err := ValidateOperations(ops, Limits{})
	if err != nil {
		return nil, err
	}

	return ops, nil
}

// ValidateOperations checks the parts of ops that [Apply] cannot recover
// from leniently: negative start coordinates, and updates that would grow
// the grid past lim (wrapping [ErrTooLarge]).
func ValidateOperations(ops []Operation, lim Limits) error {
	for i, op := range ops {
		if uc := op.UpdateCells; uc != nil {
			if uc.Start.RowIndex < 0 || uc.Start.ColumnIndex < 0 {
				return fmt.Errorf("%w: operation %d: negative start (%d, %d)",
					ErrMalformedOperation, i, uc.Start.RowIndex, uc.Start.ColumnIndex)
			}
		}
	}

	return lim.CheckOperations(ops)
}
