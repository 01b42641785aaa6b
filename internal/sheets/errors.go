package sheets

import (
	"errors"
	"strings"

	"github.com/calvinalkan/sheetfs/internal/fs"
	"github.com/calvinalkan/sheetfs/internal/grid"
	"github.com/calvinalkan/sheetfs/internal/query"
	"github.com/calvinalkan/sheetfs/internal/registry"
)

// Error classes returned by [Service]. Every error a Service returns matches
// exactly one of them with [errors.Is].
var (
	// ErrNotFound: unknown sheet id, tab, or a registered sheet whose data
	// file is gone.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument: missing required fields, unknown append mode,
	// malformed batch operations, writes past the grid limits, or a query
	// rejected in strict mode.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAlreadyExists: a tab title taken under the same spreadsheet.
	ErrAlreadyExists = errors.New("already exists")

	// ErrBusy: the sheet lock could not be acquired before the timeout.
	// Errors of this class also match [fs.ErrWouldBlock].
	ErrBusy = errors.New("sheet busy")

	// ErrIOFailure: storage read/write failures and undecodable files.
	ErrIOFailure = errors.New("io failure")
)

// Error is the error type returned by all [Service] operations.
//
// It carries the operation name and the sheet it targeted:
//
//	write: saving budget.csv: writing budget.csv: permission denied (sheet_id=sheet_0abc)
//
// Use [errors.As] to extract the fields and [errors.Is] against the class
// sentinels above.
type Error struct {
	// Op is the service operation ("read", "write", "append", ...).
	Op string

	// SheetID is the id the caller passed. Empty for operations that do
	// not target a sheet.
	SheetID string

	// Err is the classified cause.
	Err error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	var b strings.Builder

	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}

	if e.Err != nil {
		b.WriteString(e.Err.Error())
	}

	if e.SheetID != "" {
		b.WriteString(" (sheet_id=")
		b.WriteString(e.SheetID)
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error for use with [errors.Is] and [errors.As].
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// withContext attaches op and sheet id and classifies err. An *Error that
// is already present keeps its fields.
func withContext(err error, op, sheetID string) error {
	if err == nil {
		return nil
	}

	existing := &Error{}
	if errors.As(err, &existing) {
		if existing.Op == "" {
			existing.Op = op
		}

		if existing.SheetID == "" {
			existing.SheetID = sheetID
		}

		return existing
	}

	return &Error{Op: op, SheetID: sheetID, Err: classify(err)}
}

type classError struct {
	class error
	cause error
}

func (c *classError) Error() string {
	return c.cause.Error()
}

func (c *classError) Unwrap() []error {
	return []error{c.cause, c.class}
}

// classify tags err with its class sentinel so errors.Is matches both the
// class and the original cause.
func classify(err error) error {
	for _, class := range []error{ErrNotFound, ErrInvalidArgument, ErrAlreadyExists, ErrBusy, ErrIOFailure} {
		if errors.Is(err, class) {
			return err
		}
	}

	class := ErrIOFailure

	switch {
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, grid.ErrNotFound):
		class = ErrNotFound
	case errors.Is(err, registry.ErrAlreadyExists):
		class = ErrAlreadyExists
	case errors.Is(err, registry.ErrInvalidName),
		errors.Is(err, registry.ErrNestedTab),
		errors.Is(err, registry.ErrRootTab),
		errors.Is(err, grid.ErrInvalidMode),
		errors.Is(err, grid.ErrMalformedOperation),
		errors.Is(err, grid.ErrTooLarge),
		errors.Is(err, query.ErrSyntax),
		errors.Is(err, query.ErrUnknownColumn):
		class = ErrInvalidArgument
	case errors.Is(err, fs.ErrWouldBlock):
		class = ErrBusy
	}

	return &classError{class: class, cause: err}
}

func invalidf(msg string) error {
	return &classError{class: ErrInvalidArgument, cause: errors.New(msg)}
}
