package registry

import "errors"

var (
	// ErrNotFound is returned when an id, tab id or tab title does not resolve.
	ErrNotFound = errors.New("sheet not found")

	// ErrAlreadyExists is returned when a tab title is taken under its parent.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidName is returned for empty sheet names, tab titles and ids.
	ErrInvalidName = errors.New("invalid name")

	// ErrRootTab is returned when deleting tab 0, the spreadsheet itself.
	ErrRootTab = errors.New("cannot delete the root tab")

	// ErrNestedTab is returned when adding a tab to a tab.
	ErrNestedTab = errors.New("tabs cannot have tabs")

	// ErrCorruptDescriptor reports a side-car that cannot be decoded.
	ErrCorruptDescriptor = errors.New("corrupt descriptor")
)
