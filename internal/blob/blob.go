// Package blob is the storage seam under sheetfs: a flat namespace of named
// byte blobs with load/save/list semantics.
//
// Two implementations are provided:
//   - [Dir]: files in a directory, written atomically via [fs.FS]
//   - [Mem]: an in-memory map for tests and ephemeral use
//
// Names are single path elements ("budget.csv", "budget.meta"). Nested
// names are rejected with [ErrInvalidName].
package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotExist is returned by Read when the blob does not exist.
	ErrNotExist = errors.New("blob does not exist")

	// ErrInvalidName is returned for empty names or names with separators.
	ErrInvalidName = errors.New("invalid blob name")
)

// Store loads, saves and lists named blobs.
//
// Write replaces the whole blob. Remove of a missing blob is not an error.
// List returns names ending in suffix, sorted ascending.
type Store interface {
	Read(ctx context.Context, name string) ([]byte, error)
	Write(ctx context.Context, name string, data []byte) error
	Remove(ctx context.Context, name string) error
	Exists(ctx context.Context, name string) (bool, error)
	List(ctx context.Context, suffix string) ([]string, error)
}

// ValidateName reports whether name can be stored.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`+"\x00"):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	return nil
}
