package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/calvinalkan/sheetfs/internal/fs"
)

const (
	filePerm = 0o644
	dirPerm  = 0o755
)

// Dir stores blobs as files in a single directory.
//
// Writes go through [fs.FS.WriteFileAtomic] so a crash never leaves a torn
// sheet behind. Dir does no locking of its own.
type Dir struct {
	fs   fs.FS
	root string
}

// NewDir returns a Dir rooted at root. The directory is created on first
// write.
func NewDir(fsys fs.FS, root string) *Dir {
	return &Dir{fs: fsys, root: root}
}

// Root returns the directory holding the blobs.
func (d *Dir) Root() string {
	return d.root
}

// Path returns the on-disk path for name.
func (d *Dir) Path(name string) string {
	return filepath.Join(d.root, name)
}

// FS returns the filesystem the Dir writes through.
func (d *Dir) FS() fs.FS {
	return d.fs
}

func (d *Dir) Read(_ context.Context, name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	data, err := d.fs.ReadFile(d.Path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, name)
		}

		return nil, fmt.Errorf("reading %s: %w", name, err)
	}

	return data, nil
}

func (d *Dir) Write(_ context.Context, name string, data []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	err := d.fs.MkdirAll(d.root, dirPerm)
	if err != nil {
		return fmt.Errorf("creating %s: %w", d.root, err)
	}

	err = d.fs.WriteFileAtomic(d.Path(name), data, filePerm)
	if err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}

	return nil
}

func (d *Dir) Remove(_ context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	err := d.fs.Remove(d.Path(name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", name, err)
	}

	return nil
}

func (d *Dir) Exists(_ context.Context, name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}

	return d.fs.Exists(d.Path(name))
}

// List returns regular files in the root whose names end in suffix. A
// missing root lists as empty.
func (d *Dir) List(_ context.Context, suffix string) ([]string, error) {
	entries, err := d.fs.ReadDir(d.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("listing %s: %w", d.root, err)
	}

	var names []string

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}

		names = append(names, e.Name())
	}

	sort.Strings(names)

	return names, nil
}
