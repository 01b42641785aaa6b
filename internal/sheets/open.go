package sheets

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/calvinalkan/sheetfs/internal/blob"
	"github.com/calvinalkan/sheetfs/internal/fs"
	"github.com/calvinalkan/sheetfs/internal/registry"
)

// StateDir is the directory inside a data dir that holds the registry
// index and lock files. It is never listed as a sheet.
const StateDir = ".sheetfs"

// Open returns a Service over the CSV files in dataDir, with a SQLite
// registry index and (unless opts says otherwise) flock-based locking
// under dataDir/.sheetfs. Call Close when done.
func Open(ctx context.Context, dataDir string, opts Options) (*Service, error) {
	if dataDir == "" {
		return nil, withContext(invalidf("data dir is required"), "open", "")
	}

	fsys := opts.FS
	if fsys == nil {
		fsys = fs.NewReal()
		opts.FS = fsys
	}

	state := filepath.Join(dataDir, StateDir)

	err := fsys.MkdirAll(state, 0o755)
	if err != nil {
		return nil, withContext(fmt.Errorf("creating %s: %w", state, err), "open", "")
	}

	if opts.LockMode == "" {
		opts.LockMode = LockFile
	}

	if opts.LockDir == "" {
		opts.LockDir = filepath.Join(state, "locks")
	}

	idx, err := registry.OpenIndex(ctx, filepath.Join(state, "index.sqlite"))
	if err != nil {
		return nil, withContext(err, "open", "")
	}

	opts.Index = idx

	svc, err := New(blob.NewDir(fsys, dataDir), opts)
	if err != nil {
		_ = idx.Close()

		return nil, err
	}

	svc.closers = append(svc.closers, idx)

	return svc, nil
}
