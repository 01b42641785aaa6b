package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
)

const schemaVersion = 1

// Index is a derived SQLite lookup table over descriptors.
//
// The .meta side-cars stay the source of truth. The index can be deleted at
// any time; it is rebuilt from a scan when its schema version does not match
// or when a lookup misses.
type Index struct {
	db *sql.DB

	// stale is set when the schema was (re)created and rows must be loaded
	// from a scan before lookups can be trusted.
	stale bool
}

// OpenIndex opens or creates the index database at path.
func OpenIndex(ctx context.Context, path string) (*Index, error) {
	db, err := openSQLite(ctx, path)
	if err != nil {
		return nil, err
	}

	version, err := userVersion(ctx, db)
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	idx := &Index{db: db}

	if version != schemaVersion {
		err = idx.Rebuild(ctx, nil)
		if err != nil {
			_ = db.Close()

			return nil, err
		}

		idx.stale = true
	}

	return idx, nil
}

// Close closes the database.
func (x *Index) Close() error {
	return x.db.Close()
}

// Stale reports whether the index was created empty and awaits a rebuild.
func (x *Index) Stale() bool {
	return x.stale
}

func openSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("open sqlite: path is empty")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	err = db.PingContext(ctx)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	err = applyPragmas(ctx, db)
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	return db, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	statements := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA temp_store = MEMORY",
	}

	for _, stmt := range statements {
		_, err := db.ExecContext(ctx, stmt)
		if err != nil {
			return fmt.Errorf("apply pragma %q: %w", stmt, err)
		}
	}

	return nil
}

func userVersion(ctx context.Context, db *sql.DB) (int, error) {
	row := db.QueryRowContext(ctx, "PRAGMA user_version")

	var version int

	err := row.Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}

	return version, nil
}

// Rebuild drops the table and inserts descs in one transaction.
func (x *Index) Rebuild(ctx context.Context, descs []Descriptor) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rebuild txn: %w", err)
	}

	committed := false

	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	err = createSchema(ctx, tx)
	if err != nil {
		return err
	}

	insert, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}

	defer func() { _ = insert.Close() }()

	for _, d := range descs {
		_, err = insert.ExecContext(ctx, descriptorArgs(d)...)
		if err != nil {
			return fmt.Errorf("insert index row for %s (%s): %w", d.ID, d.File, err)
		}
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion))
	if err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("commit rebuild txn: %w", err)
	}

	committed = true
	x.stale = false

	return nil
}

func createSchema(ctx context.Context, tx *sql.Tx) error {
	statements := []string{
		"DROP TABLE IF EXISTS sheets",
		`CREATE TABLE sheets (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			file TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			parent TEXT NOT NULL DEFAULT '',
			tab_id INTEGER NOT NULL DEFAULT 0
		) WITHOUT ROWID`,
		"CREATE INDEX idx_parent ON sheets(parent, created_at)",
	}

	for _, stmt := range statements {
		_, err := tx.ExecContext(ctx, stmt)
		if err != nil {
			return fmt.Errorf("apply schema statement %q: %w", stmt, err)
		}
	}

	return nil
}

const insertSQL = `
	INSERT OR REPLACE INTO sheets (id, name, file, created_at, parent, tab_id)
	VALUES (?, ?, ?, ?, ?, ?)`

func descriptorArgs(d Descriptor) []any {
	return []any{d.ID, d.Name, d.File, d.CreatedAt.UnixNano(), d.Parent, d.TabID}
}

// Put inserts or replaces d.
func (x *Index) Put(ctx context.Context, d Descriptor) error {
	_, err := x.db.ExecContext(ctx, insertSQL, descriptorArgs(d)...)
	if err != nil {
		return fmt.Errorf("index put %s: %w", d.ID, err)
	}

	return nil
}

// Delete removes the row for id. Missing rows are not an error.
func (x *Index) Delete(ctx context.Context, id string) error {
	_, err := x.db.ExecContext(ctx, "DELETE FROM sheets WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("index delete %s: %w", id, err)
	}

	return nil
}

const selectSQL = "SELECT id, name, file, created_at, parent, tab_id FROM sheets"

// Lookup returns the descriptor for id. The bool is false on a miss.
func (x *Index) Lookup(ctx context.Context, id string) (Descriptor, bool, error) {
	row := x.db.QueryRowContext(ctx, selectSQL+" WHERE id = ?", id)

	d, err := scanDescriptor(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Descriptor{}, false, nil
	}

	if err != nil {
		return Descriptor{}, false, fmt.Errorf("index lookup %s: %w", id, err)
	}

	return d, true, nil
}

// Children returns the tabs of parent ordered by creation time and tab id.
func (x *Index) Children(ctx context.Context, parent string) ([]Descriptor, error) {
	rows, err := x.db.QueryContext(ctx, selectSQL+" WHERE parent = ? ORDER BY created_at, tab_id", parent)
	if err != nil {
		return nil, fmt.Errorf("index children %s: %w", parent, err)
	}

	defer func() { _ = rows.Close() }()

	var out []Descriptor

	for rows.Next() {
		d, err := scanDescriptor(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("index children %s: %w", parent, err)
		}

		out = append(out, d)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("index children %s: %w", parent, err)
	}

	return out, nil
}

func scanDescriptor(scan func(dest ...any) error) (Descriptor, error) {
	var (
		d       Descriptor
		created int64
	)

	err := scan(&d.ID, &d.Name, &d.File, &created, &d.Parent, &d.TabID)
	if err != nil {
		return Descriptor{}, err
	}

	d.CreatedAt = time.Unix(0, created).UTC()

	return d, nil
}
