// Package sheets is the operation surface of sheetfs: range reads and
// writes, appends, batch mutation and queries over CSV-backed sheets, plus
// tab management, formatting side-cars and xlsx export.
//
// Every operation resolves the sheet id through the registry, loads the
// whole grid fresh, mutates it in memory and rewrites the file, all while
// holding the sheet's lock (see [LockMode]). Nothing is cached between
// calls.
//
// All errors are *[Error] values classified into one of [ErrNotFound],
// [ErrInvalidArgument], [ErrAlreadyExists], [ErrBusy] or [ErrIOFailure].
package sheets

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"time"

	"github.com/calvinalkan/sheetfs/internal/a1"
	"github.com/calvinalkan/sheetfs/internal/blob"
	"github.com/calvinalkan/sheetfs/internal/fs"
	"github.com/calvinalkan/sheetfs/internal/grid"
	"github.com/calvinalkan/sheetfs/internal/query"
	"github.com/calvinalkan/sheetfs/internal/registry"
)

// DefaultLockTimeout bounds lock acquisition when Options.LockTimeout is 0.
const DefaultLockTimeout = 5 * time.Second

// registryLockKey serializes creation and deletion of sheets and tabs.
const registryLockKey = "_registry"

// Options configures a [Service]. The zero value is usable with [New].
type Options struct {
	// Logger receives one line per mutation and per slow lock wait.
	// Nil discards.
	Logger *log.Logger

	// LockMode defaults to [LockProcess] for [New] and [LockFile] for
	// [Open].
	LockMode    LockMode
	LockTimeout time.Duration

	// LockDir holds lock files for [LockFile].
	LockDir string

	// FS is used for lock files. Defaults to the real filesystem.
	FS fs.FS

	// Index, when set, speeds up id resolution. [Open] sets it.
	Index *registry.Index

	// Query selects strict or lenient query evaluation.
	Query query.Options

	// Limits caps grid growth from writes, appends and batches.
	Limits grid.Limits

	// Hub receives change events. Defaults to a fresh hub.
	Hub *Hub

	// Clock overrides time.Now for registry timestamps.
	Clock func() time.Time
}

// Service runs sheet operations against a [blob.Store].
type Service struct {
	reg   *registry.Registry
	grids *grid.Store
	locks Locker
	log   *log.Logger
	query query.Options
	limit grid.Limits
	hub   *Hub

	closers []io.Closer
}

// New returns a Service over blobs.
func New(blobs blob.Store, opts Options) (*Service, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	mode := opts.LockMode
	if mode == "" {
		mode = LockProcess
	}

	timeout := opts.LockTimeout
	if timeout == 0 {
		timeout = DefaultLockTimeout
	}

	fsys := opts.FS
	if fsys == nil {
		fsys = fs.NewReal()
	}

	locks, err := NewLocker(mode, fsys, opts.LockDir, timeout)
	if err != nil {
		return nil, withContext(invalidf(err.Error()), "open", "")
	}

	hub := opts.Hub
	if hub == nil {
		hub = NewHub()
	}

	regOpts := []registry.Option{registry.WithLogger(logger)}
	if opts.Index != nil {
		regOpts = append(regOpts, registry.WithIndex(opts.Index))
	}

	if opts.Clock != nil {
		regOpts = append(regOpts, registry.WithClock(opts.Clock))
	}

	return &Service{
		reg:   registry.New(blobs, regOpts...),
		grids: grid.NewStore(blobs),
		locks: locks,
		log:   logger,
		query: opts.Query,
		limit: opts.Limits,
		hub:   hub,
	}, nil
}

// Close releases resources acquired by [Open].
func (s *Service) Close() error {
	var errs []error

	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}

	s.closers = nil

	return errors.Join(errs...)
}

// Events returns the hub change events are published to.
func (s *Service) Events() *Hub {
	return s.hub
}

// BatchResult reports how many operations of a batch were applied.
// Applied < Total means some operations had no recognized tag.
type BatchResult struct {
	Applied int `json:"applied"`
	Total   int `json:"total"`
}

// ReadRange returns the cells of sheet id inside rangeExpr. An empty
// expression reads the whole sheet. A "Tab!" prefix reads that tab.
func (s *Service) ReadRange(ctx context.Context, id, rangeExpr string) ([][]string, error) {
	const op = "read"

	if err := requireID(id); err != nil {
		return nil, withContext(err, op, id)
	}

	r := a1.Parse(rangeExpr)

	d, err := s.target(ctx, id, r.Sheet)
	if err != nil {
		return nil, withContext(err, op, id)
	}

	var out [][]string

	err = s.withLock(ctx, d.File, true, func() error {
		g, err := s.grids.Load(ctx, d.File)
		if err != nil {
			return err
		}

		out = grid.Read(g, r)

		return nil
	})
	if err != nil {
		return nil, withContext(err, op, id)
	}

	return out, nil
}

// WriteRange writes values starting at the top-left cell of rangeExpr. The
// rest of the range is ignored: values may extend past it.
func (s *Service) WriteRange(ctx context.Context, id, rangeExpr string, values [][]string) (grid.Update, error) {
	const op = "write"

	if err := requireID(id); err != nil {
		return grid.Update{}, withContext(err, op, id)
	}

	if len(values) == 0 {
		return grid.Update{}, withContext(invalidf("values are required"), op, id)
	}

	r := a1.Parse(rangeExpr)
	at := grid.Address{Row: r.StartRow, Col: r.StartCol}

	err := s.limit.CheckWrite(at, values)
	if err != nil {
		return grid.Update{}, withContext(err, op, id)
	}

	d, err := s.target(ctx, id, r.Sheet)
	if err != nil {
		return grid.Update{}, withContext(err, op, id)
	}

	start := time.Now()

	var upd grid.Update

	err = s.mutate(ctx, d, func(g grid.Grid) (grid.Grid, error) {
		g, upd = grid.Write(g, at, values)

		return g, nil
	})
	if err != nil {
		return grid.Update{}, withContext(err, op, id)
	}

	s.log.Printf("write %s %s: %d rows, %d columns in %s", d.ID, r, upd.Rows, upd.Columns, time.Since(start))
	s.publish(EventUpdated, d, upd)

	return upd, nil
}

// AppendRows appends values to sheet id using mode.
func (s *Service) AppendRows(ctx context.Context, id string, values [][]string, mode grid.Mode) (grid.Update, error) {
	const op = "append"

	if err := requireID(id); err != nil {
		return grid.Update{}, withContext(err, op, id)
	}

	if len(values) == 0 {
		return grid.Update{}, withContext(invalidf("values are required"), op, id)
	}

	d, err := s.reg.Resolve(ctx, id)
	if err != nil {
		return grid.Update{}, withContext(err, op, id)
	}

	start := time.Now()

	var upd grid.Update

	err = s.mutate(ctx, d, func(g grid.Grid) (grid.Grid, error) {
		err := s.limit.CheckAppend(g, values, mode)
		if err != nil {
			return nil, err
		}

		g, upd = grid.Append(g, values, mode)

		return g, nil
	})
	if err != nil {
		return grid.Update{}, withContext(err, op, id)
	}

	s.log.Printf("append %s (%s): %d rows in %s", d.ID, mode, upd.Rows, time.Since(start))
	s.publish(EventAppended, d, upd)

	return upd, nil
}

// BatchApply applies ops to sheet id in order and saves once. There is no
// rollback; a failed save leaves the file as it was before the batch.
func (s *Service) BatchApply(ctx context.Context, id string, ops []grid.Operation) (BatchResult, error) {
	const op = "batch"

	if err := requireID(id); err != nil {
		return BatchResult{}, withContext(err, op, id)
	}

	if len(ops) == 0 {
		return BatchResult{}, withContext(invalidf("requests are required"), op, id)
	}

	err := grid.ValidateOperations(ops, s.limit)
	if err != nil {
		return BatchResult{}, withContext(err, op, id)
	}

	d, err := s.reg.Resolve(ctx, id)
	if err != nil {
		return BatchResult{}, withContext(err, op, id)
	}

	start := time.Now()
	res := BatchResult{Total: len(ops)}

	err = s.mutate(ctx, d, func(g grid.Grid) (grid.Grid, error) {
		g, res.Applied = grid.Apply(g, ops)

		return g, s.limit.CheckGrid(g)
	})
	if err != nil {
		return BatchResult{}, withContext(err, op, id)
	}

	s.log.Printf("batch %s: applied %d/%d in %s", d.ID, res.Applied, res.Total, time.Since(start))
	s.publish(EventBatch, d, grid.Update{})

	return res, nil
}

// Query evaluates text against sheet id. A FROM clause naming a tab of the
// sheet queries that tab; any other FROM value is ignored.
func (s *Service) Query(ctx context.Context, id, text string) (query.Result, error) {
	const op = "query"

	if err := requireID(id); err != nil {
		return query.Result{}, withContext(err, op, id)
	}

	q, err := query.Parse(text, s.query)
	if err != nil {
		return query.Result{}, withContext(err, op, id)
	}

	d, err := s.target(ctx, id, q.From)
	if err != nil {
		return query.Result{}, withContext(err, op, id)
	}

	var res query.Result

	err = s.withLock(ctx, d.File, true, func() error {
		g, err := s.grids.Load(ctx, d.File)
		if err != nil {
			return err
		}

		res, err = q.Run(g, s.query)

		return err
	})
	if err != nil {
		return query.Result{}, withContext(err, op, id)
	}

	return res, nil
}

// Create registers a new spreadsheet called name holding rows.
func (s *Service) Create(ctx context.Context, name string, rows [][]string) (registry.Descriptor, error) {
	const op = "create"

	var d registry.Descriptor

	err := s.withLock(ctx, registryLockKey, false, func() error {
		var err error

		d, err = s.reg.Create(ctx, name, grid.Encode(rows))

		return err
	})
	if err != nil {
		return registry.Descriptor{}, withContext(err, op, "")
	}

	s.log.Printf("create %s %q -> %s (%d rows)", d.ID, d.Name, d.File, len(rows))
	s.publish(EventCreated, d, grid.Update{Rows: len(rows)})

	return d, nil
}

// List returns all spreadsheets, oldest first.
func (s *Service) List(ctx context.Context) ([]registry.Descriptor, error) {
	list, err := s.reg.List(ctx)
	if err != nil {
		return nil, withContext(err, "list", "")
	}

	return list, nil
}

// Tabs returns the tabs of spreadsheet id, the spreadsheet itself first.
func (s *Service) Tabs(ctx context.Context, id string) ([]registry.Descriptor, error) {
	const op = "tabs"

	if err := requireID(id); err != nil {
		return nil, withContext(err, op, id)
	}

	tabs, err := s.reg.Tabs(ctx, id)
	if err != nil {
		return nil, withContext(err, op, id)
	}

	return tabs, nil
}

// AddTab creates an empty tab titled title in spreadsheet id.
func (s *Service) AddTab(ctx context.Context, id, title string) (registry.Descriptor, error) {
	const op = "add-tab"

	if err := requireID(id); err != nil {
		return registry.Descriptor{}, withContext(err, op, id)
	}

	var tab registry.Descriptor

	err := s.withLock(ctx, registryLockKey, false, func() error {
		var err error

		tab, err = s.reg.AddTab(ctx, id, title)

		return err
	})
	if err != nil {
		return registry.Descriptor{}, withContext(err, op, id)
	}

	s.log.Printf("add-tab %s: %q (sheet_id=%d) -> %s", id, tab.Name, tab.TabID, tab.File)
	s.publish(EventTabAdded, tab, grid.Update{})

	return tab, nil
}

// DeleteTab removes tab tabID of spreadsheet id.
func (s *Service) DeleteTab(ctx context.Context, id string, tabID int64) error {
	const op = "delete-tab"

	if err := requireID(id); err != nil {
		return withContext(err, op, id)
	}

	var tab registry.Descriptor

	err := s.withLock(ctx, registryLockKey, false, func() error {
		root, err := s.reg.Resolve(ctx, id)
		if err != nil {
			return err
		}

		return s.withLock(ctx, sidecarLockKey(root.File), false, func() error {
			tab, err = s.reg.DeleteTab(ctx, id, tabID)

			return err
		})
	})
	if err != nil {
		return withContext(err, op, id)
	}

	s.log.Printf("delete-tab %s: sheet_id=%d (%s)", id, tabID, tab.File)
	s.publish(EventTabGone, tab, grid.Update{})

	return nil
}

// Reindex rebuilds the registry index from the descriptors on disk.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	var n int

	err := s.withLock(ctx, registryLockKey, false, func() error {
		var err error

		n, err = s.reg.Reindex(ctx)

		return err
	})
	if err != nil {
		return 0, withContext(err, "reindex", "")
	}

	s.log.Printf("reindex: %d descriptors", n)

	return n, nil
}

// target resolves id and, when tab is set, the tab of that title. An
// unknown tab title falls back to the sheet itself.
func (s *Service) target(ctx context.Context, id, tab string) (registry.Descriptor, error) {
	d, err := s.reg.Resolve(ctx, id)
	if err != nil || tab == "" {
		return d, err
	}

	parent := d.ID
	if d.IsTab() {
		parent = d.Parent
	}

	t, err := s.reg.TabByTitle(ctx, parent, tab)
	if errors.Is(err, registry.ErrNotFound) {
		s.log.Printf("no tab %q in %s, using the sheet itself", tab, id)

		return d, nil
	}

	return t, err
}

// mutate runs load, fn and save under the exclusive lock of d's file. A
// missing data file starts out as an empty grid. An error from fn leaves the
// file untouched.
func (s *Service) mutate(ctx context.Context, d registry.Descriptor, fn func(grid.Grid) (grid.Grid, error)) error {
	return s.withLock(ctx, d.File, false, func() error {
		g, err := s.grids.LoadOrEmpty(ctx, d.File)
		if err != nil {
			return err
		}

		g, err = fn(g)
		if err != nil {
			return err
		}

		return s.grids.Save(ctx, d.File, g)
	})
}

const slowLockWait = 50 * time.Millisecond

func (s *Service) withLock(ctx context.Context, key string, read bool, fn func() error) error {
	lock := s.locks.Lock
	if read {
		lock = s.locks.RLock
	}

	start := time.Now()

	unlock, err := lock(ctx, key)
	if err != nil {
		return err
	}

	if wait := time.Since(start); wait > slowLockWait {
		s.log.Printf("waited %s for lock %s", wait, key)
	}

	err = fn()

	return errors.Join(err, unlock())
}

func (s *Service) publish(kind EventKind, d registry.Descriptor, upd grid.Update) {
	sheetID := d.ID
	if d.IsTab() {
		sheetID = d.Parent
	}

	s.hub.Publish(Event{
		Kind:    kind,
		SheetID: sheetID,
		File:    d.File,
		TabID:   d.TabID,
		Rows:    upd.Rows,
		Columns: upd.Columns,
	})
}

func requireID(id string) error {
	if strings.TrimSpace(id) == "" {
		return invalidf("spreadsheet_id is required")
	}

	return nil
}
