// Package registry maps sheet ids to the CSV files that hold them.
//
// Every data file "<stem>.csv" has a JSON descriptor "<stem>.meta" next to
// it. Descriptors are the source of truth; an optional SQLite [Index] caches
// them for fast id lookups and is rebuilt from a scan whenever it misses.
//
// A Registry does no locking. Callers serialize Create, AddTab and DeleteTab.
package registry

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/calvinalkan/sheetfs/internal/blob"
)

// Registry resolves and creates sheets in a [blob.Store].
type Registry struct {
	blobs    blob.Store
	index    *Index
	sidecars *Sidecars
	now      func() time.Time
	log      *log.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithIndex attaches a SQLite index. The registry does not close it.
func WithIndex(idx *Index) Option {
	return func(r *Registry) { r.index = idx }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the logger used for skipped descriptors and index rebuilds.
func WithLogger(l *log.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// New returns a Registry over blobs.
func New(blobs blob.Store, opts ...Option) *Registry {
	r := &Registry{
		blobs:    blobs,
		sidecars: NewSidecars(blobs),
		now:      time.Now,
		log:      log.New(io.Discard, "", 0),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Sidecars returns the formatting and filter side-car store.
func (r *Registry) Sidecars() *Sidecars {
	return r.sidecars
}

// Create registers a new spreadsheet called name with the given CSV content.
// The data file is written before the descriptor so a crash never leaves a
// descriptor pointing at nothing.
func (r *Registry) Create(ctx context.Context, name string, data []byte) (Descriptor, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Descriptor{}, fmt.Errorf("%w: sheet name is empty", ErrInvalidName)
	}

	now := r.now().UTC()

	file, err := r.freeFile(ctx, SafeName(name), now)
	if err != nil {
		return Descriptor{}, err
	}

	id, err := newSheetID()
	if err != nil {
		return Descriptor{}, err
	}

	d := Descriptor{ID: id, Name: name, File: file, CreatedAt: now}

	err = r.persist(ctx, d, data)
	if err != nil {
		return Descriptor{}, err
	}

	return d, nil
}

// Resolve returns the descriptor for id.
//
// A data file literally named "<id>.csv" wins, so sheets dropped into the
// data directory by hand are addressable by their stem. Otherwise the index
// is consulted, and on a miss the descriptors are rescanned and the index
// rebuilt before giving up with [ErrNotFound].
func (r *Registry) Resolve(ctx context.Context, id string) (Descriptor, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Descriptor{}, fmt.Errorf("%w: sheet id is empty", ErrInvalidName)
	}

	if blob.ValidateName(id+dataExt) != nil {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	ok, err := r.blobs.Exists(ctx, id+dataExt)
	if err != nil {
		return Descriptor{}, fmt.Errorf("resolving %s: %w", id, err)
	}

	if ok {
		return r.direct(ctx, id)
	}

	if r.index != nil {
		err = r.freshen(ctx)
		if err != nil {
			return Descriptor{}, err
		}

		d, found, err := r.index.Lookup(ctx, id)
		if err != nil {
			return Descriptor{}, err
		}

		if found {
			return d, nil
		}
	}

	all, err := r.scan(ctx)
	if err != nil {
		return Descriptor{}, err
	}

	if r.index != nil {
		r.log.Printf("index miss for %s, rebuilding from %d descriptors", id, len(all))

		err = r.index.Rebuild(ctx, all)
		if err != nil {
			return Descriptor{}, err
		}
	}

	for _, d := range all {
		if d.ID == id {
			return d, nil
		}
	}

	return Descriptor{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// direct builds the descriptor for a "<id>.csv" hit, preferring its own
// side-car when there is one.
func (r *Registry) direct(ctx context.Context, stem string) (Descriptor, error) {
	file := stem + dataExt

	data, err := r.blobs.Read(ctx, metaNameFor(file))
	if err == nil {
		d, err := decodeDescriptor(metaNameFor(file), data)
		if err == nil && d.File == file {
			return d, nil
		}
	}

	return Descriptor{ID: stem, Name: stem, File: file}, nil
}

// List returns all spreadsheets (not tabs), oldest first.
func (r *Registry) List(ctx context.Context) ([]Descriptor, error) {
	all, err := r.scan(ctx)
	if err != nil {
		return nil, err
	}

	out := slices.DeleteFunc(all, Descriptor.IsTab)
	slices.SortStableFunc(out, byCreation)

	return out, nil
}

// Tabs returns the tabs of spreadsheet parentID. The first entry is the
// spreadsheet itself (tab 0, titled with the sheet name), followed by its
// child tabs in creation order.
func (r *Registry) Tabs(ctx context.Context, parentID string) ([]Descriptor, error) {
	parent, err := r.Resolve(ctx, parentID)
	if err != nil {
		return nil, err
	}

	if parent.IsTab() {
		return nil, fmt.Errorf("%w: %s is a tab of %s", ErrNestedTab, parent.ID, parent.Parent)
	}

	children, err := r.children(ctx, parent.ID)
	if err != nil {
		return nil, err
	}

	return append([]Descriptor{parent}, children...), nil
}

func (r *Registry) children(ctx context.Context, parentID string) ([]Descriptor, error) {
	if r.index != nil {
		err := r.freshen(ctx)
		if err != nil {
			return nil, err
		}

		return r.index.Children(ctx, parentID)
	}

	all, err := r.scan(ctx)
	if err != nil {
		return nil, err
	}

	var out []Descriptor

	for _, d := range all {
		if d.Parent == parentID {
			out = append(out, d)
		}
	}

	slices.SortStableFunc(out, byCreation)

	return out, nil
}

// TabByTitle finds a tab of parentID by title: an exact match first, then a
// case-insensitive one.
func (r *Registry) TabByTitle(ctx context.Context, parentID, title string) (Descriptor, error) {
	tabs, err := r.Tabs(ctx, parentID)
	if err != nil {
		return Descriptor{}, err
	}

	for _, t := range tabs {
		if t.Name == title {
			return t, nil
		}
	}

	for _, t := range tabs {
		if strings.EqualFold(t.Name, title) {
			return t, nil
		}
	}

	return Descriptor{}, fmt.Errorf("%w: tab %q of %s", ErrNotFound, title, parentID)
}

// TabByID finds a tab of parentID by its numeric id. Id 0 is the
// spreadsheet itself.
func (r *Registry) TabByID(ctx context.Context, parentID string, tabID int64) (Descriptor, error) {
	tabs, err := r.Tabs(ctx, parentID)
	if err != nil {
		return Descriptor{}, err
	}

	for _, t := range tabs {
		if t.TabID == tabID {
			return t, nil
		}
	}

	return Descriptor{}, fmt.Errorf("%w: tab %d of %s", ErrNotFound, tabID, parentID)
}

// AddTab creates an empty tab titled title under spreadsheet parentID.
func (r *Registry) AddTab(ctx context.Context, parentID, title string) (Descriptor, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Descriptor{}, fmt.Errorf("%w: tab title is empty", ErrInvalidName)
	}

	parent, err := r.Resolve(ctx, parentID)
	if err != nil {
		return Descriptor{}, err
	}

	if parent.IsTab() {
		return Descriptor{}, fmt.Errorf("%w: %s is a tab of %s", ErrNestedTab, parent.ID, parent.Parent)
	}

	all, err := r.scan(ctx)
	if err != nil {
		return Descriptor{}, err
	}

	used := map[int64]bool{0: true}

	for _, d := range all {
		if d.Parent != parent.ID {
			continue
		}

		if d.Name == title {
			return Descriptor{}, fmt.Errorf("%w: tab %q in %s", ErrAlreadyExists, title, parent.ID)
		}

		used[d.TabID] = true
	}

	now := r.now().UTC()

	tabID := now.UnixMilli()
	for used[tabID] {
		tabID++
	}

	stem := strings.TrimSuffix(parent.File, dataExt) + "_" + SafeName(title)

	file, err := r.freeFile(ctx, stem, now)
	if err != nil {
		return Descriptor{}, err
	}

	id, err := newSheetID()
	if err != nil {
		return Descriptor{}, err
	}

	d := Descriptor{
		ID:        id,
		Name:      title,
		File:      file,
		CreatedAt: now,
		Parent:    parent.ID,
		TabID:     tabID,
	}

	err = r.persist(ctx, d, nil)
	if err != nil {
		return Descriptor{}, err
	}

	return d, nil
}

// DeleteTab removes tab tabID of parentID: its data file, its descriptor and
// any formatting recorded for it. Tab 0 is the spreadsheet and cannot be
// deleted.
func (r *Registry) DeleteTab(ctx context.Context, parentID string, tabID int64) (Descriptor, error) {
	if tabID == 0 {
		return Descriptor{}, ErrRootTab
	}

	tab, err := r.TabByID(ctx, parentID, tabID)
	if err != nil {
		return Descriptor{}, err
	}

	parent, err := r.Resolve(ctx, tab.Parent)
	if err != nil {
		return Descriptor{}, err
	}

	// Descriptor first: a crash leaves an orphan data file, not a dangling id.
	err = r.blobs.Remove(ctx, tab.MetaName())
	if err != nil {
		return Descriptor{}, fmt.Errorf("deleting tab %d: %w", tabID, err)
	}

	if r.index != nil {
		err = r.index.Delete(ctx, tab.ID)
		if err != nil {
			return Descriptor{}, err
		}
	}

	err = errors.Join(
		r.blobs.Remove(ctx, tab.File),
		r.sidecars.Remove(ctx, tab.File),
		r.sidecars.DropTab(ctx, parent.File, tabID),
	)
	if err != nil {
		return Descriptor{}, fmt.Errorf("deleting tab %d: %w", tabID, err)
	}

	return tab, nil
}

// Reindex rebuilds the index from the descriptors on disk and returns how
// many were indexed. Without an index it only validates the scan.
func (r *Registry) Reindex(ctx context.Context) (int, error) {
	all, err := r.scan(ctx)
	if err != nil {
		return 0, err
	}

	if r.index != nil {
		err = r.index.Rebuild(ctx, all)
		if err != nil {
			return 0, err
		}
	}

	return len(all), nil
}

// freshen populates an index that was just created empty.
func (r *Registry) freshen(ctx context.Context) error {
	if !r.index.Stale() {
		return nil
	}

	all, err := r.scan(ctx)
	if err != nil {
		return err
	}

	return r.index.Rebuild(ctx, all)
}

// scan reads every descriptor. Corrupt side-cars are logged and skipped.
func (r *Registry) scan(ctx context.Context) ([]Descriptor, error) {
	names, err := r.blobs.List(ctx, metaExt)
	if err != nil {
		return nil, fmt.Errorf("scanning descriptors: %w", err)
	}

	out := make([]Descriptor, 0, len(names))

	for _, name := range names {
		data, err := r.blobs.Read(ctx, name)
		if err != nil {
			if errors.Is(err, blob.ErrNotExist) {
				continue
			}

			return nil, fmt.Errorf("scanning descriptors: %w", err)
		}

		d, err := decodeDescriptor(name, data)
		if err != nil {
			r.log.Printf("skipping %v", err)

			continue
		}

		out = append(out, d)
	}

	return out, nil
}

// freeFile returns the first "<stem>.csv" among base's candidate stems for
// which neither the data file nor its descriptor exists.
func (r *Registry) freeFile(ctx context.Context, base string, now time.Time) (string, error) {
	for stem := range candidateStems(base, now) {
		file := stem + dataExt

		err := blob.ValidateName(file)
		if err != nil {
			return "", fmt.Errorf("%w: %q", ErrInvalidName, base)
		}

		taken := false

		for _, name := range []string{file, metaNameFor(file)} {
			ok, err := r.blobs.Exists(ctx, name)
			if err != nil {
				return "", fmt.Errorf("checking %s: %w", name, err)
			}

			taken = taken || ok
		}

		if !taken {
			return file, nil
		}
	}

	panic("unreachable: candidateStems is infinite")
}

func (r *Registry) persist(ctx context.Context, d Descriptor, data []byte) error {
	meta, err := encodeDescriptor(d)
	if err != nil {
		return err
	}

	err = r.blobs.Write(ctx, d.File, data)
	if err != nil {
		return fmt.Errorf("creating %s: %w", d.File, err)
	}

	err = r.blobs.Write(ctx, d.MetaName(), meta)
	if err != nil {
		return fmt.Errorf("creating %s: %w", d.MetaName(), err)
	}

	if r.index != nil {
		err = r.index.Put(ctx, d)
		if err != nil {
			return err
		}
	}

	return nil
}

func byCreation(a, b Descriptor) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}

	if c := cmp.Compare(a.TabID, b.TabID); c != 0 {
		return c
	}

	return cmp.Compare(a.ID, b.ID)
}
