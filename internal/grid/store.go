package grid

import (
	"context"
	"errors"
	"fmt"

	"github.com/calvinalkan/sheetfs/internal/blob"
)

// ErrNotFound is returned by [Store.Load] when the backing file is missing.
var ErrNotFound = errors.New("sheet file not found")

// Store loads and persists grids as CSV blobs. It holds no state between
// calls: every Load reads the blob again and every Save rewrites it whole.
type Store struct {
	blobs blob.Store
}

// NewStore returns a Store over blobs.
func NewStore(blobs blob.Store) *Store {
	return &Store{blobs: blobs}
}

// Load reads the grid stored under name. A missing blob is reported as
// [ErrNotFound].
func (s *Store) Load(ctx context.Context, name string) (Grid, error) {
	data, err := s.blobs.Read(ctx, name)
	if err != nil {
		if errors.Is(err, blob.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}

		return nil, fmt.Errorf("loading %s: %w", name, err)
	}

	g, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", name, err)
	}

	return g, nil
}

// LoadOrEmpty is Load for write paths: a missing blob is an empty grid.
func (s *Store) LoadOrEmpty(ctx context.Context, name string) (Grid, error) {
	g, err := s.Load(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return Grid{}, nil
	}

	return g, err
}

// Save rewrites the blob under name with g.
func (s *Store) Save(ctx context.Context, name string, g Grid) error {
	err := s.blobs.Write(ctx, name, Encode(g))
	if err != nil {
		return fmt.Errorf("saving %s: %w", name, err)
	}

	return nil
}
