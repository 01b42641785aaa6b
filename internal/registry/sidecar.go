package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/calvinalkan/sheetfs/internal/blob"
)

const (
	formatExt = ".format"
	filterExt = ".filters"
)

// Sidecars persists formatting and filter records next to a data file.
//
// Payloads are stored as given and never interpreted. Each side-car is a JSON
// object; keys are built with [FormatKey], [FreezeKey], [CondKey] and
// [FilterKey] so records can be dropped per tab.
type Sidecars struct {
	blobs blob.Store
}

// NewSidecars returns a Sidecars over blobs.
func NewSidecars(blobs blob.Store) *Sidecars {
	return &Sidecars{blobs: blobs}
}

func tabPrefix(tabID int64) string {
	return fmt.Sprintf("sheet%d_", tabID)
}

// FormatKey is the key of a cell-format record for rng on tab tabID.
func FormatKey(tabID int64, rng string) string {
	return tabPrefix(tabID) + rng
}

// FreezeKey is the key of the frozen-pane record of tab tabID.
func FreezeKey(tabID int64) string {
	return tabPrefix(tabID) + "freeze"
}

// CondKey is the key of conditional-format rule id on tab tabID.
func CondKey(tabID int64, id string) string {
	return tabPrefix(tabID) + "cond_" + id
}

// FilterKey is the key of filter id on tab tabID.
func FilterKey(tabID int64, id string) string {
	return tabPrefix(tabID) + "filter_" + id
}

func sidecarName(file, ext string) string {
	return strings.TrimSuffix(file, dataExt) + ext
}

// Formats returns the format records of file. A missing side-car is empty.
func (s *Sidecars) Formats(ctx context.Context, file string) (map[string]json.RawMessage, error) {
	return s.load(ctx, sidecarName(file, formatExt))
}

// PutFormat stores payload under key in file's format side-car.
func (s *Sidecars) PutFormat(ctx context.Context, file, key string, payload json.RawMessage) error {
	return s.put(ctx, sidecarName(file, formatExt), key, payload)
}

// Filters returns the filter records of file. A missing side-car is empty.
func (s *Sidecars) Filters(ctx context.Context, file string) (map[string]json.RawMessage, error) {
	return s.load(ctx, sidecarName(file, filterExt))
}

// PutFilter stores payload under key in file's filter side-car.
func (s *Sidecars) PutFilter(ctx context.Context, file, key string, payload json.RawMessage) error {
	return s.put(ctx, sidecarName(file, filterExt), key, payload)
}

// Remove deletes both side-cars of file.
func (s *Sidecars) Remove(ctx context.Context, file string) error {
	return errors.Join(
		s.blobs.Remove(ctx, sidecarName(file, formatExt)),
		s.blobs.Remove(ctx, sidecarName(file, filterExt)),
	)
}

// DropTab deletes every record of tab tabID from file's side-cars.
func (s *Sidecars) DropTab(ctx context.Context, file string, tabID int64) error {
	prefix := tabPrefix(tabID)

	for _, ext := range []string{formatExt, filterExt} {
		name := sidecarName(file, ext)

		records, err := s.load(ctx, name)
		if err != nil {
			return err
		}

		dropped := 0

		for key := range records {
			if strings.HasPrefix(key, prefix) {
				delete(records, key)

				dropped++
			}
		}

		if dropped == 0 {
			continue
		}

		err = s.save(ctx, name, records)
		if err != nil {
			return err
		}
	}

	return nil
}

func (s *Sidecars) put(ctx context.Context, name, key string, payload json.RawMessage) error {
	if !json.Valid(payload) {
		return fmt.Errorf("%s: payload for %q is not valid JSON", name, key)
	}

	records, err := s.load(ctx, name)
	if err != nil {
		return err
	}

	records[key] = payload

	return s.save(ctx, name, records)
}

func (s *Sidecars) load(ctx context.Context, name string) (map[string]json.RawMessage, error) {
	records := make(map[string]json.RawMessage)

	data, err := s.blobs.Read(ctx, name)
	if errors.Is(err, blob.ErrNotExist) {
		return records, nil
	}

	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}

	err = json.Unmarshal(data, &records)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptDescriptor, name, err)
	}

	return records, nil
}

func (s *Sidecars) save(ctx context.Context, name string, records map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}

	err = s.blobs.Write(ctx, name, append(data, '\n'))
	if err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}

	return nil
}
