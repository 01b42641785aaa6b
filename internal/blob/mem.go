package blob

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Mem is an in-memory [Store]. The zero value is not usable; call [NewMem].
//
// Mem copies data on the way in and out so callers cannot alias stored
// bytes. It is safe for concurrent use.
type Mem struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMem returns an empty Mem.
func NewMem() *Mem {
	return &Mem{blobs: make(map[string][]byte)}
}

func (m *Mem) Read(_ context.Context, name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, name)
	}

	return append([]byte(nil), data...), nil
}

func (m *Mem) Write(_ context.Context, name string, data []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.blobs[name] = append([]byte(nil), data...)

	return nil
}

func (m *Mem) Remove(_ context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.blobs, name)

	return nil
}

func (m *Mem) Exists(_ context.Context, name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.blobs[name]

	return ok, nil
}

func (m *Mem) List(_ context.Context, suffix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var names []string

	for name := range m.blobs {
		if strings.HasSuffix(name, suffix) {
			names = append(names, name)
		}
	}

	sort.Strings(names)

	return names, nil
}
