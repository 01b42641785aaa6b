package sheets

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/calvinalkan/sheetfs/internal/fs"
)

// LockMode selects how a [Service] serializes operations on one sheet.
type LockMode string

const (
	// LockFile takes flock(2) locks on files under a lock directory. It
	// serializes goroutines and separate processes sharing a data dir.
	LockFile LockMode = "file"

	// LockProcess serializes goroutines of this process only.
	LockProcess LockMode = "process"

	// LockNone does no locking. Concurrent writers to one sheet lose
	// updates.
	LockNone LockMode = "none"
)

// ParseLockMode parses a config value. Empty selects [LockFile].
func ParseLockMode(s string) (LockMode, error) {
	switch LockMode(s) {
	case "", LockFile:
		return LockFile, nil
	case LockProcess, LockNone:
		return LockMode(s), nil
	}

	return "", fmt.Errorf("invalid lock mode %q (want file, process or none)", s)
}

// Locker hands out per-key locks. Keys are data file names.
type Locker interface {
	// Lock takes an exclusive lock on key.
	Lock(ctx context.Context, key string) (unlock func() error, err error)

	// RLock takes a lock that excludes Lock holders but not other readers.
	RLock(ctx context.Context, key string) (unlock func() error, err error)
}

// NewLocker returns the Locker for mode. Lock files for [LockFile] live in
// dir; timeout bounds every acquisition.
func NewLocker(mode LockMode, fsys fs.FS, dir string, timeout time.Duration) (Locker, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("lock timeout must be > 0, got %s", timeout)
	}

	switch mode {
	case LockFile:
		if dir == "" {
			return nil, fmt.Errorf("lock mode %q needs a lock directory", mode)
		}

		return &fileLocker{locker: fs.NewLocker(fsys), dir: dir, timeout: timeout}, nil
	case LockProcess:
		return &processLocker{timeout: timeout, keys: make(map[string]*keyLock)}, nil
	case LockNone:
		return noLocker{}, nil
	}

	return nil, fmt.Errorf("invalid lock mode %q", mode)
}

type fileLocker struct {
	locker  *fs.Locker
	dir     string
	timeout time.Duration
}

func (l *fileLocker) path(key string) string {
	return filepath.Join(l.dir, key+".lock")
}

func (l *fileLocker) Lock(_ context.Context, key string) (func() error, error) {
	lk, err := l.locker.LockWithTimeout(l.path(key), l.timeout)
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", key, err)
	}

	return lk.Close, nil
}

func (l *fileLocker) RLock(_ context.Context, key string) (func() error, error) {
	lk, err := l.locker.RLockWithTimeout(l.path(key), l.timeout)
	if err != nil {
		return nil, fmt.Errorf("locking %s for read: %w", key, err)
	}

	return lk.Close, nil
}

// keyLock is a reader/writer lock built on channels so acquisition can be
// abandoned on timeout or cancellation.
type keyLock struct {
	write   chan struct{} // held by a writer, or by the first reader
	mu      sync.Mutex
	readers int
}

type processLocker struct {
	timeout time.Duration

	mu   sync.Mutex
	keys map[string]*keyLock
}

func (l *processLocker) key(key string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	k, ok := l.keys[key]
	if !ok {
		k = &keyLock{write: make(chan struct{}, 1)}
		l.keys[key] = k
	}

	return k
}

func (l *processLocker) acquire(ctx context.Context, ch chan struct{}, key string) error {
	select {
	case ch <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return nil
	case <-timer.C:
		return fmt.Errorf("locking %s: %w: timed out after %s", key, fs.ErrWouldBlock, l.timeout)
	case <-ctx.Done():
		return fmt.Errorf("locking %s: %w", key, ctx.Err())
	}
}

func (l *processLocker) Lock(ctx context.Context, key string) (func() error, error) {
	k := l.key(key)

	err := l.acquire(ctx, k.write, key)
	if err != nil {
		return nil, err
	}

	var once sync.Once

	return func() error {
		once.Do(func() { <-k.write })

		return nil
	}, nil
}

func (l *processLocker) RLock(ctx context.Context, key string) (func() error, error) {
	k := l.key(key)

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.readers == 0 {
		err := l.acquire(ctx, k.write, key)
		if err != nil {
			return nil, err
		}
	}

	k.readers++

	var once sync.Once

	return func() error {
		once.Do(func() {
			k.mu.Lock()
			defer k.mu.Unlock()

			k.readers--
			if k.readers == 0 {
				<-k.write
			}
		})

		return nil
	}, nil
}

type noLocker struct{}

func (noLocker) Lock(context.Context, string) (func() error, error) {
	return func() error { return nil }, nil
}

func (noLocker) RLock(context.Context, string) (func() error, error) {
	return func() error { return nil }, nil
}
