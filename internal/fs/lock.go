package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrWouldBlock is returned when a *WithTimeout acquisition expires.
	ErrWouldBlock = errors.New("lock would block")

	// ErrInvalidTimeout is returned when a timeout is <= 0.
	ErrInvalidTimeout = errors.New("invalid lock timeout")

	// errInodeMismatch means the lock file was replaced between open and
	// flock. Callers retry.
	errInodeMismatch = errors.New("inode mismatch")
)

// Locker provides advisory file locks using flock(2).
//
// flock applies to an inode, not a pathname, so sheet locks live in
// dedicated lock files that are never replaced (the data files themselves
// are swapped by atomic rename on every save). After flock succeeds the
// Locker verifies that the locked descriptor still refers to the file at
// path and retries otherwise.
//
// Exclusive locks open the lock file O_RDWR, shared locks O_RDONLY.
//
// Locker is safe for concurrent use when its [FS] is. The [FS] must return
// real OS descriptors from [File.Fd].
type Locker struct {
	fs    FS
	flock func(fd int, how int) error
	stat  func(fd int, st *unix.Stat_t) error
	lstat func(path string, st *unix.Stat_t) error
}

// NewLocker creates a Locker that opens lock files through fs.
func NewLocker(fs FS) *Locker {
	return &Locker{
		fs:    fs,
		flock: unix.Flock,
		stat:  unix.Fstat,
		lstat: unix.Stat,
	}
}

// Lock represents a held file lock. Call [Lock.Close] to release it.
type Lock struct {
	mu    sync.Mutex
	file  File
	flock func(fd int, how int) error
}

// Close releases the lock and closes the descriptor.
//
// Close is idempotent. If both unlock and close fail the returned error
// wraps both (see [errors.Join]); the lock is usually released anyway once
// the descriptor is gone.
func (lk *Lock) Close() error {
	lk.mu.Lock()
	defer lk.mu.Unlock()

	if lk.file == nil {
		return nil
	}

	fd := int(lk.file.Fd())

	unlockErr := flockRetryEINTR(lk.flock, fd, unix.LOCK_UN)
	closeErr := lk.file.Close()
	lk.file = nil

	if unlockErr != nil {
		unlockErr = fmt.Errorf("unlocking lock: %w", unlockErr)
	}

	if closeErr != nil {
		closeErr = fmt.Errorf("closing lock fd: %w", closeErr)
	}

	return errors.Join(unlockErr, closeErr)
}

// LockWithTimeout acquires an exclusive lock, polling with a 1ms..25ms
// backoff until timeout expires. The deadline is best effort.
//
// Returns an error matching [ErrWouldBlock] on timeout and
// [ErrInvalidTimeout] if timeout <= 0.
func (l *Locker) LockWithTimeout(path string, timeout time.Duration) (*Lock, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be > 0", ErrInvalidTimeout)
	}

	return l.lockPolling(path, unix.LOCK_EX, timeout)
}

// RLockWithTimeout is the shared-lock variant of [Locker.LockWithTimeout].
// Any number of shared holders may coexist; they exclude exclusive holders.
func (l *Locker) RLockWithTimeout(path string, timeout time.Duration) (*Lock, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be > 0", ErrInvalidTimeout)
	}

	return l.lockPolling(path, unix.LOCK_SH, timeout)
}

// lockPolling uses non-blocking flock, retrying with backoff until timeout.
func (l *Locker) lockPolling(path string, how int, timeout time.Duration) (*Lock, error) {
	deadline := time.Now().Add(timeout)

	backoff := time.Millisecond
	openFlag := os.O_RDWR

	if how == unix.LOCK_SH {
		openFlag = os.O_RDONLY
	}

	for {
		file, err := l.openLockFile(path, openFlag)
		if err != nil {
			return nil, fmt.Errorf("opening lockfile: %w", err)
		}

		err = l.acquire(file, path, how|unix.LOCK_NB)
		if err == nil {
			return &Lock{file: file, flock: l.flock}, nil
		}

		_ = file.Close()

		if !errors.Is(err, ErrWouldBlock) && !errors.Is(err, errInodeMismatch) {
			return nil, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: timed out after %s", ErrWouldBlock, timeout)
		}

		time.Sleep(min(backoff, remaining))

		backoff = min(backoff*2, 25*time.Millisecond)
	}
}

// acquire flocks file and verifies the inode still matches path. On failure
// the file is unlocked but not closed.
func (l *Locker) acquire(file File, path string, how int) error {
	fd := int(file.Fd())

	err := flockRetryEINTR(l.flock, fd, how)
	if err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			return ErrWouldBlock
		}

		return fmt.Errorf("flock: %w", err)
	}

	match, err := l.inodeMatchesPath(path, fd)
	if err != nil || !match {
		_ = flockRetryEINTR(l.flock, fd, unix.LOCK_UN)

		if err != nil && !errors.Is(err, unix.ENOENT) {
			return fmt.Errorf("verifying inode match: %w", err)
		}

		return errInodeMismatch
	}

	return nil
}

const (
	lockFilePerm = 0o600
	lockDirPerm  = 0o755
)

func (l *Locker) openLockFile(path string, flag int) (File, error) {
	f, err := l.fs.OpenFile(path, flag|os.O_CREATE, lockFilePerm)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		return f, err
	}

	err = l.fs.MkdirAll(filepath.Dir(path), lockDirPerm)
	if err != nil {
		return nil, err
	}

	return l.fs.OpenFile(path, flag|os.O_CREATE, lockFilePerm)
}

// inodeMatchesPath compares (dev, inode) of the locked descriptor with the
// file currently at path. A mismatch means someone replaced the lock file
// while we were waiting and the lock would not guard the path.
func (l *Locker) inodeMatchesPath(path string, fd int) (bool, error) {
	var open, cur unix.Stat_t

	err := l.stat(fd, &open)
	if err != nil {
		return false, err
	}

	err = l.lstat(path, &cur)
	if err != nil {
		return false, err
	}

	return open.Dev == cur.Dev && open.Ino == cur.Ino, nil
}

// flockRetryEINTR wraps flock, retrying when a signal interrupts the call.
// Retries are capped so a signal storm cannot spin forever.
func flockRetryEINTR(flock func(fd int, how int) error, fd int, how int) error {
	const maxEINTRRetries = 10000

	var err error
	for range maxEINTRRetries {
		err = flock(fd, how)
		if err == nil || !errors.Is(err, unix.EINTR) {
			return err
		}
	}

	return err
}
