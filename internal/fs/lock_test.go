package fs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const shortWait = 50 * time.Millisecond

func Test_Locker_LockWithTimeout_Returns_ErrWouldBlock_When_Path_Is_Locked(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewReal())
	path := filepath.Join(t.TempDir(), "lock")

	lock1, err := locker.LockWithTimeout(path, time.Second)
	if err != nil {
		t.Fatalf("LockWithTimeout(%q): %v", path, err)
	}
	defer lock1.Close()

	lock2, err := locker.LockWithTimeout(path, shortWait)
	if !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("LockWithTimeout(%q): err=%v, want %v", path, err, ErrWouldBlock)
	}
	if lock2 != nil {
		_ = lock2.Close()
		t.Fatalf("LockWithTimeout(%q) while locked: want lock=nil, got non-nil", path)
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("LockWithTimeout(%q): err=%q, want substring %q", path, err.Error(), "timed out")
	}
}

func Test_Locker_LockWithTimeout_Succeeds_After_Release(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewReal())
	path := filepath.Join(t.TempDir(), "sheet.csv.lock")

	lock1, err := locker.LockWithTimeout(path, time.Second)
	if err != nil {
		t.Fatalf("LockWithTimeout(%q): %v", path, err)
	}

	if err := lock1.Close(); err != nil {
		t.Fatalf("Close(): %v", err)
	}

	lock2, err := locker.LockWithTimeout(path, shortWait)
	if err != nil {
		t.Fatalf("LockWithTimeout(%q) after release: %v", path, err)
	}
	if err := lock2.Close(); err != nil {
		t.Fatalf("Close(): %v", err)
	}
}

func Test_Locker_LockWithTimeout_Returns_Error_When_Timeout_Is_Non_Positive(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewReal())
	path := filepath.Join(t.TempDir(), "lock")

	_, err := locker.LockWithTimeout(path, 0)
	if !errors.Is(err, ErrInvalidTimeout) {
		t.Fatalf("LockWithTimeout(%q, 0): err=%v, want %v", path, err, ErrInvalidTimeout)
	}

	_, err = locker.RLockWithTimeout(path, -time.Second)
	if !errors.Is(err, ErrInvalidTimeout) {
		t.Fatalf("RLockWithTimeout(%q, -1s): err=%v, want %v", path, err, ErrInvalidTimeout)
	}
}

func Test_Locker_RLockWithTimeout_Allows_Multiple_Readers_And_Blocks_Writer(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewReal())
	path := filepath.Join(t.TempDir(), "lock")

	r1, err := locker.RLockWithTimeout(path, time.Second)
	if err != nil {
		t.Fatalf("RLockWithTimeout(%q): %v", path, err)
	}
	defer r1.Close()

	r2, err := locker.RLockWithTimeout(path, time.Second)
	if err != nil {
		t.Fatalf("RLockWithTimeout(%q) second: %v", path, err)
	}
	defer r2.Close()

	_, err = locker.LockWithTimeout(path, shortWait)
	if !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("LockWithTimeout(%q) while read-locked: err=%v, want %v", path, err, ErrWouldBlock)
	}
}

func Test_Locker_Creates_Missing_Parent_Directories(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewReal())
	path := filepath.Join(t.TempDir(), ".sheetfs", "locks", "budget.csv.lock")

	lock, err := locker.LockWithTimeout(path, time.Second)
	if err != nil {
		t.Fatalf("LockWithTimeout(%q): %v", path, err)
	}
	defer lock.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Stat(%q) after lock: %v", path, err)
	}
}

func Test_Lock_Close_Is_Idempotent(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewReal())
	path := filepath.Join(t.TempDir(), "lock")

	lock, err := locker.LockWithTimeout(path, time.Second)
	if err != nil {
		t.Fatalf("LockWithTimeout(%q): %v", path, err)
	}

	if err := lock.Close(); err != nil {
		t.Fatalf("Close() first: %v", err)
	}

	if err := lock.Close(); err != nil {
		t.Fatalf("Close() second: %v", err)
	}
}

// Contract: goroutines holding the same lock path never overlap.
func Test_Locker_Serializes_Goroutines_On_Same_Path(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewReal())
	path := filepath.Join(t.TempDir(), "lock")

	var (
		inside  atomic.Int32
		overlap atomic.Bool
		wg      sync.WaitGroup
	)

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			lock, err := locker.LockWithTimeout(path, 5*time.Second)
			if err != nil {
				t.Errorf("LockWithTimeout(%q): %v", path, err)
				return
			}

			if inside.Add(1) > 1 {
				overlap.Store(true)
			}

			time.Sleep(2 * time.Millisecond)
			inside.Add(-1)

			_ = lock.Close()
		}()
	}

	wg.Wait()

	if overlap.Load() {
		t.Fatal("two goroutines held the lock at the same time")
	}
}

func Test_Locker_Propagates_Open_Error(t *testing.T) {
	t.Parallel()

	ffs := NewFaulty(NewReal())
	ffs.FailOn(OpOpenFile, ".lock", os.ErrPermission)

	locker := NewLocker(ffs)
	path := filepath.Join(t.TempDir(), "sheet.lock")

	_, err := locker.LockWithTimeout(path, shortWait)
	if !errors.Is(err, os.ErrPermission) {
		t.Fatalf("LockWithTimeout(%q): err=%v, want %v", path, err, os.ErrPermission)
	}

	if !IsInjected(err) {
		t.Fatalf("IsInjected(%v)=false, want true", err)
	}
}
