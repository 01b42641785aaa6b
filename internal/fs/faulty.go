package fs

import (
	"errors"
	"os"
	"strings"
	"sync"
)

// Op names an [FS] method that [Faulty] can fail.
type Op string

const (
	OpOpenFile        Op = "openfile"
	OpReadFile        Op = "readfile"
	OpWriteFileAtomic Op = "writefileatomic"
	OpReadDir         Op = "readdir"
	OpMkdirAll        Op = "mkdirall"
	OpExists          Op = "exists"
	OpRemove          Op = "remove"
)

// InjectedError marks an error as intentionally injected by [Faulty].
// It wraps the underlying error so errors.Is/As continue to work.
type InjectedError struct {
	Op   Op
	Path string
	Err  error
}

func (e *InjectedError) Error() string {
	return string(e.Op) + " " + e.Path + ": " + e.Err.Error()
}

func (e *InjectedError) Unwrap() error {
	return e.Err
}

// IsInjected reports whether err (or any wrapped error) was injected by [Faulty].
func IsInjected(err error) bool {
	var injected *InjectedError

	return errors.As(err, &injected)
}

// Faulty wraps an [FS] and fails selected operations deterministically.
//
// Rules are matched by operation and path suffix. A rule with an empty
// suffix matches every path. Faulty is safe for concurrent use.
//
//	ffs := fs.NewFaulty(fs.NewReal())
//	ffs.FailOn(fs.OpWriteFileAtomic, ".csv", syscall.EACCES)
type Faulty struct {
	inner FS

	mu    sync.Mutex
	rules []faultRule
}

type faultRule struct {
	op     Op
	suffix string
	err    error
}

// NewFaulty returns a Faulty that passes every call through to inner
// until rules are added.
func NewFaulty(inner FS) *Faulty {
	return &Faulty{inner: inner}
}

// FailOn makes op fail with err for every path ending in suffix.
func (f *Faulty) FailOn(op Op, suffix string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rules = append(f.rules, faultRule{op: op, suffix: suffix, err: err})
}

// Reset drops all rules.
func (f *Faulty) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rules = nil
}

func (f *Faulty) check(op Op, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, r := range f.rules {
		if r.op == op && strings.HasSuffix(path, r.suffix) {
			return &InjectedError{Op: op, Path: path, Err: r.err}
		}
	}

	return nil
}

func (f *Faulty) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if err := f.check(OpOpenFile, path); err != nil {
		return nil, err
	}

	return f.inner.OpenFile(path, flag, perm)
}

func (f *Faulty) ReadFile(path string) ([]byte, error) {
	if err := f.check(OpReadFile, path); err != nil {
		return nil, err
	}

	return f.inner.ReadFile(path)
}

func (f *Faulty) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := f.check(OpWriteFileAtomic, path); err != nil {
		return err
	}

	return f.inner.WriteFileAtomic(path, data, perm)
}

func (f *Faulty) ReadDir(path string) ([]os.DirEntry, error) {
	if err := f.check(OpReadDir, path); err != nil {
		return nil, err
	}

	return f.inner.ReadDir(path)
}

func (f *Faulty) MkdirAll(path string, perm os.FileMode) error {
	if err := f.check(OpMkdirAll, path); err != nil {
		return err
	}

	return f.inner.MkdirAll(path, perm)
}

func (f *Faulty) Exists(path string) (bool, error) {
	if err := f.check(OpExists, path); err != nil {
		return false, err
	}

	return f.inner.Exists(path)
}

func (f *Faulty) Remove(path string) error {
	if err := f.check(OpRemove, path); err != nil {
		return err
	}

	return f.inner.Remove(path)
}
