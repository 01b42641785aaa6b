package fs

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
)

func Test_Real_Exists_Reports_File_Presence(t *testing.T) {
	t.Parallel()

	fsys := NewReal()
	dir := t.TempDir()
	path := filepath.Join(dir, "sheet.csv")

	ok, err := fsys.Exists(path)
	if err != nil || ok {
		t.Fatalf("Exists(%q)=(%v, %v), want (false, nil)", path, ok, err)
	}

	if err := os.WriteFile(path, []byte("a,b\n"), 0o600); err != nil {
		t.Fatalf("setup WriteFile(%q): %v", path, err)
	}

	ok, err = fsys.Exists(path)
	if err != nil || !ok {
		t.Fatalf("Exists(%q)=(%v, %v), want (true, nil)", path, ok, err)
	}

	ok, err = fsys.Exists(dir)
	if err != nil || !ok {
		t.Fatalf("Exists(%q)=(%v, %v), want (true, nil)", dir, ok, err)
	}
}

func Test_Real_WriteFileAtomic_Overwrites_Without_Leaving_Temp_Files(t *testing.T) {
	t.Parallel()

	fsys := NewReal()
	dir := t.TempDir()
	path := filepath.Join(dir, "sheet.csv")

	if err := fsys.WriteFileAtomic(path, []byte("old\n"), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic(%q) first: %v", path, err)
	}

	if err := fsys.WriteFileAtomic(path, []byte("new\n"), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic(%q) second: %v", path, err)
	}

	got, err := fsys.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%q): %v", path, err)
	}

	if string(got) != "new\n" {
		t.Fatalf("content=%q, want %q", got, "new\n")
	}

	entries, err := fsys.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir(%q): %v", dir, err)
	}

	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}

		t.Fatalf("dir entries=%v, want only sheet.csv", names)
	}
}

func Test_Faulty_Fails_Only_Matching_Operations(t *testing.T) {
	t.Parallel()

	ffs := NewFaulty(NewReal())
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "sheet.csv")
	metaPath := filepath.Join(dir, "sheet.meta")

	ffs.FailOn(OpWriteFileAtomic, ".csv", syscall.ENOSPC)

	err := ffs.WriteFileAtomic(csvPath, []byte("x\n"), 0o644)
	if !errors.Is(err, syscall.ENOSPC) {
		t.Fatalf("WriteFileAtomic(%q): err=%v, want %v", csvPath, err, syscall.ENOSPC)
	}

	if err := ffs.WriteFileAtomic(metaPath, []byte("{}"), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic(%q): %v", metaPath, err)
	}

	ffs.Reset()

	if err := ffs.WriteFileAtomic(csvPath, []byte("x\n"), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic(%q) after Reset: %v", csvPath, err)
	}
}
