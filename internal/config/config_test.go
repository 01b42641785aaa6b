package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		t.Fatal(err)
	}

	err = os.WriteFile(path, []byte(content), 0o644)
	if err != nil {
		t.Fatal(err)
	}
}

func Test_Load_Returns_Defaults_When_No_Files_Exist(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	cfg, err := Load(Input{WorkDirOverride: dir, Env: map[string]string{}})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := Default()
	want.EffectiveCwd = dir
	want.DataDirAbs = filepath.Join(dir, "data")
	want.LockTimeoutDur = 5 * time.Second

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

// Contract: defaults < global < project (or -c) < flags.
func Test_Load_Applies_Precedence_When_All_Layers_Set(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	xdg := t.TempDir()

	writeFile(t, filepath.Join(xdg, "sheetfs", "config.json"), `{
		// global
		"data_dir": "/global/data",
		"lock_mode": "process",
		"query_mode": "strict",
		"log_file": "global.log",
	}`)
	writeFile(t, filepath.Join(dir, FileName), `{"data_dir": "project-data", "lock_timeout": "250ms"}`)

	cfg, err := Load(Input{
		WorkDirOverride: dir,
		Overrides:       Config{LockMode: "none"},
		Env:             map[string]string{"XDG_CONFIG_HOME": xdg},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	got := []any{cfg.DataDirAbs, cfg.LockMode, cfg.LockTimeoutDur, cfg.StrictQueries, cfg.LogFileAbs, cfg.Sources}
	want := []any{
		filepath.Join(dir, "project-data"),
		"none",
		250 * time.Millisecond,
		true,
		filepath.Join(dir, "global.log"),
		Sources{Global: filepath.Join(xdg, "sheetfs", "config.json"), Project: filepath.Join(dir, FileName)},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func Test_Load_Keeps_Default_Limits_When_Only_One_Is_Set(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, FileName), `{"max_rows": 500}`)

	cfg, err := Load(Input{WorkDirOverride: dir, Env: map[string]string{}})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if diff := cmp.Diff([]int{500, Default().MaxColumns}, []int{cfg.MaxRows, cfg.MaxColumns}); diff != "" {
		t.Errorf("limits mismatch (-want +got):\n%s", diff)
	}
}

func Test_Load_Uses_Explicit_File_Instead_Of_Project_File(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, FileName), `{"data_dir": "from-project"}`)
	writeFile(t, filepath.Join(dir, "custom.json"), `{"data_dir": "from-custom"}`)

	cfg, err := Load(Input{WorkDirOverride: dir, ConfigPath: "custom.json", Env: map[string]string{"HOME": t.TempDir()}})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.DataDirAbs != filepath.Join(dir, "from-custom") {
		t.Errorf("DataDirAbs=%q, want from-custom", cfg.DataDirAbs)
	}
}

func Test_Load_Returns_Errors_When_Config_Is_Bad(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		input   Input
		want    error
	}{
		{"missing explicit", "", Input{ConfigPath: "nope.json"}, ErrConfigFileNotFound},
		{"broken jsonc", `{"data_dir": `, Input{}, ErrConfigInvalid},
		{"empty data dir", `{"data_dir": ""}`, Input{}, ErrDataDirEmpty},
		{"bad lock mode", `{"lock_mode": "flock"}`, Input{}, ErrInvalidValue},
		{"bad query mode", `{"query_mode": "loose"}`, Input{}, ErrInvalidValue},
		{"bad timeout", `{"lock_timeout": "soon"}`, Input{}, ErrInvalidValue},
		{"negative timeout", "", Input{Overrides: Config{LockTimeout: "-1s"}}, ErrInvalidValue},
		{"negative max rows", `{"max_rows": -1}`, Input{}, ErrInvalidValue},
	}

	for _, tt := range tests {
		dir := t.TempDir()
		if tt.content != "" {
			writeFile(t, filepath.Join(dir, FileName), tt.content)
		}

		in := tt.input
		in.WorkDirOverride = dir
		in.Env = map[string]string{}

		_, err := Load(in)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: err=%v, want %v", tt.name, err, tt.want)
		}
	}
}

func Test_Load_Keeps_Absolute_Data_Dir(t *testing.T) {
	t.Parallel()

	abs := filepath.Join(t.TempDir(), "sheets")

	cfg, err := Load(Input{WorkDirOverride: t.TempDir(), Overrides: Config{DataDir: abs}, Env: map[string]string{}})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if diff := cmp.Diff(abs, cfg.DataDirAbs, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("DataDirAbs mismatch (-want +got):\n%s", diff)
	}
}
