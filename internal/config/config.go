// Package config loads sheetfs configuration from JSONC files and flags.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/hujson"

	"github.com/calvinalkan/sheetfs/internal/grid"
)

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config file")
	ErrDataDirEmpty       = errors.New("data_dir cannot be empty")
	ErrInvalidValue       = errors.New("invalid config value")
)

// Config holds all configuration options.
type Config struct {
	DataDir     string `json:"data_dir"`
	LockMode    string `json:"lock_mode,omitempty"`
	LockTimeout string `json:"lock_timeout,omitempty"`
	QueryMode   string `json:"query_mode,omitempty"`
	LogFile     string `json:"log_file,omitempty"`
	Listen      string `json:"listen,omitempty"`
	MaxRows     int    `json:"max_rows,omitempty"`
	MaxColumns  int    `json:"max_columns,omitempty"`

	// Resolved values (computed, not serialized)
	EffectiveCwd   string        `json:"-"`
	DataDirAbs     string        `json:"-"`
	LogFileAbs     string        `json:"-"`
	LockTimeoutDur time.Duration `json:"-"`
	StrictQueries  bool          `json:"-"`

	Sources Sources `json:"-"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string
	Project string
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		DataDir:     "data",
		LockMode:    "file",
		LockTimeout: "5s",
		QueryMode:   "lenient",
		Listen:      "127.0.0.1:8787",
		MaxRows:     grid.DefaultMaxRows,
		MaxColumns:  grid.DefaultMaxColumns,
	}
}

// FileName is the project config file looked up in the working directory.
const FileName = ".sheetfs.json"

// globalPath returns $XDG_CONFIG_HOME/sheetfs/config.json, falling back to
// ~/.config/sheetfs/config.json. Empty when neither variable is set.
func globalPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "sheetfs", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "sheetfs", "config.json")
	}

	return ""
}

// Input holds the inputs for Load.
type Input struct {
	WorkDirOverride string // -C/--cwd; os.Getwd() when empty
	ConfigPath      string // -c/--config
	Overrides       Config // non-empty fields win over every file
	Env             map[string]string
}

// Load resolves configuration with the following precedence (highest wins):
//  1. Defaults
//  2. Global user config
//  3. Project config (.sheetfs.json in the working directory), or the
//     explicit -c file instead
//  4. Flag overrides
//
// Paths in the result are made absolute against the working directory.
func Load(in Input) (Config, error) {
	workDir := in.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := Default()

	global, gPath, err := loadOptional(globalPath(in.Env))
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Global = gPath
	cfg = merge(cfg, global)

	project, pPath, err := loadProject(workDir, in.ConfigPath)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Project = pPath
	cfg = merge(cfg, project)
	cfg = merge(cfg, in.Overrides)

	err = resolve(&cfg, workDir)
	if err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadOptional(path string) (Config, string, error) {
	if path == "" {
		return Config{}, "", nil
	}

	cfg, loaded, err := loadFile(path, false)
	if err != nil || !loaded {
		return Config{}, "", err
	}

	return cfg, path, nil
}

func loadProject(workDir, configPath string) (Config, string, error) {
	if configPath == "" {
		return loadOptional(filepath.Join(workDir, FileName))
	}

	path := configPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(workDir, path)
	}

	_, statErr := os.Stat(path)
	if statErr != nil {
		return Config{}, "", fmt.Errorf("%w: %s", ErrConfigFileNotFound, configPath)
	}

	cfg, _, err := loadFile(path, true)
	if err != nil {
		return Config{}, "", err
	}

	return cfg, path, nil
}

// loadFile reads one config file. A missing file is not an error unless
// mustExist is set.
func loadFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if mustExist {
			return Config{}, false, fmt.Errorf("%w: %s", ErrConfigFileRead, path)
		}

		return Config{}, false, nil
	}

	cfg, err := parse(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return cfg, true, nil
}

func parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	err = json.Unmarshal(standardized, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	// An explicit "data_dir": "" is a mistake, not "use the default".
	var raw map[string]any

	_ = json.Unmarshal(standardized, &raw)

	if v, ok := raw["data_dir"].(string); ok && v == "" {
		return Config{}, ErrDataDirEmpty
	}

	return cfg, nil
}

func merge(base, overlay Config) Config {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}

	set(&base.DataDir, overlay.DataDir)
	set(&base.LockMode, overlay.LockMode)
	set(&base.LockTimeout, overlay.LockTimeout)
	set(&base.QueryMode, overlay.QueryMode)
	set(&base.LogFile, overlay.LogFile)
	set(&base.Listen, overlay.Listen)

	if overlay.MaxRows != 0 {
		base.MaxRows = overlay.MaxRows
	}

	if overlay.MaxColumns != 0 {
		base.MaxColumns = overlay.MaxColumns
	}

	return base
}

func resolve(cfg *Config, workDir string) error {
	if cfg.DataDir == "" {
		return ErrDataDirEmpty
	}

	switch cfg.LockMode {
	case "file", "process", "none":
	default:
		return fmt.Errorf("%w: lock_mode %q (want file, process or none)", ErrInvalidValue, cfg.LockMode)
	}

	switch cfg.QueryMode {
	case "lenient":
	case "strict":
		cfg.StrictQueries = true
	default:
		return fmt.Errorf("%w: query_mode %q (want lenient or strict)", ErrInvalidValue, cfg.QueryMode)
	}

	d, err := time.ParseDuration(cfg.LockTimeout)
	if err != nil || d <= 0 {
		return fmt.Errorf("%w: lock_timeout %q (want a positive duration like 5s)", ErrInvalidValue, cfg.LockTimeout)
	}

	if cfg.MaxRows < 0 || cfg.MaxColumns < 0 {
		return fmt.Errorf("%w: max_rows and max_columns must not be negative", ErrInvalidValue)
	}

	cfg.LockTimeoutDur = d
	cfg.EffectiveCwd = workDir
	cfg.DataDirAbs = abs(workDir, cfg.DataDir)

	if cfg.LogFile != "" {
		cfg.LogFileAbs = abs(workDir, cfg.LogFile)
	}

	return nil
}

func abs(workDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}

	return filepath.Join(workDir, p)
}
