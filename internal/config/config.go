package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

var (
	ErrConfigNotFound = errors.New("config file not found")
	ErrInvalidConfig  = errors.New("invalid config")
	ErrMissingPath    = errors.New("required path does not exist")
)

const (
	DefaultReadyTimeout  = 10 * time.Second
	DefaultWindowTimeout = 10 * time.Second
	DefaultSettleDelay   = time.Second
	DefaultPollInterval  = 100 * time.Millisecond
	DefaultConfigDir     = ".obsidian"
	DefaultSandboxName   = "Obsidian Sandbox"
)

// Environment overrides applied after the run file is parsed.
const (
	EnvExecutable = "VAULTDRIVE_EXECUTABLE"
	EnvEntry      = "VAULTDRIVE_ENTRY"
	EnvVault      = "VAULTDRIVE_VAULT"
)

// Paths is the resolved filesystem layout of one run. It is produced once
// and never modified afterwards.
type Paths struct {
	// VaultDir is the source vault the tests open when no other target is given.
	VaultDir string
	// BuildDir holds the compiled plugin under test.
	BuildDir string
	// AssetsDir holds fixture assets (extra plugins, seed notes).
	AssetsDir string
	// UnpackedDir is the unpacked host runtime.
	UnpackedDir string
	// EntryFile is the runtime entry script passed as the first argument.
	EntryFile string
	// Executable is the runtime binary started as the host process.
	Executable string
	// SessionID identifies the run in logs and temporary directory names.
	SessionID string
}

// CheckExist verifies that every configured path exists. A missing path is a
// precondition failure: nothing is started when this returns an error.
func (p Paths) CheckExist() error {
	checks := []struct {
		name string
		path string
	}{
		{"executable", p.Executable},
		{"entry_file", p.EntryFile},
		{"unpacked_dir", p.UnpackedDir},
		{"vault_dir", p.VaultDir},
		{"build_dir", p.BuildDir},
		{"assets_dir", p.AssetsDir},
	}
	for _, c := range checks {
		if c.path == "" {
			continue
		}
		if _, err := os.Stat(c.path); err != nil {
			return fmt.Errorf("%w: %s %s", ErrMissingPath, c.name, c.path)
		}
	}
	return nil
}

// PluginSpec describes a plugin fixture listed in the run file.
type PluginSpec struct {
	ID     string
	Source string
	Mode   string
}

// Config is the immutable run configuration passed by pointer to every
// component that needs it.
type Config struct {
	Paths Paths

	ReadyTimeout  time.Duration
	WindowTimeout time.Duration
	SettleDelay   time.Duration
	PollInterval  time.Duration

	// ConfigDir is the per-vault settings directory name.
	ConfigDir string
	// SandboxName is the fixed display name of the sandbox vault.
	SandboxName string
	// MinHostVersion is an optional semver constraint the host must satisfy.
	MinHostVersion string

	ExtraArgs []string
	Env       []string
	UsePTY    bool

	Plugins []PluginSpec
}

// Default returns a config with default timeouts and host layout for paths.
func Default(paths Paths) *Config {
	return &Config{
		Paths:         paths,
		ReadyTimeout:  DefaultReadyTimeout,
		WindowTimeout: DefaultWindowTimeout,
		SettleDelay:   DefaultSettleDelay,
		PollInterval:  DefaultPollInterval,
		ConfigDir:     DefaultConfigDir,
		SandboxName:   DefaultSandboxName,
	}
}

// Validate checks required fields and value ranges. It does not touch the
// filesystem; see Paths.CheckExist.
func (c *Config) Validate() error {
	if c.Paths.Executable == "" {
		return fmt.Errorf("%w: paths.executable is required", ErrInvalidConfig)
	}
	if c.Paths.EntryFile == "" {
		return fmt.Errorf("%w: paths.entry_file is required", ErrInvalidConfig)
	}
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"ready_timeout", c.ReadyTimeout},
		{"window_timeout", c.WindowTimeout},
		{"poll_interval", c.PollInterval},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, d.name)
		}
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("%w: settle_delay must not be negative", ErrInvalidConfig)
	}
	if c.ConfigDir == "" || strings.ContainsAny(c.ConfigDir, `/\`) {
		return fmt.Errorf("%w: config_dir must be a single directory name", ErrInvalidConfig)
	}
	if c.MinHostVersion != "" {
		if _, err := semver.NewConstraint(c.MinHostVersion); err != nil {
			return fmt.Errorf("%w: min_host_version: %w", ErrInvalidConfig, err)
		}
	}
	for _, p := range c.Plugins {
		if p.ID == "" {
			return fmt.Errorf("%w: plugin id is required", ErrInvalidConfig)
		}
		if p.Source == "" {
			return fmt.Errorf("%w: plugin source is required for %s", ErrInvalidConfig, p.ID)
		}
	}
	return nil
}

// PluginsDir returns <vault>/<config dir>/plugins.
func (c *Config) PluginsDir(vault string) string {
	return filepath.Join(vault, c.ConfigDir, "plugins")
}

// EnabledPluginsFile returns <vault>/<config dir>/community-plugins.json.
func (c *Config) EnabledPluginsFile(vault string) string {
	return filepath.Join(vault, c.ConfigDir, "community-plugins.json")
}

// Load reads a YAML run file, resolves relative paths against the file's
// directory, applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config directory: %w", err)
	}
	return f.Resolve(base, os.Getenv)
}

// Resolve turns the on-disk representation into a validated Config. Relative
// paths are joined to base; getenv supplies the environment overrides.
func (f File) Resolve(base string, getenv func(string) string) (*Config, error) {
	home, _ := os.UserHomeDir()
	resolve := func(p string) string {
		p = strings.TrimSpace(p)
		if p == "" {
			return ""
		}
		if p == "~" || strings.HasPrefix(p, "~/") {
			p = filepath.Join(home, p[1:])
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(base, p)
		}
		return filepath.Clean(p)
	}

	paths := Paths{
		VaultDir:    resolve(f.Paths.VaultDir),
		BuildDir:    resolve(f.Paths.BuildDir),
		AssetsDir:   resolve(f.Paths.AssetsDir),
		UnpackedDir: resolve(f.Paths.UnpackedDir),
		EntryFile:   resolve(f.Paths.EntryFile),
		Executable:  resolve(f.Paths.Executable),
		SessionID:   f.Paths.SessionID,
	}
	if getenv != nil {
		if v := getenv(EnvExecutable); v != "" {
			paths.Executable = resolve(v)
		}
		if v := getenv(EnvEntry); v != "" {
			paths.EntryFile = resolve(v)
		}
		if v := getenv(EnvVault); v != "" {
			paths.VaultDir = resolve(v)
		}
	}

	cfg := Default(paths)
	durations := []struct {
		raw string
		dst *time.Duration
		key string
	}{
		{f.ReadyTimeout, &cfg.ReadyTimeout, "ready_timeout"},
		{f.WindowTimeout, &cfg.WindowTimeout, "window_timeout"},
		{f.SettleDelay, &cfg.SettleDelay, "settle_delay"},
		{f.PollInterval, &cfg.PollInterval, "poll_interval"},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, d.key, err)
		}
		*d.dst = v
	}
	if f.ConfigDir != "" {
		cfg.ConfigDir = f.ConfigDir
	}
	if f.SandboxName != "" {
		cfg.SandboxName = f.SandboxName
	}
	cfg.MinHostVersion = f.MinHostVersion
	cfg.ExtraArgs = append([]string(nil), f.ExtraArgs...)
	keys := make([]string, 0, len(f.Env))
	for k := range f.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cfg.Env = append(cfg.Env, k+"="+f.Env[k])
	}
	cfg.UsePTY = f.UsePTY
	for _, p := range f.Plugins {
		cfg.Plugins = append(cfg.Plugins, PluginSpec{
			ID:     p.ID,
			Source: resolve(p.Source),
			Mode:   p.Mode,
		})
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
