package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeRunFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "vaultdrive.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write run file: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeRunFile(t, dir, `
paths:
  executable: runtime/obsidian
  entry_file: runtime/resources/app/main.js
  vault_dir: vaults/basic
  session_id: smoke
ready_timeout: 3s
settle_delay: 250ms
min_host_version: ">= 1.4.0"
env:
  ZED: "1"
  ALPHA: "2"
plugins:
  - id: demo
    source: build
    mode: copy
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if want := filepath.Join(dir, "runtime", "obsidian"); cfg.Paths.Executable != want {
		t.Errorf("Executable = %q, want %q", cfg.Paths.Executable, want)
	}
	if want := filepath.Join(dir, "vaults", "basic"); cfg.Paths.VaultDir != want {
		t.Errorf("VaultDir = %q, want %q", cfg.Paths.VaultDir, want)
	}
	if cfg.Paths.SessionID != "smoke" {
		t.Errorf("SessionID = %q, want smoke", cfg.Paths.SessionID)
	}
	if cfg.ReadyTimeout != 3*time.Second {
		t.Errorf("ReadyTimeout = %v, want 3s", cfg.ReadyTimeout)
	}
	if cfg.SettleDelay != 250*time.Millisecond {
		t.Errorf("SettleDelay = %v, want 250ms", cfg.SettleDelay)
	}
	if cfg.WindowTimeout != DefaultWindowTimeout {
		t.Errorf("WindowTimeout = %v, want default", cfg.WindowTimeout)
	}
	if cfg.ConfigDir != DefaultConfigDir {
		t.Errorf("ConfigDir = %q, want default", cfg.ConfigDir)
	}
	if len(cfg.Env) != 2 || cfg.Env[0] != "ALPHA=2" || cfg.Env[1] != "ZED=1" {
		t.Errorf("Env = %v, want sorted ALPHA=2 ZED=1", cfg.Env)
	}
	if len(cfg.Plugins) != 1 || cfg.Plugins[0].Source != filepath.Join(dir, "build") {
		t.Errorf("Plugins = %+v", cfg.Plugins)
	}
}

func TestLoadNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, ErrConfigNotFound) {
		t.Fatalf("expected ErrConfigNotFound, got %v", err)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeRunFile(t, t.TempDir(), "paths: [unterminated")
	_, err := Load(path)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestResolveEnvOverrides(t *testing.T) {
	f := File{Paths: FilePaths{Executable: "bin/app", EntryFile: "main.js"}}
	env := map[string]string{
		EnvExecutable: "/opt/host/app",
		EnvVault:      "fixtures/vault",
	}
	cfg, err := f.Resolve("/work", func(k string) string { return env[k] })
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if cfg.Paths.Executable != "/opt/host/app" {
		t.Errorf("Executable = %q, want override", cfg.Paths.Executable)
	}
	if cfg.Paths.EntryFile != "/work/main.js" {
		t.Errorf("EntryFile = %q, want /work/main.js", cfg.Paths.EntryFile)
	}
	if cfg.Paths.VaultDir != "/work/fixtures/vault" {
		t.Errorf("VaultDir = %q, want /work/fixtures/vault", cfg.Paths.VaultDir)
	}
}

func TestResolveBadDuration(t *testing.T) {
	f := File{
		Paths:        FilePaths{Executable: "/bin/app", EntryFile: "/main.js"},
		ReadyTimeout: "soon",
	}
	if _, err := f.Resolve("/", nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestValidateConfig(t *testing.T) {
	valid := func() *Config {
		return Default(Paths{Executable: "/bin/app", EntryFile: "/main.js"})
	}
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "missing executable", mutate: func(c *Config) { c.Paths.Executable = "" }, wantErr: true},
		{name: "missing entry", mutate: func(c *Config) { c.Paths.EntryFile = "" }, wantErr: true},
		{name: "zero ready timeout", mutate: func(c *Config) { c.ReadyTimeout = 0 }, wantErr: true},
		{name: "negative settle", mutate: func(c *Config) { c.SettleDelay = -time.Second }, wantErr: true},
		{name: "zero settle allowed", mutate: func(c *Config) { c.SettleDelay = 0 }},
		{name: "nested config dir", mutate: func(c *Config) { c.ConfigDir = "a/b" }, wantErr: true},
		{name: "bad version constraint", mutate: func(c *Config) { c.MinHostVersion = ">>> one" }, wantErr: true},
		{name: "good version constraint", mutate: func(c *Config) { c.MinHostVersion = "^1.5" }},
		{name: "plugin without id", mutate: func(c *Config) { c.Plugins = []PluginSpec{{Source: "/p"}} }, wantErr: true},
		{name: "plugin without source", mutate: func(c *Config) { c.Plugins = []PluginSpec{{ID: "p"}} }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestCheckExist(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "app")
	entry := filepath.Join(dir, "main.js")
	for _, p := range []string{exe, entry} {
		if err := os.WriteFile(p, []byte("x"), 0755); err != nil {
			t.Fatal(err)
		}
	}

	p := Paths{Executable: exe, EntryFile: entry, UnpackedDir: dir}
	if err := p.CheckExist(); err != nil {
		t.Fatalf("CheckExist failed: %v", err)
	}

	p.BuildDir = filepath.Join(dir, "missing-build")
	err := p.CheckExist()
	if !errors.Is(err, ErrMissingPath) {
		t.Fatalf("expected ErrMissingPath, got %v", err)
	}
}

func TestVaultLayout(t *testing.T) {
	cfg := Default(Paths{})
	if got := cfg.PluginsDir("/v"); got != "/v/.obsidian/plugins" {
		t.Errorf("PluginsDir = %q", got)
	}
	if got := cfg.EnabledPluginsFile("/v"); got != "/v/.obsidian/community-plugins.json" {
		t.Errorf("EnabledPluginsFile = %q", got)
	}
}
