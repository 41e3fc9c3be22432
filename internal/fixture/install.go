// Package fixture stages plugin fixtures into a vault and turns them on in
// the running host.
package fixture

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/sergeknystautas/vaultdrive/internal/config"
	"github.com/sergeknystautas/vaultdrive/internal/logging"
)

// Mode is how a fixture lands in the plugins directory.
type Mode string

const (
	// ModeLink symlinks the source directory. An existing destination is kept.
	ModeLink Mode = "link"
	// ModeCopy copies the allow-listed files of the source directory.
	ModeCopy Mode = "copy"
)

// ManifestFile must exist in every fixture source.
const ManifestFile = "manifest.json"

// Files copied in ModeCopy. Subdirectories are never copied.
var copyAllowList = []string{ManifestFile, "main.js", "styles.css"}

// Plugin describes one fixture.
type Plugin struct {
	ID     string
	Source string
	Mode   Mode
}

// FromSpecs converts run file plugin entries. An empty mode means link.
func FromSpecs(specs []config.PluginSpec) []Plugin {
	out := make([]Plugin, 0, len(specs))
	for _, s := range specs {
		mode := Mode(s.Mode)
		if mode == "" {
			mode = ModeLink
		}
		out = append(out, Plugin{ID: s.ID, Source: s.Source, Mode: mode})
	}
	return out
}

type manifest struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

// Installer stages fixtures on a filesystem.
type Installer struct {
	cfg    *config.Config
	fs     afero.Fs
	logger *log.Logger
}

// NewInstaller returns an installer working on the OS filesystem.
func NewInstaller(cfg *config.Config, logger *log.Logger) *Installer {
	return NewInstallerFs(cfg, afero.NewOsFs(), logger)
}

// NewInstallerFs returns an installer working on fs. Link mode needs a
// filesystem that supports symlinks.
func NewInstallerFs(cfg *config.Config, fs afero.Fs, logger *log.Logger) *Installer {
	return &Installer{cfg: cfg, fs: fs, logger: logging.Or(logger)}
}

// Install stages plugins into the vault and overwrites the enabled plugins
// file with the ids that were staged, which is an empty list when every
// fixture was skipped. A fixture with a missing source or manifest is
// skipped with a warning. Called with no plugins, Install only creates
// the plugins directory and leaves the enabled file alone.
func (i *Installer) Install(vault string, plugins []Plugin) ([]string, error) {
	dir := i.cfg.PluginsDir(vault)
	if err := i.fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create plugins directory: %w", err)
	}
	if len(plugins) == 0 {
		return nil, nil
	}

	installed := []string{}
	for _, p := range plugins {
		if err := i.installOne(dir, p); err != nil {
			i.logger.Warn("skipping fixture", "id", p.ID, "source", p.Source, "err", err)
			continue
		}
		installed = append(installed, p.ID)
	}

	if len(installed) == 0 {
		i.logger.Warn("no fixture could be staged", "vault", vault)
	}
	if err := i.writeEnabled(vault, installed); err != nil {
		return installed, err
	}
	i.logger.Info("installed fixtures", "vault", vault, "ids", installed)
	return installed, nil
}

func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}

func (i *Installer) installOne(dir string, p Plugin) error {
	if !validID(p.ID) {
		return fmt.Errorf("invalid plugin id %q", p.ID)
	}
	info, err := i.fs.Stat(p.Source)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source %s is not a directory", p.Source)
	}
	raw, err := afero.ReadFile(i.fs, filepath.Join(p.Source, ManifestFile))
	if err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	if m.ID != "" && m.ID != p.ID {
		i.logger.Warn("manifest id differs from fixture id", "id", p.ID, "manifest_id", m.ID)
	}

	dest := filepath.Join(dir, p.ID)
	switch p.Mode {
	case ModeLink:
		return i.link(p.Source, dest)
	case ModeCopy:
		return i.copyFiles(p.Source, dest)
	}
	return fmt.Errorf("unknown install mode %q", p.Mode)
}

func (i *Installer) exists(path string) (bool, error) {
	if l, ok := i.fs.(afero.Lstater); ok {
		_, _, err := l.LstatIfPossible(path)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return afero.Exists(i.fs, path)
}

func (i *Installer) link(source, dest string) error {
	found, err := i.exists(dest)
	if err != nil {
		return err
	}
	if found {
		i.logger.Debug("link destination exists, keeping it", "dest", dest)
		return nil
	}
	linker, ok := i.fs.(afero.Linker)
	if !ok {
		return fmt.Errorf("filesystem %s cannot create symlinks", i.fs.Name())
	}
	abs, err := filepath.Abs(source)
	if err != nil {
		return err
	}
	if err := linker.SymlinkIfPossible(abs, dest); err != nil {
		return fmt.Errorf("failed to link %s: %w", dest, err)
	}
	return nil
}

func (i *Installer) copyFiles(source, dest string) error {
	if err := i.fs.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	for _, name := range copyAllowList {
		src := filepath.Join(source, name)
		info, err := i.fs.Stat(src)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		if info.IsDir() {
			continue
		}
		data, err := afero.ReadFile(i.fs, src)
		if err != nil {
			return err
		}
		if err := afero.WriteFile(i.fs, filepath.Join(dest, name), data, 0644); err != nil {
			return fmt.Errorf("failed to copy %s: %w", name, err)
		}
	}
	return nil
}

// writeEnabled overwrites the enabled plugins file with ids.
func (i *Installer) writeEnabled(vault string, ids []string) error {
	data, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return err
	}
	path := i.cfg.EnabledPluginsFile(vault)
	if err := afero.WriteFile(i.fs, path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
