package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sergeknystautas/vaultdrive/internal/cdp"
	"github.com/sergeknystautas/vaultdrive/internal/fixture"
	"github.com/sergeknystautas/vaultdrive/internal/host"
)

// ErrUnknownVault is returned when a named vault is not in the host's list.
var ErrUnknownVault = errors.New("vault not known to host")

// VaultOptions selects the vault to open. Exactly one of Sandbox, Name and
// Path is used, in that order; with none set the configured vault directory
// is opened.
type VaultOptions struct {
	Sandbox bool
	// Name is a display name from the host's vault list.
	Name string
	Path string
	// ForceRecreate deletes the vault directory before opening it.
	ForceRecreate bool
	// Plugins are staged into the vault and enabled after it opens.
	Plugins []fixture.Plugin
}

// VaultContext is an open vault. It holds references only; it must not be
// used after the launcher's Cleanup.
type VaultContext struct {
	Window *cdp.Window
	Name   string
	Path   string
	// Plugins is the handle to the host's id→plugin registry, captured when
	// the vault opened.
	Plugins *cdp.Handle
	// Enabled lists the fixture ids the host reported enabled.
	Enabled []string

	launcher *Launcher
}

// Launcher returns the launcher that opened the vault.
func (v *VaultContext) Launcher() *Launcher { return v.launcher }

func (l *Launcher) requireReady() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateReady && l.state != StateSessionOpen {
		return fmt.Errorf("state %s: %w", l.state, ErrInvalidState)
	}
	return nil
}

// OpenVault opens a vault, stages and enables opts.Plugins in it and returns
// once its layout is ready and exactly one window is open.
func (l *Launcher) OpenVault(ctx context.Context, opts VaultOptions) (*VaultContext, error) {
	if err := l.requireReady(); err != nil {
		return nil, err
	}
	bridge := l.Bridge()

	var (
		w    *cdp.Window
		path string
		err  error
	)
	if opts.Sandbox {
		if path, err = bridge.SandboxPath(ctx); err != nil {
			return nil, err
		}
		if opts.ForceRecreate {
			if err := l.removeVaultDir(path); err != nil {
				return nil, err
			}
		}
		if w, err = bridge.OpenSandbox(ctx); err != nil {
			return nil, err
		}
	} else {
		if path, err = l.resolveVault(ctx, opts); err != nil {
			return nil, err
		}
		if opts.ForceRecreate {
			if err := l.removeVaultDir(path); err != nil {
				return nil, err
			}
		}
		_, statErr := os.Stat(path)
		create := errors.Is(statErr, os.ErrNotExist)
		if w, err = bridge.OpenVault(ctx, path, create); err != nil {
			return nil, err
		}
	}

	if w, err = l.convergeOn(ctx, w); err != nil {
		return nil, err
	}

	vc := &VaultContext{Path: path, launcher: l}
	if len(opts.Plugins) > 0 {
		ids, err := l.installer.Install(path, opts.Plugins)
		if err != nil {
			return nil, err
		}
		if vc.Enabled, err = l.installer.Enable(ctx, host.New(w), ids); err != nil {
			return nil, err
		}
		// Turning community plugins on may reload the window.
		if w, err = l.convergeOn(ctx, w); err != nil {
			return nil, err
		}
	}

	s := host.New(w)
	if vc.Name, err = s.VaultName(ctx); err != nil {
		return nil, fmt.Errorf("failed to read vault name: %w", err)
	}
	if vc.Plugins, err = s.PluginRegistry(ctx); err != nil {
		return nil, fmt.Errorf("failed to capture plugin registry: %w", err)
	}
	vc.Window = w

	l.setState(StateSessionOpen)
	l.logger.Info("vault open", "name", vc.Name, "path", path, "plugins", vc.Enabled)
	return vc, nil
}

func (l *Launcher) resolveVault(ctx context.Context, opts VaultOptions) (string, error) {
	switch {
	case opts.Name != "":
		vaults, err := l.Bridge().ListVaults(ctx)
		if err != nil {
			return "", err
		}
		v, ok := vaults[opts.Name]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownVault, opts.Name)
		}
		return v.Path, nil
	case opts.Path != "":
		return opts.Path, nil
	case l.cfg.Paths.VaultDir != "":
		return l.cfg.Paths.VaultDir, nil
	}
	return "", errors.New("no vault to open: set a path, a name or paths.vault_dir")
}

func (l *Launcher) removeVaultDir(path string) error {
	l.logger.Info("recreating vault", "path", path)
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to remove vault %s: %w", path, err)
	}
	return nil
}

// OpenStarter closes the open vault and returns the starter window.
func (l *Launcher) OpenStarter(ctx context.Context) (*cdp.Window, error) {
	if err := l.requireReady(); err != nil {
		return nil, err
	}
	w, err := l.Bridge().OpenStarter(ctx)
	if err != nil {
		return nil, err
	}
	if w, err = l.convergeOn(ctx, w); err != nil {
		return nil, err
	}
	l.setState(StateReady)
	return w, nil
}
