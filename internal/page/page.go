// Package page is the test-facing object over one open vault. Each method
// is a thin primitive over the host surface; tests compose them into their
// own assertions.
package page

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/sergeknystautas/vaultdrive/internal/cdp"
	"github.com/sergeknystautas/vaultdrive/internal/config"
	"github.com/sergeknystautas/vaultdrive/internal/host"
	"github.com/sergeknystautas/vaultdrive/internal/launcher"
	"github.com/sergeknystautas/vaultdrive/internal/logging"
	"github.com/sergeknystautas/vaultdrive/internal/readiness"
)

// Command ids used by the navigation helpers.
const (
	CmdSplitVertical = "workspace:split-vertical"
	CmdCloseTab      = "workspace:close"
	CmdReopenTab     = "workspace:undo-close-pane"
	CmdGoBack        = "app:go-back"
	CmdGoForward     = "app:go-forward"
	CmdGotoLastTab   = "workspace:goto-last-tab"
)

var (
	// ErrCommandFailed is returned when the host reports a command did not run.
	ErrCommandFailed = errors.New("command reported failure")
	// ErrNoEditor is returned when the active view has no editor.
	ErrNoEditor = errors.New("active view has no editor")
	// ErrPluginNotLoaded is returned for a plugin id missing from the registry.
	ErrPluginNotLoaded = errors.New("plugin not loaded")
)

// Page drives the window of one open vault.
type Page struct {
	vc      *launcher.VaultContext
	cfg     *config.Config
	surface *host.Surface
	logger  *log.Logger
}

// New wraps an open vault.
func New(vc *launcher.VaultContext, cfg *config.Config, logger *log.Logger) *Page {
	return &Page{
		vc:      vc,
		cfg:     cfg,
		surface: host.New(vc.Window),
		logger:  logging.Or(logger),
	}
}

// Open opens a vault through l and wraps it.
func Open(ctx context.Context, l *launcher.Launcher, opts launcher.VaultOptions) (*Page, error) {
	vc, err := l.OpenVault(ctx, opts)
	if err != nil {
		return nil, err
	}
	return New(vc, l.Config(), nil), nil
}

func (p *Page) Window() *cdp.Window { return p.vc.Window }

// Vault returns the name and path of the open vault.
func (p *Page) Vault() (name, path string) { return p.vc.Name, p.vc.Path }

// Surface gives direct access to the host queries.
func (p *Page) Surface() *host.Surface { return p.surface }

// RunCommand executes a command and fails unless the host reports success.
func (p *Page) RunCommand(ctx context.Context, id string) error {
	p.logger.Debug("command", "id", id)
	ok, err := p.surface.ExecuteCommand(ctx, id)
	if err != nil {
		return fmt.Errorf("command %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrCommandFailed, id)
	}
	return nil
}

func (p *Page) FocusEditor(ctx context.Context) error {
	ok, err := p.surface.FocusEditor(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoEditor
	}
	return nil
}

func (p *Page) ClearEditor(ctx context.Context) error {
	ok, err := p.surface.ClearEditor(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoEditor
	}
	return nil
}

func (p *Page) SplitVertical(ctx context.Context) error { return p.RunCommand(ctx, CmdSplitVertical) }
func (p *Page) CloseTab(ctx context.Context) error      { return p.RunCommand(ctx, CmdCloseTab) }

// ReopenTab reopens the most recently closed tab.
func (p *Page) ReopenTab(ctx context.Context) error { return p.RunCommand(ctx, CmdReopenTab) }

func (p *Page) Back(ctx context.Context) error    { return p.RunCommand(ctx, CmdGoBack) }
func (p *Page) Forward(ctx context.Context) error { return p.RunCommand(ctx, CmdGoForward) }

// GotoTab switches to the n-th tab, 1-based. 9 means the last tab.
func (p *Page) GotoTab(ctx context.Context, n int) error {
	switch {
	case n == 9:
		return p.RunCommand(ctx, CmdGotoLastTab)
	case n >= 1 && n <= 8:
		return p.RunCommand(ctx, fmt.Sprintf("workspace:goto-tab-%d", n))
	}
	return fmt.Errorf("tab index %d out of range 1-9", n)
}

// Vault filesystem. Paths are relative to the vault root.

func (p *Page) FileExists(ctx context.Context, path string) (bool, error) {
	return p.surface.FileExists(ctx, path)
}

func (p *Page) ReadFile(ctx context.Context, path string) (string, error) {
	return p.surface.ReadFile(ctx, path)
}

func (p *Page) WriteFile(ctx context.Context, path, content string) error {
	return p.surface.WriteFile(ctx, path, content)
}

func (p *Page) RemoveFile(ctx context.Context, path string) error {
	return p.surface.RemoveFile(ctx, path)
}

func (p *Page) OpenFile(ctx context.Context, path string) error {
	return p.surface.OpenFile(ctx, path)
}

// ActiveFile returns the vault path of the active file, or "" when none.
func (p *Page) ActiveFile(ctx context.Context) (string, error) {
	return p.surface.ActiveFilePath(ctx)
}

func (p *Page) ActiveViewType(ctx context.Context) (string, error) {
	return p.surface.ActiveViewType(ctx)
}

func (p *Page) TabTitle(ctx context.Context) (string, error) {
	return p.surface.ActiveTabTitle(ctx)
}

func (p *Page) OpenFiles(ctx context.Context) ([]string, error) {
	return p.surface.OpenFiles(ctx)
}

// WaitForView waits until a leaf of viewType exists and returns a handle to
// its view. The handle goes stale when the window reloads.
func (p *Page) WaitForView(ctx context.Context, viewType string) (*cdp.Handle, error) {
	if err := readiness.Poll(ctx, "view "+viewType, p.cfg.ReadyTimeout, p.cfg.PollInterval,
		func(ctx context.Context) (bool, error) { return p.surface.HasLeafOfType(ctx, viewType) }); err != nil {
		return nil, err
	}
	return p.surface.ViewOfType(ctx, viewType)
}

// ActivateView focuses the first leaf of viewType.
func (p *Page) ActivateView(ctx context.Context, viewType string) error {
	ok, err := p.surface.ActivateLeafOfType(ctx, viewType)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no leaf of type %s", viewType)
	}
	return nil
}

// Plugin returns a handle to the loaded plugin object with the given id,
// looked up in the registry captured when the vault opened.
func (p *Page) Plugin(ctx context.Context, id string) (*cdp.Handle, error) {
	h, err := p.vc.Window.CallOnHandle(ctx, p.vc.Plugins, `function(id) { return this[id]; }`, id)
	if errors.Is(err, cdp.ErrNoObject) {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotLoaded, id)
	}
	return h, err
}

// CallPlugin calls fn with the plugin object as this and decodes the result.
func (p *Page) CallPlugin(ctx context.Context, id, fn string, result any, args ...any) error {
	h, err := p.Plugin(ctx, id)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.vc.Window.Release(ctx, h); err != nil {
			p.logger.Debug("failed to release plugin handle", "id", id, "err", err)
		}
	}()
	return p.vc.Window.CallOn(ctx, h, fn, result, args...)
}

// Eval runs a JavaScript expression in the vault window. It is the escape
// hatch for queries the page object does not cover.
func (p *Page) Eval(ctx context.Context, expr string, result any) error {
	return p.vc.Window.Evaluate(ctx, expr, result)
}
