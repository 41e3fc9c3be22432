// Package host is the typed capability surface over the host application's
// in-page API. The API is owned and versioned by the host, so every query is
// a small, independently testable JavaScript expression; nothing outside this
// package writes JavaScript against app.*.
package host

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sergeknystautas/vaultdrive/internal/cdp"
)

// Evaluator runs expressions in one window.
type Evaluator interface {
	Evaluate(ctx context.Context, expr string, result any) error
	EvaluateHandle(ctx context.Context, expr string) (*cdp.Handle, error)
}

// Settings tab that hosts the community plugin switch.
const CommunityPluginsTab = "community-plugins"

// Expr renders fn (a JavaScript function expression) applied to args, each
// encoded as a JSON literal.
func Expr(fn string, args ...any) (string, error) {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("failed to encode argument %v: %w", a, err)
		}
		parts = append(parts, string(b))
	}
	return "(" + fn + ")(" + strings.Join(parts, ", ") + ")", nil
}

// Surface issues host API queries against one window.
type Surface struct {
	ev Evaluator
}

func New(ev Evaluator) *Surface {
	return &Surface{ev: ev}
}

func (s *Surface) eval(ctx context.Context, result any, fn string, args ...any) error {
	expr, err := Expr(fn, args...)
	if err != nil {
		return err
	}
	return s.ev.Evaluate(ctx, expr, result)
}

// StarterReady reports whether the starter screen finished loading and can
// reach the main process.
func (s *Surface) StarterReady(ctx context.Context) (bool, error) {
	var ok bool
	err := s.eval(ctx, &ok, `() => document.readyState === 'complete' && typeof require === 'function'`)
	return ok, err
}

// LayoutReady resolves once the vault workspace layout is ready. It reports
// false while the app global does not exist yet.
func (s *Surface) LayoutReady(ctx context.Context) (bool, error) {
	var ok bool
	err := s.eval(ctx, &ok, `() => {
		if (typeof app === 'undefined' || !app.workspace) return false;
		return new Promise(resolve => app.workspace.onLayoutReady(() => resolve(true)));
	}`)
	return ok, err
}

// VaultName returns the display name of the open vault.
func (s *Surface) VaultName(ctx context.Context) (string, error) {
	var name string
	err := s.eval(ctx, &name, `() => app.vault.getName()`)
	return name, err
}

// ExecuteCommand runs a command by id and returns the host's success flag.
func (s *Surface) ExecuteCommand(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := s.eval(ctx, &ok, `id => app.commands.executeCommandById(id) === true`, id)
	return ok, err
}

// Version returns the host application version. Older hosts do not answer
// the version channel; the user agent carries it too.
func (s *Surface) Version(ctx context.Context) (string, error) {
	var v string
	err := s.eval(ctx, &v, `() => {
		try {
			const v = require('electron').ipcRenderer.sendSync('version');
			if (typeof v === 'string' && v) return v;
		} catch (e) {}
		const m = navigator.userAgent.match(/obsidian\/([0-9][0-9.]*)/i);
		return m ? m[1] : '';
	}`)
	return v, err
}

// SetFlag assigns a boolean global on window.
func (s *Surface) SetFlag(ctx context.Context, name string, v bool) error {
	return s.eval(ctx, nil, `(name, v) => { window[name] = v; }`, name, v)
}

// Flag reads a boolean global from window.
func (s *Surface) Flag(ctx context.Context, name string) (bool, error) {
	var v bool
	err := s.eval(ctx, &v, `name => window[name] === true`, name)
	return v, err
}

// Location returns the current document URL.
func (s *Surface) Location(ctx context.Context) (string, error) {
	var href string
	err := s.eval(ctx, &href, `() => window.location.href`)
	return href, err
}
