// Package ipc is the request/response bridge into the host's main process.
// Each request is a synchronous renderer-to-main IPC message sent from the
// single active window; requests that switch vaults are wrapped in the
// launcher's new-window transition so no stale window survives them.
package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/sergeknystautas/vaultdrive/internal/cdp"
	"github.com/sergeknystautas/vaultdrive/internal/host"
	"github.com/sergeknystautas/vaultdrive/internal/logging"
)

// Main-process channels.
const (
	ChannelOpenVault   = "vault-open"
	ChannelSandbox     = "sandbox"
	ChannelSandboxPath = "get-sandbox-vault-path"
	ChannelStarter     = "starter"
	ChannelListVaults  = "vault-list"
	ChannelRemoveVault = "vault-remove"
)

// ErrRemote is matched by every *RemoteError.
var ErrRemote = errors.New("host rejected request")

// RemoteError carries the host's failure reply verbatim.
type RemoteError struct {
	Op    string
	Reply string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: host replied %s", e.Op, e.Reply)
}

func (e *RemoteError) Unwrap() error { return ErrRemote }

// Action runs against the canonical window of a transition.
type Action func(ctx context.Context, w *cdp.Window) error

// WindowKeeper is the part of the launcher the bridge relies on.
type WindowKeeper interface {
	// EnsureSingleWindow converges to exactly one ready window and returns it.
	EnsureSingleWindow(ctx context.Context) (*cdp.Window, error)
	// ExecuteActionAndWaitForNewWindow runs action, waits for a window it
	// causes to open and for that window to reach screen, then closes every
	// window that existed before.
	ExecuteActionAndWaitForNewWindow(ctx context.Context, action Action, screen host.Screen) (*cdp.Window, error)
}

// Vault is an entry of the host's known vault list.
type Vault struct {
	ID   string
	Path string
	Open bool
}

// Bridge issues IPC requests. At most one request is in flight.
type Bridge struct {
	keeper WindowKeeper
	logger *log.Logger
	mu     sync.Mutex
}

func New(keeper WindowKeeper, logger *log.Logger) *Bridge {
	return &Bridge{keeper: keeper, logger: logging.Or(logger)}
}

// Send issues one synchronous request on w and decodes the reply into
// result. It does not converge windows; callers outside a Bridge use it while
// no bridge exists yet.
func Send(ctx context.Context, w *cdp.Window, channel string, result any, args ...any) error {
	callArgs := append([]any{channel}, args...)
	expr, err := host.Expr(`(...args) => require('electron').ipcRenderer.sendSync(...args)`, callArgs...)
	if err != nil {
		return err
	}
	if err := w.Evaluate(ctx, expr, result); err != nil {
		return fmt.Errorf("ipc %s: %w", channel, err)
	}
	return nil
}

func replyText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "undefined"
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// OpenVault asks the host to open the vault at path, creating it when
// create is set, and returns the new vault window once its layout is ready.
// Only a literal true reply counts as success.
func (b *Bridge) OpenVault(ctx context.Context, path string, create bool) (*cdp.Window, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.keeper.EnsureSingleWindow(ctx); err != nil {
		return nil, err
	}
	b.logger.Info("opening vault", "path", path, "create", create)
	w, err := b.keeper.ExecuteActionAndWaitForNewWindow(ctx, func(ctx context.Context, w *cdp.Window) error {
		var reply json.RawMessage
		if err := Send(ctx, w, ChannelOpenVault, &reply, path, create); err != nil {
			return err
		}
		if !bytes.Equal(bytes.TrimSpace(reply), []byte("true")) {
			return &RemoteError{Op: "open vault " + path, Reply: replyText(reply)}
		}
		return nil
	}, host.ScreenVault)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// OpenSandbox opens the sandbox vault.
func (b *Bridge) OpenSandbox(ctx context.Context) (*cdp.Window, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.keeper.EnsureSingleWindow(ctx); err != nil {
		return nil, err
	}
	b.logger.Info("opening sandbox vault")
	return b.keeper.ExecuteActionAndWaitForNewWindow(ctx, func(ctx context.Context, w *cdp.Window) error {
		return Send(ctx, w, ChannelSandbox, nil)
	}, host.ScreenVault)
}

// SandboxPath returns the absolute path of the sandbox vault.
func (b *Bridge) SandboxPath(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	w, err := b.keeper.EnsureSingleWindow(ctx)
	if err != nil {
		return "", err
	}
	var path string
	if err := Send(ctx, w, ChannelSandboxPath, &path); err != nil {
		return "", err
	}
	if path == "" {
		return "", &RemoteError{Op: "sandbox path", Reply: "empty path"}
	}
	return path, nil
}

// OpenStarter returns to the vault chooser.
func (b *Bridge) OpenStarter(ctx context.Context) (*cdp.Window, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.keeper.EnsureSingleWindow(ctx); err != nil {
		return nil, err
	}
	b.logger.Info("opening starter")
	return b.keeper.ExecuteActionAndWaitForNewWindow(ctx, func(ctx context.Context, w *cdp.Window) error {
		return Send(ctx, w, ChannelStarter, nil)
	}, host.ScreenStarter)
}

// ListVaults returns the vaults the host knows about, keyed by display
// name (the base name of the vault directory).
func (b *Bridge) ListVaults(ctx context.Context) (map[string]Vault, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	w, err := b.keeper.EnsureSingleWindow(ctx)
	if err != nil {
		return nil, err
	}
	var reply map[string]struct {
		Path string `json:"path"`
		Open bool   `json:"open"`
	}
	if err := Send(ctx, w, ChannelListVaults, &reply); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(reply))
	for id := range reply {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	vaults := make(map[string]Vault, len(reply))
	for _, id := range ids {
		v := reply[id]
		name := filepath.Base(v.Path)
		if prev, dup := vaults[name]; dup {
			b.logger.Warn("duplicate vault name", "name", name, "kept", prev.Path, "ignored", v.Path)
			continue
		}
		vaults[name] = Vault{ID: id, Path: v.Path, Open: v.Open}
	}
	return vaults, nil
}

// RemoveVault drops the vault at path from the host's list. Files on disk
// are left alone.
func (b *Bridge) RemoveVault(ctx context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	w, err := b.keeper.EnsureSingleWindow(ctx)
	if err != nil {
		return err
	}
	b.logger.Debug("removing vault from list", "path", path)
	return Send(ctx, w, ChannelRemoveVault, nil, path)
}
