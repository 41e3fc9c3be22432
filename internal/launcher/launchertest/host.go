// Package launchertest provides a scripted host application for launcher
// and page object tests. It acts as the launcher's process Starter: starting
// it announces a cdptest endpoint in the profile directory and opens the
// starter window. In-page queries are answered from an in-memory model of
// vaults, windows, plugins and files.
package launchertest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/sergeknystautas/vaultdrive/internal/cdp"
	"github.com/sergeknystautas/vaultdrive/internal/cdp/cdptest"
	"github.com/sergeknystautas/vaultdrive/internal/host"
	"github.com/sergeknystautas/vaultdrive/internal/launcher"
)

const (
	StarterURL = "app://obsidian.md/starter.html"
	VaultURL   = "app://obsidian.md/index.html"
)

// window var holding the vault path of a vault window
const vaultVar = "vault"

// Host is the fake application. Fields set before Launch tune its behavior.
type Host struct {
	Server *cdptest.Server

	// Version is answered on the version channel.
	Version string
	// SandboxDir is where the sandbox vault lives.
	SandboxDir string
	// Reject maps vault paths to the failure reply of vault-open.
	Reject map[string]string
	// PluginsOn is the initial community plugins switch.
	PluginsOn bool
	// FailCommands lists command ids that report failure.
	FailCommands map[string]bool
	// Stray maps IPC channels to the URL of an extra window the host opens
	// right after handling them, as a host with a restored workspace would.
	Stray map[string]string

	mu       sync.Mutex
	vaults   map[string]string // host vault id → path
	nextID   int
	files    map[string]map[string]string
	enabled  map[string]bool
	active   map[string]string // vault → active file
	open     map[string][]string
	leaves   map[string][]string
	commands []string
	channels []string
	settings bool
	labels   []string
	starts   int
	procs    []*Process
}

// New returns a host with an empty vault list. The server is closed when the
// test ends.
func New(t testing.TB) *Host {
	t.Helper()
	h := &Host{
		Server:       cdptest.New(),
		Version:      "1.6.7",
		SandboxDir:   filepath.Join(t.TempDir(), "Obsidian Sandbox"),
		Reject:       make(map[string]string),
		FailCommands: make(map[string]bool),
		Stray:        make(map[string]string),
		vaults:       make(map[string]string),
		files:        make(map[string]map[string]string),
		enabled:      make(map[string]bool),
		active:       make(map[string]string),
		open:         make(map[string][]string),
		leaves:       make(map[string][]string),
		labels:       []string{host.LabelTurnOnAndReload, host.LabelTurnOnPlugins},
	}
	h.Server.HandleEval(h.eval)
	h.Server.HandleCall(h.call)
	t.Cleanup(h.Server.Close)
	return h
}

// Remember adds a vault to the host's list as if opened in an earlier run.
func (h *Host) Remember(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rememberLocked(path)
}

func (h *Host) rememberLocked(p string) {
	for _, known := range h.vaults {
		if known == p {
			return
		}
	}
	h.nextID++
	h.vaults[fmt.Sprintf("v%04d", h.nextID)] = p
}

// Known returns the remembered vault paths, sorted.
func (h *Host) Known() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.vaults))
	for _, p := range h.vaults {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Channels returns the IPC channels received, in order.
func (h *Host) Channels() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.channels...)
}

// Commands returns the command ids executed, in order.
func (h *Host) Commands() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.commands...)
}

// Enabled reports whether a plugin was enabled through the host API.
func (h *Host) Enabled(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enabled[id]
}

// SetFile seeds a file in a vault.
func (h *Host) SetFile(vault, name, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.vaultFiles(vault)[name] = content
}

// File returns a file of a vault.
func (h *Host) File(vault, name string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.files[vault][name]
	return c, ok
}

// AddLeaf makes a view of the given type appear in the vault's workspace.
func (h *Host) AddLeaf(vault, viewType string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaves[vault] = append(h.leaves[vault], viewType)
}

// Starts is the number of host processes started.
func (h *Host) Starts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.starts
}

// Stopped reports whether every started process was stopped.
func (h *Host) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range h.procs {
		select {
		case <-p.exited:
		default:
			return false
		}
	}
	return true
}

// Start implements launcher.Starter.
func (h *Host) Start(cmd launcher.Command) (launcher.Process, error) {
	var profile string
	for _, a := range cmd.Args {
		if v, ok := strings.CutPrefix(a, "--user-data-dir="); ok {
			profile = v
		}
	}
	if profile == "" {
		return nil, errors.New("launchertest: no --user-data-dir")
	}
	if err := os.WriteFile(filepath.Join(profile, cdp.ActivePortFile), h.Server.ActivePort(), 0644); err != nil {
		return nil, err
	}
	h.Server.OpenWindow(StarterURL)

	p := &Process{exited: make(chan struct{}), args: cmd.Args}
	h.mu.Lock()
	h.starts++
	h.procs = append(h.procs, p)
	h.mu.Unlock()
	return p, nil
}

// Process is the fake host process. It lives as long as the test process.
type Process struct {
	args   []string
	once   sync.Once
	exited chan struct{}
}

// Args are the arguments the process was started with.
func (p *Process) Args() []string { return p.args }

func (p *Process) Pid() int                { return os.Getpid() }
func (p *Process) Output() io.Reader       { return strings.NewReader("fake host started\n") }
func (p *Process) Exited() <-chan struct{} { return p.exited }

func (p *Process) Stop(ctx context.Context) error {
	p.once.Do(func() { close(p.exited) })
	return nil
}

func (h *Host) vaultFiles(vault string) map[string]string {
	m, ok := h.files[vault]
	if !ok {
		m = make(map[string]string)
		h.files[vault] = m
	}
	return m
}

func (h *Host) openVaultWindow(p string) {
	w := h.Server.OpenWindow(VaultURL)
	w.Set(vaultVar, p)
}

func vaultOf(w *cdptest.Window) string {
	v, _ := w.Get(vaultVar).(string)
	return v
}

func strArg(args []any, i int) string {
	if i >= len(args) {
		return ""
	}
	s, _ := args[i].(string)
	return s
}

// eval answers Runtime.evaluate. Window changes are made outside h.mu since
// opening a window broadcasts to the launcher.
func (h *Host) eval(w *cdptest.Window, expr string) (any, error) {
	if ch, args, ok := cdptest.IPC(expr); ok {
		return h.ipc(ch, args)
	}
	_, args, _ := cdptest.ParseCall(expr)
	vault := vaultOf(w)
	inVault := vault != ""

	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case strings.Contains(expr, "document.readyState"):
		return true, nil
	case strings.Contains(expr, "onLayoutReady"):
		return inVault, nil
	case strings.Contains(expr, "window[name] = v"):
		w.Set(strArg(args, 0), args[1])
		return nil, nil
	case strings.Contains(expr, "window[name] === true"):
		v, _ := w.Get(strArg(args, 0)).(bool)
		return v, nil
	case strings.Contains(expr, "window.location.href"):
		return w.URL(), nil
	case strings.Contains(expr, "userAgent"):
		return h.Version, nil
	}

	if !inVault {
		return nil, errors.New("ReferenceError: app is not defined")
	}

	switch {
	case expr == "app.plugins.plugins":
		reg := map[string]any{}
		for id, on := range h.enabled {
			if on {
				reg[id] = map[string]any{"id": id, "manifest": map[string]any{"id": id}}
			}
		}
		return reg, nil
	case strings.Contains(expr, "app.vault.getName()"):
		return path.Base(filepath.ToSlash(vault)), nil

	case strings.Contains(expr, "typeof app.plugins.isEnabled"):
		return true, nil
	case strings.Contains(expr, "app.plugins.isEnabled() === true"):
		return h.PluginsOn, nil
	case strings.Contains(expr, "app.setting.open()"):
		h.settings = true
		return nil, nil
	case strings.Contains(expr, "app.setting.close()"):
		h.settings = false
		return nil, nil
	case strings.Contains(expr, "b.textContent.trim()"):
		if !h.settings || h.PluginsOn || len(h.labels) == 0 {
			return "", nil
		}
		return h.labels[0], nil
	case strings.Contains(expr, "b.click()"):
		if !h.settings || len(h.labels) == 0 {
			return false, nil
		}
		clicked := h.labels[0]
		h.labels = h.labels[1:]
		switch clicked {
		case host.LabelTurnOnAndReload:
			h.settings = false
			h.Server.Reload(w.ID)
		case host.LabelTurnOnPlugins:
			h.PluginsOn = true
		}
		return true, nil
	case strings.Contains(expr, "loadManifests"):
		return nil, nil
	case strings.Contains(expr, "enablePluginAndSave"):
		id := strArg(args, 0)
		if _, err := os.Stat(filepath.Join(vault, ".obsidian", "plugins", id, "manifest.json")); err != nil {
			return nil, fmt.Errorf("Error: plugin %s not found", id)
		}
		h.enabled[id] = true
		return true, nil
	case strings.Contains(expr, "enabledPlugins.has"):
		return h.enabled[strArg(args, 0)], nil
	case strings.Contains(expr, "getPlugin("):
		return h.enabled[strArg(args, 0)], nil

	case strings.Contains(expr, "executeCommandById"):
		id := strArg(args, 0)
		h.commands = append(h.commands, id)
		return !h.FailCommands[id], nil

	case strings.Contains(expr, "adapter.exists"):
		_, ok := h.files[vault][strArg(args, 0)]
		return ok, nil
	case strings.Contains(expr, "adapter.read"):
		c, ok := h.files[vault][strArg(args, 0)]
		if !ok {
			return nil, fmt.Errorf("Error: ENOENT: no such file or directory, open '%s'", strArg(args, 0))
		}
		return c, nil
	case strings.Contains(expr, "adapter.write"):
		h.vaultFiles(vault)[strArg(args, 0)] = strArg(args, 1)
		return nil, nil
	case strings.Contains(expr, "adapter.remove"):
		name := strArg(args, 0)
		if _, ok := h.files[vault][name]; !ok {
			return nil, fmt.Errorf("Error: ENOENT: no such file or directory, unlink '%s'", name)
		}
		delete(h.files[vault], name)
		return nil, nil
	case strings.Contains(expr, "openLinkText"):
		name := strArg(args, 0)
		h.active[vault] = name
		h.open[vault] = append(h.open[vault], name)
		return nil, nil
	case strings.Contains(expr, "getActiveFile"):
		return h.active[vault], nil
	case strings.Contains(expr, "getViewType"):
		if h.active[vault] == "" {
			return "empty", nil
		}
		return "markdown", nil
	case strings.Contains(expr, "getDisplayText"):
		return strings.TrimSuffix(path.Base(h.active[vault]), ".md"), nil
	case strings.Contains(expr, "iterateAllLeaves"):
		return append([]string{}, h.open[vault]...), nil
	case strings.Contains(expr, ".length > 0"):
		return h.hasLeaf(vault, strArg(args, 0)), nil
	case strings.Contains(expr, "setActiveLeaf"):
		return h.hasLeaf(vault, strArg(args, 0)), nil
	case strings.Contains(expr, "leaf ? leaf.view : undefined"):
		t := strArg(args, 0)
		if !h.hasLeaf(vault, t) {
			return nil, nil
		}
		return map[string]any{"type": t}, nil
	case strings.Contains(expr, "editor.focus()"), strings.Contains(expr, "editor.setValue('')"):
		return h.active[vault] != "", nil
	}
	return nil, nil
}

func (h *Host) hasLeaf(vault, viewType string) bool {
	for _, t := range h.leaves[vault] {
		if t == viewType {
			return true
		}
	}
	return false
}

func (h *Host) ipc(channel string, args []any) (any, error) {
	h.mu.Lock()
	h.channels = append(h.channels, channel)
	stray, ok := h.Stray[channel]
	h.mu.Unlock()

	v, err := h.handleIPC(channel, args)
	if ok {
		h.Server.OpenWindow(stray)
	}
	return v, err
}

func (h *Host) handleIPC(channel string, args []any) (any, error) {

	switch channel {
	case "vault-list":
		h.mu.Lock()
		defer h.mu.Unlock()
		out := map[string]any{}
		for id, p := range h.vaults {
			out[id] = map[string]any{"path": p, "ts": 1700000000000}
		}
		return out, nil
	case "vault-remove":
		p := strArg(args, 0)
		h.mu.Lock()
		defer h.mu.Unlock()
		for id, known := range h.vaults {
			if known == p {
				delete(h.vaults, id)
			}
		}
		return true, nil
	case "get-sandbox-vault-path":
		return h.SandboxDir, nil
	case "sandbox":
		if err := os.MkdirAll(h.SandboxDir, 0755); err != nil {
			return nil, err
		}
		h.openVaultWindow(h.SandboxDir)
		return nil, nil
	case "starter":
		h.Server.OpenWindow(StarterURL)
		return nil, nil
	case "version":
		return h.Version, nil
	case "vault-open":
		p := strArg(args, 0)
		create, _ := args[1].(bool)
		h.mu.Lock()
		reason, rejected := h.Reject[p]
		h.mu.Unlock()
		if rejected {
			return reason, nil
		}
		if _, err := os.Stat(p); err != nil {
			if !create {
				return "Vault not found.", nil
			}
			if err := os.MkdirAll(p, 0755); err != nil {
				return err.Error(), nil
			}
		}
		h.mu.Lock()
		h.rememberLocked(p)
		h.mu.Unlock()
		h.openVaultWindow(p)
		return true, nil
	}
	return nil, fmt.Errorf("Error: no handler for channel %s", channel)
}

// call answers Runtime.callFunctionOn with property access on the target
// object: a function declaration taking one key returns this[key].
func (h *Host) call(w *cdptest.Window, this any, fn string, args []any) (any, error) {
	obj, ok := this.(map[string]any)
	if !ok {
		return nil, errors.New("TypeError: not an object")
	}
	if len(args) == 1 {
		if key, ok := args[0].(string); ok {
			return obj[key], nil
		}
	}
	return nil, nil
}
