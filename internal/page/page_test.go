package page_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergeknystautas/vaultdrive/internal/cdp"
	"github.com/sergeknystautas/vaultdrive/internal/config"
	"github.com/sergeknystautas/vaultdrive/internal/fixture"
	"github.com/sergeknystautas/vaultdrive/internal/launcher"
	"github.com/sergeknystautas/vaultdrive/internal/launcher/launchertest"
	"github.com/sergeknystautas/vaultdrive/internal/page"
	"github.com/sergeknystautas/vaultdrive/internal/readiness"
)

func setup(t *testing.T, plugins ...fixture.Plugin) (*page.Page, *launchertest.Host, string) {
	t.Helper()
	dir := t.TempDir()
	exe := filepath.Join(dir, "obsidian")
	entry := filepath.Join(dir, "main.js")
	require.NoError(t, os.WriteFile(exe, nil, 0755))
	require.NoError(t, os.WriteFile(entry, nil, 0644))
	cfg := config.Default(config.Paths{Executable: exe, EntryFile: entry})
	cfg.ReadyTimeout = time.Second
	cfg.WindowTimeout = time.Second
	cfg.SettleDelay = time.Millisecond
	cfg.PollInterval = 5 * time.Millisecond

	h := launchertest.New(t)
	h.PluginsOn = true
	l := launcher.New(cfg, launcher.WithStarter(h))
	require.NoError(t, l.Launch(context.Background()))
	t.Cleanup(func() { l.Cleanup(context.Background()) })

	vault := filepath.Join(dir, "vault")
	p, err := page.Open(context.Background(), l, launcher.VaultOptions{Path: vault, Plugins: plugins})
	require.NoError(t, err)
	return p, h, vault
}

func demoPlugin(t *testing.T) fixture.Plugin {
	t.Helper()
	src := filepath.Join(t.TempDir(), "demo")
	require.NoError(t, os.MkdirAll(src, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "manifest.json"), []byte(`{"id": "demo"}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "main.js"), nil, 0644))
	return fixture.Plugin{ID: "demo", Source: src, Mode: fixture.ModeLink}
}

func TestNavigationCommands(t *testing.T) {
	p, h, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, p.SplitVertical(ctx))
	require.NoError(t, p.CloseTab(ctx))
	require.NoError(t, p.ReopenTab(ctx))
	require.NoError(t, p.Back(ctx))
	require.NoError(t, p.Forward(ctx))
	require.NoError(t, p.GotoTab(ctx, 3))
	require.NoError(t, p.GotoTab(ctx, 9))

	assert.Equal(t, []string{
		"workspace:split-vertical",
		"workspace:close",
		"workspace:undo-close-pane",
		"app:go-back",
		"app:go-forward",
		"workspace:goto-tab-3",
		"workspace:goto-last-tab",
	}, h.Commands())
}

func TestGotoTabRange(t *testing.T) {
	p, h, _ := setup(t)
	for _, n := range []int{0, 10, -1} {
		assert.Error(t, p.GotoTab(context.Background(), n), "n=%d", n)
	}
	assert.Empty(t, h.Commands())
}

func TestRunCommandFailure(t *testing.T) {
	p, h, _ := setup(t)
	h.FailCommands["editor:toggle-bold"] = true

	err := p.RunCommand(context.Background(), "editor:toggle-bold")
	assert.ErrorIs(t, err, page.ErrCommandFailed)
	assert.Contains(t, err.Error(), "editor:toggle-bold")
}

func TestFiles(t *testing.T) {
	p, h, vault := setup(t)
	ctx := context.Background()

	ok, err := p.FileExists(ctx, "note.md")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, p.WriteFile(ctx, "note.md", "# hello"))
	ok, err = p.FileExists(ctx, "note.md")
	require.NoError(t, err)
	assert.True(t, ok)
	content, err := p.ReadFile(ctx, "note.md")
	require.NoError(t, err)
	assert.Equal(t, "# hello", content)
	stored, _ := h.File(vault, "note.md")
	assert.Equal(t, "# hello", stored)

	require.NoError(t, p.RemoveFile(ctx, "note.md"))
	_, err = p.ReadFile(ctx, "note.md")
	var evalErr *cdp.EvalError
	require.ErrorAs(t, err, &evalErr)
	assert.Contains(t, evalErr.Text, "ENOENT")
}

func TestActiveFile(t *testing.T) {
	p, h, vault := setup(t)
	ctx := context.Background()

	viewType, err := p.ActiveViewType(ctx)
	require.NoError(t, err)
	assert.Equal(t, "empty", viewType)
	assert.ErrorIs(t, p.FocusEditor(ctx), page.ErrNoEditor)

	h.SetFile(vault, "daily/2024-01-01.md", "")
	require.NoError(t, p.OpenFile(ctx, "daily/2024-01-01.md"))

	active, err := p.ActiveFile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "daily/2024-01-01.md", active)
	viewType, err = p.ActiveViewType(ctx)
	require.NoError(t, err)
	assert.Equal(t, "markdown", viewType)
	title, err := p.TabTitle(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", title)
	files, err := p.OpenFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"daily/2024-01-01.md"}, files)

	assert.NoError(t, p.FocusEditor(ctx))
	assert.NoError(t, p.ClearEditor(ctx))
}

func TestWaitForView(t *testing.T) {
	p, h, vault := setup(t)

	go func() {
		time.Sleep(20 * time.Millisecond)
		h.AddLeaf(vault, "graph")
	}()
	view, err := p.WaitForView(context.Background(), "graph")
	require.NoError(t, err)
	assert.True(t, view.Valid())
	assert.Equal(t, p.Window(), view.Window())
	require.NoError(t, p.ActivateView(context.Background(), "graph"))
}

func TestWaitForViewTimeout(t *testing.T) {
	p, _, _ := setup(t)
	_, err := p.WaitForView(context.Background(), "outline")
	assert.ErrorIs(t, err, readiness.ErrTimeout)
	assert.Error(t, p.ActivateView(context.Background(), "outline"))
}

func TestPlugin(t *testing.T) {
	p, _, _ := setup(t, demoPlugin(t))
	ctx := context.Background()

	h, err := p.Plugin(ctx, "demo")
	require.NoError(t, err)
	assert.True(t, h.Valid())

	var id string
	require.NoError(t, p.CallPlugin(ctx, "demo", `function(k) { return this[k]; }`, &id, "id"))
	assert.Equal(t, "demo", id)

	_, err = p.Plugin(ctx, "missing")
	assert.ErrorIs(t, err, page.ErrPluginNotLoaded)
}

func TestEval(t *testing.T) {
	p, _, _ := setup(t)
	var href string
	require.NoError(t, p.Eval(context.Background(), "(() => window.location.href)()", &href))
	assert.Equal(t, launchertest.VaultURL, href)

	name, path := p.Vault()
	assert.Equal(t, "vault", name)
	assert.Equal(t, "vault", filepath.Base(path))
}
