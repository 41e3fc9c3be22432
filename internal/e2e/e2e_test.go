//go:build e2e

package e2e

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sergeknystautas/vaultdrive/internal/fixture"
	"github.com/sergeknystautas/vaultdrive/internal/host"
	"github.com/sergeknystautas/vaultdrive/internal/ipc"
	"github.com/sergeknystautas/vaultdrive/internal/launcher"
	"github.com/sergeknystautas/vaultdrive/internal/page"
)

// TestE2ELaunch checks the launch postcondition: one ready window.
func TestE2ELaunch(t *testing.T) {
	env := New(t)

	ws := env.Launcher.Windows()
	if len(ws) != 1 {
		t.Fatalf("Expected exactly one window after launch, got %d", len(ws))
	}
	ready, err := host.New(ws[0]).Ready(env.Ctx(), host.ScreenOf(ws[0].URL()))
	if err != nil {
		t.Fatalf("Readiness query failed: %v", err)
	}
	if !ready {
		t.Errorf("Window %s is not ready", ws[0].URL())
	}
	if !env.Launcher.Running() {
		t.Error("Host process is not running")
	}
}

// TestE2ESandboxNoPlugins opens a fresh sandbox vault with zero fixtures.
func TestE2ESandboxNoPlugins(t *testing.T) {
	env := New(t)

	vc, err := env.Launcher.OpenVault(env.Ctx(), launcher.VaultOptions{Sandbox: true, ForceRecreate: true})
	if err != nil {
		t.Fatalf("Failed to open sandbox: %v", err)
	}
	if vc.Name != env.Config.SandboxName {
		t.Errorf("Expected vault name %q, got %q", env.Config.SandboxName, vc.Name)
	}
	if ids, ok := env.EnabledPlugins(vc.Path); ok {
		t.Errorf("Expected no enabled plugins file, found %v", ids)
	}
}

// TestE2ESandboxPathRoundTrip opens the sandbox path as a normal vault and
// expects the same name back.
func TestE2ESandboxPathRoundTrip(t *testing.T) {
	env := New(t)

	path, err := env.Launcher.Bridge().SandboxPath(env.Ctx())
	if err != nil {
		t.Fatalf("Failed to get sandbox path: %v", err)
	}
	vc, err := env.Launcher.OpenVault(env.Ctx(), launcher.VaultOptions{Path: path})
	if err != nil {
		t.Fatalf("Failed to open %s: %v", path, err)
	}
	if vc.Name != filepath.Base(path) {
		t.Errorf("Expected vault name %q, got %q", filepath.Base(path), vc.Name)
	}
}

// TestE2ECopyFixture installs one copied plugin into a new vault.
func TestE2ECopyFixture(t *testing.T) {
	env := New(t)
	vault := filepath.Join(t.TempDir(), "copy-fixture")
	src := env.WriteDemoPlugin("demo")

	var p *page.Page
	t.Run("OpenVault", func(t *testing.T) {
		var err error
		p, err = page.Open(env.Ctx(), env.Launcher, launcher.VaultOptions{
			Path:    vault,
			Plugins: []fixture.Plugin{{ID: "demo", Source: src, Mode: fixture.ModeCopy}},
		})
		if err != nil {
			t.Fatalf("Failed to open vault: %v", err)
		}
	})
	if p == nil {
		t.FailNow()
	}

	t.Run("EnabledFile", func(t *testing.T) {
		ids, ok := env.EnabledPlugins(vault)
		if !ok || len(ids) != 1 || ids[0] != "demo" {
			t.Errorf(`Expected ["demo"], got %v (exists=%v)`, ids, ok)
		}
	})

	t.Run("PluginEnabled", func(t *testing.T) {
		on, err := p.Surface().PluginEnabled(env.Ctx(), "demo")
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if !on {
			t.Error("Plugin demo is not enabled")
		}
		if _, err := p.Plugin(env.Ctx(), "demo"); err != nil {
			t.Errorf("Plugin demo not in registry: %v", err)
		}
	})

	t.Run("SingleWindow", func(t *testing.T) {
		if n := len(env.Launcher.Windows()); n != 1 {
			t.Errorf("Expected one window, got %d", n)
		}
	})
}

// TestE2EPageObject exercises files and navigation in a fresh vault.
func TestE2EPageObject(t *testing.T) {
	env := New(t)
	p, err := page.Open(env.Ctx(), env.Launcher, launcher.VaultOptions{Path: filepath.Join(t.TempDir(), "pages")})
	if err != nil {
		t.Fatalf("Failed to open vault: %v", err)
	}
	ctx := env.Ctx()

	if err := p.WriteFile(ctx, "hello.md", "# Hello\n"); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := p.OpenFile(ctx, "hello.md"); err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	active, err := p.ActiveFile(ctx)
	if err != nil || active != "hello.md" {
		t.Errorf("Expected active file hello.md, got %q (%v)", active, err)
	}
	if err := p.SplitVertical(ctx); err != nil {
		t.Errorf("SplitVertical failed: %v", err)
	}
	if err := p.GotoTab(ctx, 1); err != nil {
		t.Errorf("GotoTab failed: %v", err)
	}
	if err := p.RemoveFile(ctx, "hello.md"); err != nil {
		t.Errorf("RemoveFile failed: %v", err)
	}
	if ok, _ := p.FileExists(ctx, "hello.md"); ok {
		t.Error("hello.md still exists after removal")
	}
}

// TestE2ERejectedOpen opens a path the host cannot use and expects its
// failure text back with no orphaned window.
func TestE2ERejectedOpen(t *testing.T) {
	env := New(t)

	_, err := env.Launcher.Bridge().OpenVault(env.Ctx(), filepath.Join(t.TempDir(), "missing"), false)
	if err == nil {
		t.Fatal("Expected opening a missing vault without create to fail")
	}
	var re *ipc.RemoteError
	if !errors.As(err, &re) || strings.TrimSpace(re.Reply) == "" {
		t.Errorf("Expected a remote error with the host's reply, got %v", err)
	}
	if n := len(env.Launcher.Windows()); n != 1 {
		t.Errorf("Expected one window after a rejected open, got %d", n)
	}
}

// TestE2EStarterTransition goes vault → starter and checks the old window
// and its handles are gone.
func TestE2EStarterTransition(t *testing.T) {
	env := New(t)
	vc, err := env.Launcher.OpenVault(env.Ctx(), launcher.VaultOptions{Sandbox: true})
	if err != nil {
		t.Fatalf("Failed to open sandbox: %v", err)
	}
	w, err := env.Launcher.OpenStarter(env.Ctx())
	if err != nil {
		t.Fatalf("Failed to open starter: %v", err)
	}
	if host.ScreenOf(w.URL()) != host.ScreenStarter {
		t.Errorf("Expected starter window, got %s", w.URL())
	}
	if !vc.Window.Closed() || vc.Plugins.Valid() {
		t.Error("Vault window or its handles survived the transition")
	}
}
