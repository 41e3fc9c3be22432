package cdp_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergeknystautas/vaultdrive/internal/cdp"
	"github.com/sergeknystautas/vaultdrive/internal/cdp/cdptest"
)

func dial(t *testing.T, srv *cdptest.Server) *cdp.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := cdp.Dial(ctx, srv.URL(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func nextTargetEvent(t *testing.T, conn *cdp.Conn) cdp.TargetEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-conn.Events():
			require.True(t, ok, "events channel closed")
			te, isTarget, err := cdp.DecodeTargetEvent(ev)
			require.NoError(t, err)
			if isTarget {
				return te
			}
		case <-deadline:
			t.Fatal("timed out waiting for target event")
		}
	}
}

func attachFirst(t *testing.T, srv *cdptest.Server, conn *cdp.Conn) (*cdp.Window, *cdptest.Window) {
	t.Helper()
	fake := srv.OpenWindow("app://obsidian.md/index.html")
	ctx := context.Background()
	infos, err := conn.Targets(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	w, err := cdp.AttachWindow(ctx, conn, infos[0], 1)
	require.NoError(t, err)
	return w, fake
}

func TestTargetDiscovery(t *testing.T) {
	srv := cdptest.New()
	defer srv.Close()
	existing := srv.OpenWindow("app://obsidian.md/starter.html")

	conn := dial(t, srv)
	require.NoError(t, conn.DiscoverTargets(context.Background()))

	te := nextTargetEvent(t, conn)
	assert.Equal(t, cdproto.EventTargetTargetCreated, te.Method)
	assert.Equal(t, existing.ID, te.ID)
	assert.True(t, cdp.IsWindow(te.Info))

	added := srv.OpenWindow("app://obsidian.md/index.html")
	te = nextTargetEvent(t, conn)
	assert.Equal(t, added.ID, te.ID)
	assert.Equal(t, "app://obsidian.md/index.html", te.Info.URL)

	srv.CloseWindow(existing.ID)
	te = nextTargetEvent(t, conn)
	assert.Equal(t, cdproto.EventTargetTargetDestroyed, te.Method)
	assert.Equal(t, existing.ID, te.ID)
}

func TestIsWindow(t *testing.T) {
	assert.False(t, cdp.IsWindow(nil))
	assert.False(t, cdp.IsWindow(&target.Info{Type: "service_worker"}))
	assert.False(t, cdp.IsWindow(&target.Info{Type: "page", URL: "devtools://devtools/bundled/inspector.html"}))
	assert.True(t, cdp.IsWindow(&target.Info{Type: "page", URL: "app://obsidian.md/index.html"}))
}

func TestEvaluate(t *testing.T) {
	srv := cdptest.New()
	defer srv.Close()
	srv.HandleEval(func(w *cdptest.Window, expr string) (any, error) {
		switch expr {
		case "app.vault.getName()":
			return "Obsidian Sandbox", nil
		case "boom()":
			return nil, errors.New("ReferenceError: boom is not defined")
		}
		return nil, nil
	})
	conn := dial(t, srv)
	w, _ := attachFirst(t, srv, conn)

	var name string
	require.NoError(t, w.Evaluate(context.Background(), "app.vault.getName()", &name))
	assert.Equal(t, "Obsidian Sandbox", name)

	err := w.Evaluate(context.Background(), "boom()", nil)
	var evalErr *cdp.EvalError
	require.ErrorAs(t, err, &evalErr)
	assert.Contains(t, evalErr.Text, "boom is not defined")

	// undefined leaves the destination untouched
	name = "unchanged"
	require.NoError(t, w.Evaluate(context.Background(), "void 0", &name))
	assert.Equal(t, "unchanged", name)
}

func TestHandleLifecycle(t *testing.T) {
	srv := cdptest.New()
	defer srv.Close()
	srv.HandleEval(func(w *cdptest.Window, expr string) (any, error) {
		return map[string]any{"demo": true}, nil
	})
	srv.HandleCall(func(w *cdptest.Window, this any, fn string, args []any) (any, error) {
		m := this.(map[string]any)
		_, ok := m[args[0].(string)]
		return ok, nil
	})
	conn := dial(t, srv)
	w, _ := attachFirst(t, srv, conn)
	ctx := context.Background()

	h, err := w.EvaluateHandle(ctx, "app.plugins.plugins")
	require.NoError(t, err)
	assert.True(t, h.Valid())
	assert.Same(t, w, h.Window())

	var has bool
	require.NoError(t, w.CallOn(ctx, h, "function(id) { return id in this }", &has, "demo"))
	assert.True(t, has)

	require.NoError(t, w.Reload(ctx))
	assert.False(t, h.Valid())
	err = w.CallOn(ctx, h, "function(id) { return id in this }", &has, "demo")
	assert.ErrorIs(t, err, cdp.ErrStaleHandle)
	assert.Equal(t, 1, srv.Windows()[0].Reloads())
}

func TestHandleInvalidatedByClose(t *testing.T) {
	srv := cdptest.New()
	defer srv.Close()
	srv.HandleEval(func(w *cdptest.Window, expr string) (any, error) {
		return map[string]any{}, nil
	})
	conn := dial(t, srv)
	w, _ := attachFirst(t, srv, conn)
	ctx := context.Background()

	h, err := w.EvaluateHandle(ctx, "app.plugins.plugins")
	require.NoError(t, err)

	require.NoError(t, w.Close(ctx))
	assert.True(t, w.Closed())
	assert.Empty(t, srv.Windows())
	assert.ErrorIs(t, w.CallOn(ctx, h, "function() {}", nil), cdp.ErrStaleHandle)
	assert.ErrorIs(t, w.Evaluate(ctx, "1", nil), cdp.ErrWindowClosed)

	// closing twice is a no-op
	require.NoError(t, w.Close(ctx))
}

func TestNavigationInvalidatesHandle(t *testing.T) {
	srv := cdptest.New()
	defer srv.Close()
	srv.HandleEval(func(w *cdptest.Window, expr string) (any, error) {
		return map[string]any{}, nil
	})
	conn := dial(t, srv)
	w, _ := attachFirst(t, srv, conn)

	h, err := w.EvaluateHandle(context.Background(), "app.plugins.plugins")
	require.NoError(t, err)

	w.SetURL(w.URL())
	assert.True(t, h.Valid(), "same URL keeps the document")
	w.SetURL("app://obsidian.md/starter.html")
	assert.False(t, h.Valid())
}

func TestAddInitScript(t *testing.T) {
	srv := cdptest.New()
	defer srv.Close()
	conn := dial(t, srv)
	w, fake := attachFirst(t, srv, conn)

	require.NoError(t, w.AddInitScript(context.Background(), "window.__vaultdrive = true"))
	assert.Equal(t, []string{"window.__vaultdrive = true"}, fake.Scripts())
}

func TestExecuteProtocolError(t *testing.T) {
	srv := cdptest.New()
	defer srv.Close()
	conn := dial(t, srv)

	_, err := conn.Attach(context.Background(), "no-such-target")
	var perr *cdp.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "Target.attachToTarget", perr.Method)
	assert.True(t, strings.Contains(perr.Error(), "No target"))
}

func TestExecuteContextTimeout(t *testing.T) {
	srv := cdptest.New()
	defer srv.Close()
	release := make(chan struct{})
	defer close(release)
	srv.HandleEval(func(w *cdptest.Window, expr string) (any, error) {
		<-release
		return nil, nil
	})
	conn := dial(t, srv)
	w, _ := attachFirst(t, srv, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := w.Evaluate(ctx, "new Promise(() => {})", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecuteAfterClose(t *testing.T) {
	srv := cdptest.New()
	defer srv.Close()
	conn := dial(t, srv)
	require.NoError(t, conn.Close())

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed")
	}
	err := conn.DiscoverTargets(context.Background())
	assert.ErrorIs(t, err, cdp.ErrClosed)
}

func TestParseActivePort(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "complete", input: "9222\n/devtools/browser/abc-123\n", want: "ws://127.0.0.1:9222/devtools/browser/abc-123"},
		{name: "crlf and spacing", input: " 40123 \r\n/devtools/browser/x\r\n", want: "ws://127.0.0.1:40123/devtools/browser/x"},
		{name: "missing path", input: "9222\n", wantErr: true},
		{name: "bad port", input: "port\n/devtools/browser/x\n", wantErr: true},
		{name: "port out of range", input: "70000\n/devtools/browser/x\n", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cdp.ParseActivePort([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
