package host

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergeknystautas/vaultdrive/internal/cdp"
)

// fakeEvaluator answers by substring match on the expression and records
// every expression it sees.
type fakeEvaluator struct {
	replies map[string]any
	err     error
	exprs   []string
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, expr string, result any) error {
	f.exprs = append(f.exprs, expr)
	if f.err != nil {
		return f.err
	}
	for key, v := range f.replies {
		if strings.Contains(expr, key) {
			if result == nil {
				return nil
			}
			b, _ := json.Marshal(v)
			return json.Unmarshal(b, result)
		}
	}
	return nil
}

func (f *fakeEvaluator) EvaluateHandle(ctx context.Context, expr string) (*cdp.Handle, error) {
	f.exprs = append(f.exprs, expr)
	return &cdp.Handle{ObjectID: "obj-1"}, nil
}

func (f *fakeEvaluator) last() string {
	if len(f.exprs) == 0 {
		return ""
	}
	return f.exprs[len(f.exprs)-1]
}

func TestExpr(t *testing.T) {
	tests := []struct {
		name string
		fn   string
		args []any
		want string
	}{
		{name: "no args", fn: "() => 1", want: "(() => 1)()"},
		{name: "string arg quoted", fn: "p => p", args: []any{`notes/"a".md`}, want: `(p => p)("notes/\"a\".md")`},
		{name: "mixed", fn: "(a, b) => a", args: []any{"x", true}, want: `((a, b) => a)("x", true)`},
		{name: "script injection stays a literal", fn: "p => p", args: []any{"'); alert(1); ('"}, want: `(p => p)("'); alert(1); ('")`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Expr(tt.fn, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Expr("x => x", make(chan int))
	assert.Error(t, err)
}

func TestSurfaceQueries(t *testing.T) {
	ev := &fakeEvaluator{replies: map[string]any{
		"app.vault.getName()":       "Obsidian Sandbox",
		"executeCommandById":        true,
		"getActiveFile":             "notes/today.md",
		"getViewType":               "markdown",
		"getDisplayText":            "today",
		"iterateAllLeaves":          []string{"a.md", "b.md"},
		"app.vault.adapter.exists":  true,
		"app.vault.adapter.read":    "# hello",
		"enabledPlugins.has(id)":    true,
		"getLeavesOfType(t).length": true,
		"b.textContent.trim()":      "Turn on and reload",
	}}
	s := New(ev)
	ctx := context.Background()

	name, err := s.VaultName(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Obsidian Sandbox", name)

	ok, err := s.ExecuteCommand(ctx, "workspace:split-vertical")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, ev.last(), `"workspace:split-vertical"`)

	path, err := s.ActiveFilePath(ctx)
	require.NoError(t, err)
	assert.Equal(t, "notes/today.md", path)

	viewType, err := s.ActiveViewType(ctx)
	require.NoError(t, err)
	assert.Equal(t, "markdown", viewType)

	title, err := s.ActiveTabTitle(ctx)
	require.NoError(t, err)
	assert.Equal(t, "today", title)

	files, err := s.OpenFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.md", "b.md"}, files)

	exists, err := s.FileExists(ctx, "a.md")
	require.NoError(t, err)
	assert.True(t, exists)

	content, err := s.ReadFile(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, "# hello", content)

	require.NoError(t, s.WriteFile(ctx, "a.md", "body"))
	assert.Contains(t, ev.last(), `("a.md", "body")`)

	enabled, err := s.PluginEnabled(ctx, "demo")
	require.NoError(t, err)
	assert.True(t, enabled)

	has, err := s.HasLeafOfType(ctx, "graph")
	require.NoError(t, err)
	assert.True(t, has)

	label, err := s.CTALabel(ctx)
	require.NoError(t, err)
	assert.Equal(t, LabelTurnOnAndReload, label)

	h, err := s.PluginRegistry(ctx)
	require.NoError(t, err)
	assert.Equal(t, "app.plugins.plugins", ev.last())
	assert.NotNil(t, h)
}

func TestSurfaceErrorPropagates(t *testing.T) {
	boom := errors.New("app is not defined")
	s := New(&fakeEvaluator{err: boom})
	_, err := s.LayoutReady(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestCheckVersion(t *testing.T) {
	tests := []struct {
		name       string
		version    string
		constraint string
		wantErr    bool
		incompat   bool
	}{
		{name: "no constraint", version: "", constraint: ""},
		{name: "satisfied", version: "1.5.8", constraint: ">= 1.4.0"},
		{name: "v prefix", version: "v1.5.8", constraint: "^1.5"},
		{name: "too old", version: "1.3.7", constraint: ">= 1.4.0", wantErr: true, incompat: true},
		{name: "unparseable version", version: "unknown", constraint: ">= 1.0", wantErr: true, incompat: true},
		{name: "bad constraint", version: "1.0.0", constraint: ">>> 1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckVersion(tt.version, tt.constraint)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.incompat, errors.Is(err, ErrIncompatibleHost))
		})
	}
}
