package host

import (
	"context"

	"github.com/sergeknystautas/vaultdrive/internal/cdp"
)

// FileExists checks a vault-relative path through the vault adapter.
func (s *Surface) FileExists(ctx context.Context, path string) (bool, error) {
	var ok bool
	err := s.eval(ctx, &ok, `p => app.vault.adapter.exists(p)`, path)
	return ok, err
}

func (s *Surface) ReadFile(ctx context.Context, path string) (string, error) {
	var content string
	err := s.eval(ctx, &content, `p => app.vault.adapter.read(p)`, path)
	return content, err
}

func (s *Surface) WriteFile(ctx context.Context, path, content string) error {
	return s.eval(ctx, nil, `async (p, c) => { await app.vault.adapter.write(p, c); }`, path, content)
}

func (s *Surface) RemoveFile(ctx context.Context, path string) error {
	return s.eval(ctx, nil, `async p => { await app.vault.adapter.remove(p); }`, path)
}

// OpenFile opens a vault file in the active leaf.
func (s *Surface) OpenFile(ctx context.Context, path string) error {
	return s.eval(ctx, nil, `async p => { await app.workspace.openLinkText(p, '', false); }`, path)
}

// ActiveFilePath returns the path of the active file, or "" when none.
func (s *Surface) ActiveFilePath(ctx context.Context) (string, error) {
	var p string
	err := s.eval(ctx, &p, `() => { const f = app.workspace.getActiveFile(); return f ? f.path : ''; }`)
	return p, err
}

// ActiveViewType returns the view type of the active leaf, or "".
func (s *Surface) ActiveViewType(ctx context.Context) (string, error) {
	var t string
	err := s.eval(ctx, &t, `() => {
		const leaf = app.workspace.activeLeaf;
		return leaf && leaf.view ? leaf.view.getViewType() : '';
	}`)
	return t, err
}

// ActiveTabTitle returns the display text of the active leaf.
func (s *Surface) ActiveTabTitle(ctx context.Context) (string, error) {
	var title string
	err := s.eval(ctx, &title, `() => {
		const leaf = app.workspace.activeLeaf;
		return leaf && leaf.view ? leaf.view.getDisplayText() : '';
	}`)
	return title, err
}

// OpenFiles lists the file paths shown in any leaf, in layout order.
func (s *Surface) OpenFiles(ctx context.Context) ([]string, error) {
	var files []string
	err := s.eval(ctx, &files, `() => {
		const out = [];
		app.workspace.iterateAllLeaves(leaf => {
			const f = leaf.view && leaf.view.file;
			if (f) out.push(f.path);
		});
		return out;
	}`)
	return files, err
}

// HasLeafOfType reports whether any leaf shows a view of the given type.
func (s *Surface) HasLeafOfType(ctx context.Context, viewType string) (bool, error) {
	var ok bool
	err := s.eval(ctx, &ok, `t => app.workspace.getLeavesOfType(t).length > 0`, viewType)
	return ok, err
}

// ActivateLeafOfType focuses the first leaf of the given type. It reports
// false when there is none.
func (s *Surface) ActivateLeafOfType(ctx context.Context, viewType string) (bool, error) {
	var ok bool
	err := s.eval(ctx, &ok, `t => {
		const leaf = app.workspace.getLeavesOfType(t)[0];
		if (!leaf) return false;
		app.workspace.setActiveLeaf(leaf, { focus: true });
		return true;
	}`, viewType)
	return ok, err
}

// ViewOfType returns a handle to the view of the first leaf of the type.
func (s *Surface) ViewOfType(ctx context.Context, viewType string) (*cdp.Handle, error) {
	expr, err := Expr(`t => { const leaf = app.workspace.getLeavesOfType(t)[0]; return leaf ? leaf.view : undefined; }`, viewType)
	if err != nil {
		return nil, err
	}
	return s.ev.EvaluateHandle(ctx, expr)
}

// FocusEditor focuses the editor of the active leaf. It reports false when
// the active view has no editor.
func (s *Surface) FocusEditor(ctx context.Context) (bool, error) {
	var ok bool
	err := s.eval(ctx, &ok, `() => {
		const leaf = app.workspace.activeLeaf;
		const editor = leaf && leaf.view && leaf.view.editor;
		if (!editor) return false;
		editor.focus();
		return true;
	}`)
	return ok, err
}

// ClearEditor empties the editor of the active leaf.
func (s *Surface) ClearEditor(ctx context.Context) (bool, error) {
	var ok bool
	err := s.eval(ctx, &ok, `() => {
		const leaf = app.workspace.activeLeaf;
		const editor = leaf && leaf.view && leaf.view.editor;
		if (!editor) return false;
		editor.setValue('');
		return true;
	}`)
	return ok, err
}
