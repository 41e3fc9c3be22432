package host

import (
	"context"

	"github.com/sergeknystautas/vaultdrive/internal/cdp"
)

// PluginsAPIReady reports whether the plugin manager is reachable.
func (s *Surface) PluginsAPIReady(ctx context.Context) (bool, error) {
	var ok bool
	err := s.eval(ctx, &ok, `() => typeof app !== 'undefined' && !!app.plugins && typeof app.plugins.isEnabled === 'function'`)
	return ok, err
}

// CommunityPluginsEnabled reports whether restricted mode is off.
func (s *Surface) CommunityPluginsEnabled(ctx context.Context) (bool, error) {
	var ok bool
	err := s.eval(ctx, &ok, `() => app.plugins.isEnabled() === true`)
	return ok, err
}

// LoadManifests makes the host rescan the plugins directory.
func (s *Surface) LoadManifests(ctx context.Context) error {
	return s.eval(ctx, nil, `async () => { await app.plugins.loadManifests(); }`)
}

// EnablePlugin enables the plugin and persists the choice. It fails when the
// host reports the plugin is not enabled afterwards.
func (s *Surface) EnablePlugin(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := s.eval(ctx, &ok, `async id => {
		await app.plugins.enablePluginAndSave(id);
		return app.plugins.enabledPlugins.has(id);
	}`, id)
	return ok, err
}

// PluginEnabled reports whether the plugin is in the enabled set.
func (s *Surface) PluginEnabled(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := s.eval(ctx, &ok, `id => app.plugins.enabledPlugins.has(id)`, id)
	return ok, err
}

// PluginRegistry returns a handle to the id→plugin mapping.
func (s *Surface) PluginRegistry(ctx context.Context) (*cdp.Handle, error) {
	return s.ev.EvaluateHandle(ctx, `app.plugins.plugins`)
}

// PluginLoaded reports whether the plugin object exists in the registry.
func (s *Surface) PluginLoaded(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := s.eval(ctx, &ok, `id => !!app.plugins.getPlugin(id)`, id)
	return ok, err
}
