package fixture

import (
	"context"
	"errors"
	"fmt"

	"github.com/sergeknystautas/vaultdrive/internal/host"
	"github.com/sergeknystautas/vaultdrive/internal/readiness"
)

// ErrPluginsRestricted is returned when community plugins stay disabled
// after the settings flow ran.
var ErrPluginsRestricted = errors.New("community plugins are still disabled")

// Enable turns on the given plugins in the running host, one at a time, and
// returns the ids the host reports enabled. Community plugins are switched
// on first; failing that is fatal.
func (i *Installer) Enable(ctx context.Context, s *host.Surface, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if err := i.EnsurePermissiveMode(ctx, s); err != nil {
		return nil, err
	}
	if err := s.LoadManifests(ctx); err != nil {
		return nil, fmt.Errorf("failed to reload plugin manifests: %w", err)
	}

	var enabled []string
	for _, id := range ids {
		ok, err := s.EnablePlugin(ctx, id)
		if err != nil {
			i.logger.Warn("failed to enable plugin", "id", id, "err", err)
			continue
		}
		if !ok {
			i.logger.Warn("plugin not enabled after request", "id", id)
			continue
		}
		enabled = append(enabled, id)
	}
	i.logger.Info("enabled plugins", "ids", enabled)
	return enabled, nil
}

// EnsurePermissiveMode switches community plugins on through the settings
// tab when they are off. The button labels are compared exactly; a host that
// renames them fails the final check instead of guessing.
func (i *Installer) EnsurePermissiveMode(ctx context.Context, s *host.Surface) error {
	if err := readiness.Poll(ctx, "plugin manager", i.cfg.ReadyTimeout, i.cfg.PollInterval,
		func(ctx context.Context) (bool, error) { return s.PluginsAPIReady(ctx) }); err != nil {
		return err
	}
	on, err := s.CommunityPluginsEnabled(ctx)
	if err != nil {
		return err
	}
	if on {
		return nil
	}

	i.logger.Info("turning on community plugins")
	if err := i.openPluginsTab(ctx, s); err != nil {
		return err
	}
	label, err := s.CTALabel(ctx)
	if err != nil {
		return err
	}

	if label == host.LabelTurnOnAndReload {
		if err := i.click(ctx, s, label); err != nil {
			return err
		}
		// The click reloads the app; the settings modal does not survive it.
		if err := readiness.Poll(ctx, "plugin manager after reload", i.cfg.ReadyTimeout, i.cfg.PollInterval,
			func(ctx context.Context) (bool, error) { return s.PluginsAPIReady(ctx) }); err != nil {
			return err
		}
		if on, err := s.CommunityPluginsEnabled(ctx); err == nil && on {
			return nil
		}
		if err := i.openPluginsTab(ctx, s); err != nil {
			return err
		}
		if label, err = s.CTALabel(ctx); err != nil {
			return err
		}
	}

	if label == host.LabelTurnOnPlugins {
		if err := i.click(ctx, s, label); err != nil {
			return err
		}
	} else if label != "" {
		i.logger.Warn("unrecognized community plugins button", "label", label)
	}

	if err := s.CloseSettings(ctx); err != nil {
		i.logger.Warn("failed to close settings", "err", err)
	}

	on, err = s.CommunityPluginsEnabled(ctx)
	if err != nil {
		return err
	}
	if !on {
		return fmt.Errorf("%w (last button label %q)", ErrPluginsRestricted, label)
	}
	return nil
}

func (i *Installer) openPluginsTab(ctx context.Context, s *host.Surface) error {
	if err := s.OpenSettings(ctx, host.CommunityPluginsTab); err != nil {
		return fmt.Errorf("failed to open settings: %w", err)
	}
	return readiness.Settle(ctx, "settings tab", i.cfg.SettleDelay)
}

func (i *Installer) click(ctx context.Context, s *host.Surface, label string) error {
	i.logger.Debug("clicking", "label", label)
	ok, err := s.ClickCTA(ctx)
	if err != nil {
		return fmt.Errorf("failed to click %q: %w", label, err)
	}
	if !ok {
		return fmt.Errorf("button %q disappeared before click", label)
	}
	return readiness.Settle(ctx, label, i.cfg.SettleDelay)
}
