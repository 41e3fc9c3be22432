package host

import (
	"context"
	"net/url"
	"strings"
)

// Screen is what a host window currently shows.
type Screen int

const (
	// ScreenVault is a window with an open vault.
	ScreenVault Screen = iota
	// ScreenStarter is the vault chooser shown before any vault is open.
	ScreenStarter
)

func (s Screen) String() string {
	if s == ScreenStarter {
		return "starter"
	}
	return "vault"
}

// ScreenOf dispatches on a window URL: the starter page is starter.html,
// every other app document is a vault window.
func ScreenOf(rawURL string) Screen {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		path = u.Path
	}
	if strings.HasSuffix(path, "starter.html") {
		return ScreenStarter
	}
	return ScreenVault
}

// Ready reports whether the window reached the ready state of screen.
func (s *Surface) Ready(ctx context.Context, screen Screen) (bool, error) {
	if screen == ScreenStarter {
		return s.StarterReady(ctx)
	}
	return s.LayoutReady(ctx)
}
