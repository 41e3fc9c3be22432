package cdp

import (
	"errors"
	"fmt"

	"github.com/chromedp/cdproto/runtime"
)

var (
	// ErrStaleHandle is returned when a handle is used after its window
	// reloaded or closed.
	ErrStaleHandle = errors.New("remote handle is stale")
	// ErrWindowClosed is returned for operations on a closed window.
	ErrWindowClosed = errors.New("window is closed")
	// ErrNoObject is returned when a handle was requested for a value that
	// is not an object.
	ErrNoObject = errors.New("result is not an object")
)

// Handle is an opaque reference to an object living in a window. It is only
// ever dereferenced through Window.CallOn, and only while the window's
// document is the one that issued it.
type Handle struct {
	ObjectID runtime.RemoteObjectID
	window   *Window
	epoch    uint64
}

// Window returns the window that issued the handle.
func (h *Handle) Window() *Window {
	if h == nil {
		return nil
	}
	return h.window
}

// Valid reports whether the issuing document is still current.
func (h *Handle) Valid() bool {
	return h != nil && h.check(h.window) == nil
}

func (h *Handle) check(w *Window) error {
	if h == nil {
		return fmt.Errorf("nil handle: %w", ErrStaleHandle)
	}
	if w != h.window {
		return fmt.Errorf("handle %s belongs to another window: %w", h.ObjectID, ErrStaleHandle)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.epoch != h.epoch {
		return fmt.Errorf("handle %s: %w", h.ObjectID, ErrStaleHandle)
	}
	return nil
}
