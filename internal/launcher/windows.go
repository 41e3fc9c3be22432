package launcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/target"

	"github.com/sergeknystautas/vaultdrive/internal/cdp"
	"github.com/sergeknystautas/vaultdrive/internal/host"
	"github.com/sergeknystautas/vaultdrive/internal/ipc"
	"github.com/sergeknystautas/vaultdrive/internal/readiness"
)

// markerScript runs in every new document so in-page code can tell it is
// being automated.
const markerScript = `window.__vaultdrive = true;`

// FirstWindowFlag is set on the first window of a launch.
const FirstWindowFlag = "__vaultdriveFirstWindow"

// windowTable tracks the attached windows of one connection. changed is
// closed and replaced on every mutation so waiters can block on it.
type windowTable struct {
	conn *cdp.Conn

	mu      sync.Mutex
	windows []*cdp.Window
	// settled holds every window target track has finished with, attached
	// or not.
	settled map[target.ID]bool
	seq     int
	changed chan struct{}
	gone    bool
}

func newWindowTable(conn *cdp.Conn) *windowTable {
	return &windowTable{
		conn:    conn,
		settled: make(map[target.ID]bool),
		changed: make(chan struct{}),
	}
}

func (t *windowTable) notifyLocked() {
	close(t.changed)
	t.changed = make(chan struct{})
}

func (t *windowTable) find(id target.ID) *cdp.Window {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, w := range t.windows {
		if w.ID() == id {
			return w
		}
	}
	return nil
}

func (t *windowTable) bySession(sid target.SessionID) *cdp.Window {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, w := range t.windows {
		if w.SessionID() == sid {
			return w
		}
	}
	return nil
}

func (t *windowTable) nextSeq() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	return t.seq
}

// lastSeq is the highest sequence number handed out so far.
func (t *windowTable) lastSeq() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seq
}

func (t *windowTable) add(w *cdp.Window) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.windows = append(t.windows, w)
	t.notifyLocked()
}

func (t *windowTable) remove(id target.ID) *cdp.Window {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, w := range t.windows {
		if w.ID() == id {
			t.windows = append(t.windows[:i], t.windows[i+1:]...)
			t.notifyLocked()
			return w
		}
	}
	return nil
}

func (t *windowTable) settle(id target.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.settled[id] = true
	t.notifyLocked()
}

func (t *windowTable) touch() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notifyLocked()
}

func (t *windowTable) disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gone = true
	t.notifyLocked()
}

// open returns the windows that are not closed, in creation order.
func (t *windowTable) open() []*cdp.Window {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.openLocked()
}

func (t *windowTable) openLocked() []*cdp.Window {
	out := make([]*cdp.Window, 0, len(t.windows))
	for _, w := range t.windows {
		if !w.Closed() {
			out = append(out, w)
		}
	}
	return out
}

// wait blocks until done reports true, the timeout passes or the connection
// goes away. done runs with t.mu held.
func (t *windowTable) wait(ctx context.Context, name string, timeout time.Duration, done func() bool) error {
	start := time.Now()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		t.mu.Lock()
		ok := done()
		ch, gone := t.changed, t.gone
		t.mu.Unlock()
		if ok {
			return nil
		}
		if gone {
			return fmt.Errorf("waiting for %s: %w", name, cdp.ErrClosed)
		}
		select {
		case <-ch:
		case <-timer.C:
			return &readiness.TimeoutError{Predicate: name, Waited: time.Since(start)}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// waitFor blocks until pick returns one of the open windows.
func (t *windowTable) waitFor(ctx context.Context, name string, timeout time.Duration, pick func([]*cdp.Window) *cdp.Window) (*cdp.Window, error) {
	var w *cdp.Window
	err := t.wait(ctx, name, timeout, func() bool {
		w = pick(t.openLocked())
		return w != nil
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// sync lists the endpoint's targets and waits until track has handled every
// window among them, so open reflects at least the host's current windows.
func (t *windowTable) sync(ctx context.Context, timeout time.Duration) error {
	infos, err := t.conn.Targets(ctx)
	if err != nil {
		return fmt.Errorf("failed to list windows: %w", err)
	}
	var ids []target.ID
	for _, info := range infos {
		if cdp.IsWindow(info) {
			ids = append(ids, info.TargetID)
		}
	}
	return t.wait(ctx, "window attach", timeout, func() bool {
		for _, id := range ids {
			if !t.settled[id] {
				return false
			}
		}
		return true
	})
}

func newest(ws []*cdp.Window) *cdp.Window {
	var best *cdp.Window
	for _, w := range ws {
		if best == nil || w.Seq() > best.Seq() {
			best = w
		}
	}
	return best
}

// track consumes connection events until the connection ends, attaching to
// every new app window.
func (l *Launcher) track(conn *cdp.Conn, table *windowTable) {
	defer table.disconnect()
	for ev := range conn.Events() {
		if ev.Method == cdproto.EventRuntimeExecutionContextsCleared {
			if w := table.bySession(ev.SessionID); w != nil {
				w.Invalidate()
				table.touch()
			}
			continue
		}
		te, ok, err := cdp.DecodeTargetEvent(ev)
		if !ok {
			continue
		}
		if err != nil {
			l.logger.Warn("bad target event", "err", err)
			continue
		}
		switch te.Method {
		case cdproto.EventTargetTargetCreated:
			if !cdp.IsWindow(te.Info) || table.find(te.ID) != nil {
				continue
			}
			l.attach(conn, table, te.Info)
		case cdproto.EventTargetTargetInfoChanged:
			w := table.find(te.ID)
			if w == nil {
				continue
			}
			if w.URL() != te.Info.URL {
				l.logger.Debug("window navigated", "id", te.ID, "url", te.Info.URL)
			}
			w.SetURL(te.Info.URL)
			table.touch()
		case cdproto.EventTargetTargetDestroyed:
			if w := table.remove(te.ID); w != nil {
				w.MarkClosed()
				l.logger.Debug("window closed", "id", te.ID)
			}
		}
	}
}

func (l *Launcher) attach(conn *cdp.Conn, table *windowTable, info *target.Info) {
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.WindowTimeout)
	defer cancel()
	defer table.settle(info.TargetID)

	w, err := cdp.AttachWindow(ctx, conn, info, table.nextSeq())
	if err != nil {
		l.logger.Warn("failed to attach window", "id", info.TargetID, "err", err)
		return
	}
	if err := w.AddInitScript(ctx, markerScript); err != nil {
		l.logger.Warn("failed to register automation marker", "id", info.TargetID, "err", err)
	}
	if err := host.New(w).SetFlag(ctx, "__vaultdrive", true); err != nil {
		l.logger.Debug("marker not set on current document", "id", info.TargetID, "err", err)
	}
	l.logger.Debug("window opened", "id", info.TargetID, "seq", w.Seq(), "url", info.URL)
	table.add(w)
}

func (l *Launcher) table() (*windowTable, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.windows == nil {
		return nil, fmt.Errorf("no host connection (state %s): %w", l.state, ErrInvalidState)
	}
	return l.windows, nil
}

// waitReady polls until w shows a ready screen. The screen follows the URL,
// which may change while waiting.
func (l *Launcher) waitReady(ctx context.Context, w *cdp.Window) error {
	s := host.New(w)
	return readiness.Poll(ctx, "window ready", l.cfg.ReadyTimeout, l.cfg.PollInterval, func(ctx context.Context) (bool, error) {
		if w.Closed() {
			return false, readiness.Stop(fmt.Errorf("window %s: %w", w.ID(), cdp.ErrWindowClosed))
		}
		return s.Ready(ctx, host.ScreenOf(w.URL()))
	})
}

func (l *Launcher) waitScreen(ctx context.Context, w *cdp.Window, screen host.Screen) error {
	s := host.New(w)
	return readiness.Poll(ctx, screen.String()+" ready", l.cfg.ReadyTimeout, l.cfg.PollInterval, func(ctx context.Context) (bool, error) {
		return s.Ready(ctx, screen)
	})
}

func (l *Launcher) closeAllBut(ctx context.Context, keep *cdp.Window, ws []*cdp.Window) {
	for _, w := range ws {
		if w == keep || w.Closed() {
			continue
		}
		l.logger.Debug("closing extra window", "id", w.ID(), "url", w.URL())
		if err := w.Close(ctx); err != nil {
			l.logger.Warn("failed to close window", "id", w.ID(), "err", err)
		}
	}
}

// EnsureSingleWindow converges to one tracked window: the newest one, once
// it shows a ready screen. Every other window is closed. When the chosen
// window closes while it is awaited, the next newest is tried.
func (l *Launcher) EnsureSingleWindow(ctx context.Context) (*cdp.Window, error) {
	table, err := l.table()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	deadline := start.Add(l.cfg.WindowTimeout + l.cfg.ReadyTimeout)
	for {
		w, err := table.waitFor(ctx, "first window", l.cfg.WindowTimeout, newest)
		if err != nil {
			return nil, err
		}
		err = l.waitReady(ctx, w)
		if err == nil {
			return l.keepOnly(ctx, table, w)
		}
		if !errors.Is(err, cdp.ErrWindowClosed) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, &readiness.TimeoutError{Predicate: "single window", Waited: time.Since(start), Last: err}
		}
		l.logger.Debug("canonical window closed while waiting, re-resolving", "id", w.ID())
	}
}

// keepOnly waits for pending window attaches, then closes every window but
// keep. It fails when keep itself is gone by then.
func (l *Launcher) keepOnly(ctx context.Context, table *windowTable, keep *cdp.Window) (*cdp.Window, error) {
	if err := table.sync(ctx, l.cfg.WindowTimeout); err != nil {
		return nil, err
	}
	l.closeAllBut(ctx, keep, table.open())
	if keep.Closed() {
		return nil, fmt.Errorf("window %s: %w", keep.ID(), cdp.ErrWindowClosed)
	}
	return keep, nil
}

// convergeOn is the after-transition convergence point: keep stays
// canonical as long as it is open and ready, otherwise the newest ready
// window takes over.
func (l *Launcher) convergeOn(ctx context.Context, keep *cdp.Window) (*cdp.Window, error) {
	table, err := l.table()
	if err != nil {
		return nil, err
	}
	if !keep.Closed() {
		err := l.waitReady(ctx, keep)
		if err == nil {
			var w *cdp.Window
			w, err = l.keepOnly(ctx, table, keep)
			if err == nil {
				return w, nil
			}
		}
		if !errors.Is(err, cdp.ErrWindowClosed) {
			return nil, err
		}
	}
	l.logger.Debug("window gone after transition, re-resolving", "id", keep.ID())
	return l.EnsureSingleWindow(ctx)
}

// ExecuteActionAndWaitForNewWindow runs action on the current window and
// waits for a window created after it started that shows screen. Once it is
// ready every other window is closed, including ones the host opened during
// the transition. An action error is returned as is, without waiting.
func (l *Launcher) ExecuteActionAndWaitForNewWindow(ctx context.Context, action ipc.Action, screen host.Screen) (*cdp.Window, error) {
	table, err := l.table()
	if err != nil {
		return nil, err
	}
	current := newest(table.open())
	if current == nil {
		return nil, fmt.Errorf("no window to act on: %w", cdp.ErrWindowClosed)
	}
	mark := table.lastSeq()

	if err := action(ctx, current); err != nil {
		return nil, err
	}
	w, err := table.waitFor(ctx, "new "+screen.String()+" window", l.cfg.WindowTimeout, func(ws []*cdp.Window) *cdp.Window {
		for _, w := range ws {
			if w.Seq() > mark && host.ScreenOf(w.URL()) == screen {
				return w
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := l.waitScreen(ctx, w, screen); err != nil {
		return nil, err
	}
	return l.keepOnly(ctx, table, w)
}

// Windows returns the open windows in creation order.
func (l *Launcher) Windows() []*cdp.Window {
	table, err := l.table()
	if err != nil {
		return nil
	}
	return table.open()
}

var _ ipc.WindowKeeper = (*Launcher)(nil)

func logWindows(logger *log.Logger, ws []*cdp.Window) {
	for _, w := range ws {
		logger.Debug("tracked window", "id", w.ID(), "seq", w.Seq(), "url", w.URL())
	}
}
