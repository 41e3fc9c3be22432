// Package launcher owns one host process and its windows for the duration
// of a launch/cleanup cycle. It starts the host on a throwaway profile,
// connects to its DevTools endpoint, keeps the window set converged to a
// single ready window and hands out the IPC bridge bound to it.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/sergeknystautas/vaultdrive/internal/cdp"
	"github.com/sergeknystautas/vaultdrive/internal/config"
	"github.com/sergeknystautas/vaultdrive/internal/fixture"
	"github.com/sergeknystautas/vaultdrive/internal/host"
	"github.com/sergeknystautas/vaultdrive/internal/ipc"
	"github.com/sergeknystautas/vaultdrive/internal/logging"
	"github.com/sergeknystautas/vaultdrive/internal/readiness"
	"github.com/sergeknystautas/vaultdrive/pkg/shellutil"
)

// ErrInvalidState is returned when an operation is not allowed in the
// launcher's current state.
var ErrInvalidState = errors.New("invalid launcher state")

// State is a lifecycle state of the launcher.
type State int

const (
	StateIdle State = iota
	StateLaunching
	StateWindowWait
	StateReady
	StateSessionOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLaunching:
		return "launching"
	case StateWindowWait:
		return "window-wait"
	case StateReady:
		return "ready"
	case StateSessionOpen:
		return "session-open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// AutomationFlag is passed to the host so its main process can tell it is
// driven by tests.
const AutomationFlag = "--vaultdrive-automation"

// stopTimeout bounds how long Cleanup waits for the host to exit before
// killing it.
const stopTimeout = 5 * time.Second

// Option configures a Launcher.
type Option func(*Launcher)

// WithStarter replaces the process starter.
func WithStarter(s Starter) Option {
	return func(l *Launcher) { l.starter = s }
}

// WithLogger sets the logger; components log under prefixes of it.
func WithLogger(logger *log.Logger) Option {
	return func(l *Launcher) { l.logger = logger }
}

// Launcher drives one host process. It is not reusable: after Cleanup a new
// Launcher is needed.
type Launcher struct {
	cfg       *config.Config
	starter   Starter
	logger    *log.Logger
	installer *fixture.Installer
	runID     string

	mu         sync.Mutex
	state      State
	profileDir string
	proc       Process
	conn       *cdp.Conn
	windows    *windowTable
	bridge     *ipc.Bridge
}

// New returns an idle launcher for cfg.
func New(cfg *config.Config, opts ...Option) *Launcher {
	l := &Launcher{cfg: cfg}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = logging.Or(l.logger)
	if l.starter == nil {
		if cfg.UsePTY {
			l.starter = PTYStarter{}
		} else {
			l.starter = ExecStarter{}
		}
	}
	l.runID = cfg.Paths.SessionID
	if l.runID == "" {
		l.runID = uuid.New().String()[:8]
	}
	l.logger = l.logger.With("run", l.runID)
	l.installer = fixture.NewInstaller(cfg, l.logger.WithPrefix("fixture"))
	return l
}

// RunID identifies this launch in logs and directory names.
func (l *Launcher) RunID() string { return l.runID }

func (l *Launcher) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Launcher) setState(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Debug("state", "from", l.state, "to", s)
	l.state = s
}

// ProfileDir is the temporary user data directory of the host.
func (l *Launcher) ProfileDir() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.profileDir
}

// Bridge returns the IPC bridge, or nil before Launch succeeded.
func (l *Launcher) Bridge() *ipc.Bridge {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bridge
}

// Installer returns the fixture installer bound to the launch config.
func (l *Launcher) Installer() *fixture.Installer { return l.installer }

// Config returns the run configuration.
func (l *Launcher) Config() *config.Config { return l.cfg }

// Running reports whether the host process is alive.
func (l *Launcher) Running() bool {
	l.mu.Lock()
	p := l.proc
	l.mu.Unlock()
	if p == nil {
		return false
	}
	select {
	case <-p.Exited():
		return false
	default:
	}
	return alive(p.Pid())
}

func (l *Launcher) command(profile string) Command {
	args := []string{
		l.cfg.Paths.EntryFile,
		"--no-sandbox",
		"--unsafely-disable-devtools-self-xss-warnings",
		"--user-data-dir=" + profile,
		"--remote-debugging-port=0",
		AutomationFlag,
	}
	args = append(args, l.cfg.ExtraArgs...)

	env := append(os.Environ(), "NODE_ENV=development", "CI=true")
	env = append(env, l.cfg.Env...)
	return Command{Path: l.cfg.Paths.Executable, Args: args, Env: env, Dir: l.cfg.Paths.UnpackedDir}
}

// Launch starts the host and returns once exactly one window is open and
// ready, with no vault history left from earlier runs. Launch is only valid
// on a new launcher. On failure everything started so far is cleaned up.
func (l *Launcher) Launch(ctx context.Context) (err error) {
	l.mu.Lock()
	if l.state != StateIdle {
		st := l.state
		l.mu.Unlock()
		return fmt.Errorf("launch in state %s: %w", st, ErrInvalidState)
	}
	l.state = StateLaunching
	l.mu.Unlock()

	defer func() {
		if err != nil {
			l.Cleanup(context.Background())
		}
	}()

	if err := l.cfg.Paths.CheckExist(); err != nil {
		return err
	}

	profile, err := os.MkdirTemp("", "vaultdrive-"+l.runID+"-")
	if err != nil {
		return fmt.Errorf("failed to create profile directory: %w", err)
	}
	l.mu.Lock()
	l.profileDir = profile
	l.mu.Unlock()

	cmd := l.command(profile)
	l.logger.Info("starting host",
		"cmd", shellutil.Join(cmd.Path, cmd.Args...),
		"env", shellutil.EnvLine(cmd.Env, "NODE_ENV", "CI"))

	proc, err := l.starter.Start(cmd)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.proc = proc
	l.mu.Unlock()
	go pumpOutput(proc.Output(), l.logger.WithPrefix("host"))

	if err := l.connect(ctx, profile); err != nil {
		return err
	}

	l.setState(StateWindowWait)
	table, err := l.table()
	if err != nil {
		return err
	}
	first, err := table.waitFor(ctx, "first window", l.cfg.WindowTimeout, newest)
	if err != nil {
		return err
	}
	if err := host.New(first).SetFlag(ctx, FirstWindowFlag, true); err != nil {
		l.logger.Warn("failed to flag first window", "err", err)
	}
	w, err := l.EnsureSingleWindow(ctx)
	if err != nil {
		return err
	}

	if l.cfg.MinHostVersion != "" {
		version, err := host.New(w).Version(ctx)
		if err != nil {
			return fmt.Errorf("failed to read host version: %w", err)
		}
		if err := host.CheckVersion(version, l.cfg.MinHostVersion); err != nil {
			return err
		}
		l.logger.Info("host version", "version", version)
	}

	if err := l.clearHistory(ctx, w); err != nil {
		return err
	}
	if err := w.Reload(ctx); err != nil {
		return fmt.Errorf("failed to reload window: %w", err)
	}
	if _, err := l.EnsureSingleWindow(ctx); err != nil {
		return err
	}
	logWindows(l.logger, l.Windows())

	l.mu.Lock()
	l.bridge = ipc.New(l, l.logger.WithPrefix("bridge"))
	l.mu.Unlock()
	l.setState(StateReady)
	l.logger.Info("host ready", "profile", profile)
	return nil
}

// connect waits for the DevTools endpoint to be announced in the profile,
// dials it and starts tracking windows.
func (l *Launcher) connect(ctx context.Context, profile string) error {
	data, err := readiness.WaitForFile(ctx, filepath.Join(profile, cdp.ActivePortFile), l.cfg.ReadyTimeout, cdp.ActivePortComplete)
	if err != nil {
		return fmt.Errorf("devtools endpoint not announced: %w", err)
	}
	url, err := cdp.ParseActivePort(data)
	if err != nil {
		return err
	}
	conn, err := cdp.Dial(ctx, url, l.logger.WithPrefix("cdp"))
	if err != nil {
		return err
	}
	table := newWindowTable(conn)
	l.mu.Lock()
	l.conn = conn
	l.windows = table
	l.mu.Unlock()

	go l.track(conn, table)
	if err := conn.DiscoverTargets(ctx); err != nil {
		return fmt.Errorf("failed to enable target discovery: %w", err)
	}
	l.logger.Debug("connected", "url", url)
	return nil
}

// clearHistory forgets every vault the host remembers and deletes the
// sandbox vault directory. It runs before any bridge exists.
func (l *Launcher) clearHistory(ctx context.Context, w *cdp.Window) error {
	var known map[string]struct {
		Path string `json:"path"`
	}
	if err := ipc.Send(ctx, w, ipc.ChannelListVaults, &known); err != nil {
		return err
	}
	for id, v := range known {
		l.logger.Debug("forgetting vault", "id", id, "path", v.Path)
		if err := ipc.Send(ctx, w, ipc.ChannelRemoveVault, nil, v.Path); err != nil {
			return err
		}
	}

	var sandbox string
	if err := ipc.Send(ctx, w, ipc.ChannelSandboxPath, &sandbox); err != nil {
		return err
	}
	if sandbox != "" {
		if err := os.RemoveAll(sandbox); err != nil {
			return fmt.Errorf("failed to remove sandbox vault: %w", err)
		}
	}
	return nil
}

// Cleanup closes every window, stops the host and deletes the profile
// directory. Every step runs even if an earlier one fails; failures are
// logged, never returned. Cleanup may be called in any state.
func (l *Launcher) Cleanup(ctx context.Context) {
	l.mu.Lock()
	if l.state == StateClosed || l.state == StateClosing {
		l.mu.Unlock()
		return
	}
	l.state = StateClosing
	conn, table, proc, profile := l.conn, l.windows, l.proc, l.profileDir
	l.bridge = nil
	l.mu.Unlock()

	if table != nil {
		for _, w := range table.open() {
			closeCtx, cancel := context.WithTimeout(ctx, l.cfg.WindowTimeout)
			if err := w.Close(closeCtx); err != nil {
				l.logger.Warn("cleanup: failed to close window", "id", w.ID(), "err", err)
			}
			cancel()
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			l.logger.Warn("cleanup: failed to close devtools connection", "err", err)
		}
	}
	if proc != nil {
		stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
		if err := proc.Stop(stopCtx); err != nil {
			l.logger.Error("cleanup: failed to stop host", "pid", proc.Pid(), "err", err)
		}
		cancel()
	}
	if profile != "" {
		if err := os.RemoveAll(profile); err != nil {
			l.logger.Error("cleanup: failed to remove profile directory", "dir", profile, "err", err)
		}
	}

	l.setState(StateClosed)
	l.logger.Info("host stopped")
}
