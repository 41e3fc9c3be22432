package launcher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/creack/pty"
)

// Command is a host process to start.
type Command struct {
	Path string
	Args []string
	Env  []string
	Dir  string
}

// Process is a started host process.
type Process interface {
	Pid() int
	// Output yields the merged console output until the process exits.
	Output() io.Reader
	// Exited is closed once the process has been reaped.
	Exited() <-chan struct{}
	// Stop interrupts the process and kills it if it has not exited when
	// ctx is done.
	Stop(ctx context.Context) error
}

// Starter starts host processes.
type Starter interface {
	Start(cmd Command) (Process, error)
}

// ExecStarter starts the host with pipes for its console output.
type ExecStarter struct{}

func (ExecStarter) Start(c Command) (Process, error) {
	cmd := buildCmd(c)
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw
	if err := startWithCleanup(cmd); err != nil {
		pw.Close()
		return nil, fmt.Errorf("failed to start %s: %w", c.Path, err)
	}
	p := newProc(cmd, pr)
	go func() {
		p.wait()
		pw.Close()
	}()
	return p, nil
}

// PTYStarter starts the host on a pseudo-terminal. Electron line-buffers its
// console output when it sees a terminal, which keeps log lines intact.
type PTYStarter struct {
	Rows, Cols uint16
}

func (s PTYStarter) Start(c Command) (Process, error) {
	cmd := buildCmd(c)
	configureCleanup(cmd)
	size := &pty.Winsize{Rows: s.Rows, Cols: s.Cols}
	if size.Rows == 0 {
		size.Rows = 40
	}
	if size.Cols == 0 {
		size.Cols = 200
	}
	ptmx, err := pty.StartWithSize(cmd, size)
	if err != nil {
		return nil, fmt.Errorf("failed to start %s on a pty: %w", c.Path, err)
	}
	p := newProc(cmd, ptmx)
	go func() {
		p.wait()
		ptmx.Close()
	}()
	return p, nil
}

func buildCmd(c Command) *exec.Cmd {
	cmd := exec.Command(c.Path, c.Args...)
	cmd.Env = c.Env
	cmd.Dir = c.Dir
	return cmd
}

type proc struct {
	cmd    *exec.Cmd
	out    io.Reader
	exited chan struct{}

	mu      sync.Mutex
	waitErr error
}

func newProc(cmd *exec.Cmd, out io.Reader) *proc {
	return &proc{cmd: cmd, out: out, exited: make(chan struct{})}
}

func (p *proc) wait() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.waitErr = err
	p.mu.Unlock()
	close(p.exited)
}

func (p *proc) Pid() int                { return p.cmd.Process.Pid }
func (p *proc) Output() io.Reader       { return p.out }
func (p *proc) Exited() <-chan struct{} { return p.exited }

func (p *proc) Stop(ctx context.Context) error {
	select {
	case <-p.exited:
		return nil
	default:
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to interrupt pid %d: %w", p.Pid(), err)
	}
	select {
	case <-p.exited:
		return nil
	case <-ctx.Done():
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill pid %d: %w", p.Pid(), err)
	}
	<-p.exited
	return nil
}

// alive reports whether pid still exists.
func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// pumpOutput forwards console lines to logger at debug level until r ends.
func pumpOutput(r io.Reader, logger *log.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		logger.Debug(line)
	}
}
