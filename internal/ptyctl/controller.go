// Package ptyctl owns the single child process behind the shared terminal.
// Output is published to any number of subscribers; writes and resizes are
// serialized through one queue.
package ptyctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

var (
	ErrNotRunning     = errors.New("pty: process not running")
	ErrAlreadyRunning = errors.New("pty: process already started")
)

const (
	readBufSize  = 4096
	opQueueSize  = 256
	subByteLimit = 4 << 20 // per-subscriber backlog before output is dropped
	killGrace    = 3 * time.Second
	drainTimeout = 2 * time.Second
)

// EventKind distinguishes output chunks from the final exit event.
type EventKind int

const (
	EventOutput EventKind = iota
	EventExit
)

// Event is one element of the output stream. Exactly one EventExit ends it.
type Event struct {
	Kind     EventKind
	Data     []byte
	ExitCode int
}

// Options describes the process to spawn.
type Options struct {
	Command string
	Args    []string
	Dir     string
	Env     []string // extra KEY=VALUE pairs on top of the current environment
	Cols    int
	Rows    int
}

// Controller wraps one process attached to a pseudo-terminal.
type Controller struct {
	log *slog.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	ptmx     *os.File
	started  bool
	running  bool
	cols     int // applied size
	rows     int
	wantCols int // last requested size
	wantRows int
	exitCode int
	subs     map[int]*Subscription
	nextSub  int
	subLimit int
	cleanups []func()
	setsize  func(*os.File, *pty.Winsize) error

	ops         chan func(*os.File)
	done        chan struct{}
	killOnce    sync.Once
	cleanupOnce sync.Once

	setsizeCalls int // applied OS resizes, read by tests
}

// New returns an idle controller. Call Spawn to start the process.
func New(logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		log:  logger.With("component", "pty"),
		subs:     make(map[int]*Subscription),
		subLimit: subByteLimit,
		ops:      make(chan func(*os.File), opQueueSize),
		done:     make(chan struct{}),
		setsize:  pty.Setsize,
	}
}

// Spawn starts the process. A missing binary or a pty failure is returned
// as an error; the caller treats it as fatal.
func (c *Controller) Spawn(opts Options) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.started = true
	c.mu.Unlock()

	binPath, err := exec.LookPath(opts.Command)
	if err != nil {
		return fmt.Errorf("command %q not found: %w", opts.Command, err)
	}
	if resolved, err := filepath.EvalSymlinks(binPath); err == nil {
		binPath = resolved
	}

	cmd := exec.Command(binPath, opts.Args...)
	cmd.Dir = opts.Dir
	cmd.Env = buildEnv(opts.Env)

	cols, rows := opts.Cols, opts.Rows
	if cols <= 0 || rows <= 0 {
		cols, rows = 80, 24
	}
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return fmt.Errorf("start pty: %w", err)
	}

	c.mu.Lock()
	c.cmd = cmd
	c.ptmx = ptmx
	c.running = true
	c.cols, c.rows = cols, rows
	c.wantCols, c.wantRows = cols, rows
	c.mu.Unlock()

	c.log.Info("spawned", "cmd", opts.Command, "pid", cmd.Process.Pid, "cols", cols, "rows", rows)

	readDone := make(chan struct{})
	go c.readLoop(ptmx, readDone)
	go c.writeLoop(ptmx)
	go func() {
		code := waitExit(cmd)
		select {
		case <-readDone:
		case <-time.After(drainTimeout):
			// A grandchild still holds the tty open; stop reading.
			ptmx.Close()
			<-readDone
		}
		ptmx.Close()
		c.finish(code)
	}()
	return nil
}

func buildEnv(extra []string) []string {
	env := os.Environ()
	if os.Getenv("TERM") == "" {
		env = append(env, "TERM=xterm-256color")
	}
	return append(env, extra...)
}

func waitExit(cmd *exec.Cmd) int {
	err := cmd.Wait()
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
	}
	return 1
}

func (c *Controller) readLoop(r io.Reader, readDone chan<- struct{}) {
	defer close(readDone)
	buf := make([]byte, readBufSize)
	var pending []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := append(pending, buf[:n]...)
			cut := len(chunk) - incompleteTail(chunk)
			if cut > 0 {
				data := make([]byte, cut)
				copy(data, chunk[:cut])
				c.publish(Event{Kind: EventOutput, Data: data})
			}
			pending = append([]byte(nil), chunk[cut:]...)
		}
		if err != nil {
			if len(pending) > 0 {
				c.publish(Event{Kind: EventOutput, Data: pending})
			}
			return
		}
	}
}

// incompleteTail returns how many trailing bytes of b form the start of a
// UTF-8 sequence that has not been fully read yet.
func incompleteTail(b []byte) int {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		start := len(b) - i
		if !utf8.RuneStart(b[start]) {
			continue
		}
		if utf8.FullRune(b[start:]) {
			return 0
		}
		return i
	}
	return 0
}

func (c *Controller) writeLoop(ptmx *os.File) {
	for {
		select {
		case op := <-c.ops:
			op(ptmx)
		case <-c.done:
			return
		}
	}
}

func (c *Controller) enqueue(op func(*os.File)) {
	select {
	case c.ops <- op:
	case <-c.done:
	}
}

// Write forwards raw bytes to the process input. Dropped silently when the
// process is not running.
func (c *Controller) Write(p []byte) {
	if !c.Running() || len(p) == 0 {
		return
	}
	data := append([]byte(nil), p...)
	c.enqueue(func(f *os.File) {
		if _, err := f.Write(data); err != nil {
			c.log.Warn("write failed", "err", err)
		}
	})
}

// Resize changes the terminal size. Repeating the current size, or resizing
// a process that is not running, does nothing.
func (c *Controller) Resize(cols, rows int) {
	if cols <= 0 || rows <= 0 {
		return
	}
	c.mu.Lock()
	if !c.running || (cols == c.wantCols && rows == c.wantRows) {
		c.mu.Unlock()
		return
	}
	c.wantCols, c.wantRows = cols, rows
	c.mu.Unlock()

	c.enqueue(func(f *os.File) {
		err := c.setsize(f, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
		c.mu.Lock()
		if err != nil {
			// Forget the request so the same size can be retried.
			if c.wantCols == cols && c.wantRows == rows {
				c.wantCols, c.wantRows = c.cols, c.rows
			}
			c.mu.Unlock()
			c.log.Warn("resize failed", "cols", cols, "rows", rows, "err", err)
			return
		}
		c.cols, c.rows = cols, rows
		c.setsizeCalls++
		c.mu.Unlock()
		c.log.Debug("resized", "cols", cols, "rows", rows)
	})
}

// Kill terminates the process group (SIGTERM, then SIGKILL after a grace
// period) and runs registered cleanups. Safe to call more than once.
func (c *Controller) Kill() {
	c.killOnce.Do(func() {
		c.mu.Lock()
		cmd := c.cmd
		running := c.running
		c.mu.Unlock()

		if running && cmd != nil && cmd.Process != nil {
			pid := cmd.Process.Pid
			c.log.Info("killing", "pid", pid)
			if err := unix.Kill(-pid, unix.SIGTERM); err != nil {
				cmd.Process.Signal(unix.SIGTERM)
			}
			select {
			case <-c.done:
			case <-time.After(killGrace):
				unix.Kill(-pid, unix.SIGKILL)
				cmd.Process.Kill()
				<-c.done
			}
		}
		c.runCleanups()
	})
}

// AddCleanup registers fn to run once when the process exits or is killed.
func (c *Controller) AddCleanup(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanups = append(c.cleanups, fn)
}

func (c *Controller) runCleanups() {
	c.cleanupOnce.Do(func() {
		c.mu.Lock()
		fns := c.cleanups
		c.cleanups = nil
		c.mu.Unlock()
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	})
}

func (c *Controller) finish(code int) {
	c.mu.Lock()
	c.running = false
	c.exitCode = code
	subs := make([]*Subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.subs = nil
	c.mu.Unlock()

	c.log.Info("exited", "code", code)
	for _, s := range subs {
		s.push(Event{Kind: EventExit, ExitCode: code})
	}
	c.runCleanups()
	close(c.done)
}

// Running reports whether the process is alive.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Size returns the terminal size last applied to the PTY.
func (c *Controller) Size() (cols, rows int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cols, c.rows
}

// Done is closed after the exit event has been published.
func (c *Controller) Done() <-chan struct{} { return c.done }

// ExitCode is valid once Done is closed.
func (c *Controller) ExitCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitCode
}

// Wait blocks until the process exits or ctx ends.
func (c *Controller) Wait(ctx context.Context) (int, error) {
	select {
	case <-c.done:
		return c.ExitCode(), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
