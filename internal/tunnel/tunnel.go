// Package tunnel exposes the local listener under a public URL. The URL is
// opaque to the rest of the program.
package tunnel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

var (
	ErrTimeout = errors.New("tunnel: no public url before timeout")
	ErrExited  = errors.New("tunnel: process exited before announcing a url")
)

// DefaultTimeout is the ceiling on tunnel registration.
const DefaultTimeout = 30 * time.Second

// Tunnel publishes a local port.
type Tunnel interface {
	Open(ctx context.Context, port int) (string, error)
	Close() error
}

// None serves the local address only.
type None struct{}

func (None) Open(_ context.Context, port int) (string, error) {
	return "http://127.0.0.1:" + strconv.Itoa(port), nil
}

func (None) Close() error { return nil }

// Static is a tunnel managed outside this process with a known URL.
type Static struct {
	URL string
}

func (s Static) Open(context.Context, int) (string, error) {
	if s.URL == "" {
		return "", errors.New("tunnel: static url is empty")
	}
	return strings.TrimRight(s.URL, "/"), nil
}

func (Static) Close() error { return nil }

var urlPattern = regexp.MustCompile(`https://[A-Za-z0-9.-]+(?::[0-9]+)?(?:/[^\s"'<>]*)?`)

// Command runs an external tunnel program (cloudflared, ngrok, ssh -R ...)
// and waits for it to print an https URL on stdout or stderr. "{port}" in
// Args is replaced with the local port.
type Command struct {
	Name    string
	Args    []string
	Timeout time.Duration
	Logger  *slog.Logger

	mu  sync.Mutex
	cmd *exec.Cmd
}

func (c *Command) Open(ctx context.Context, port int) (string, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "tunnel")

	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = strings.ReplaceAll(a, "{port}", strconv.Itoa(port))
	}
	cmd := exec.Command(c.Name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", err
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start tunnel %q: %w", c.Name, err)
	}
	c.mu.Lock()
	c.cmd = cmd
	c.mu.Unlock()
	logger.Info("tunnel starting", "cmd", c.Name, "pid", cmd.Process.Pid)

	found := make(chan string, 1)
	var wg sync.WaitGroup
	scan := func(r io.Reader) {
		defer wg.Done()
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			line := sc.Text()
			logger.Debug("tunnel output", "line", line)
			if u := urlPattern.FindString(line); u != "" {
				select {
				case found <- u:
				default:
				}
			}
		}
	}
	wg.Add(2)
	go scan(stdout)
	go scan(stderr)
	exited := make(chan struct{})
	go func() {
		wg.Wait()
		cmd.Wait()
		close(exited)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case u := <-found:
		logger.Info("tunnel ready", "url", u)
		return u, nil
	case <-exited:
		select {
		case u := <-found:
			return u, nil
		default:
		}
		return "", ErrExited
	case <-timer.C:
		c.Close()
		return "", ErrTimeout
	case <-ctx.Done():
		c.Close()
		return "", ctx.Err()
	}
}

// Close stops the tunnel process group.
func (c *Command) Close() error {
	c.mu.Lock()
	cmd := c.cmd
	c.cmd = nil
	c.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := unix.Kill(-cmd.Process.Pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return cmd.Process.Kill()
	}
	return nil
}

// New picks a tunnel implementation by mode: "none", "static" or "command".
func New(mode, url, name string, args []string, timeout time.Duration, logger *slog.Logger) (Tunnel, error) {
	switch mode {
	case "", "none":
		return None{}, nil
	case "static":
		return Static{URL: url}, nil
	case "command":
		if name == "" {
			return nil, errors.New("tunnel: command mode needs tunnel.command")
		}
		return &Command{Name: name, Args: args, Timeout: timeout, Logger: logger}, nil
	}
	return nil, fmt.Errorf("tunnel: unknown mode %q", mode)
}
