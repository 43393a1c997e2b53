package ptyctl

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// ErrNotTerminal is returned by StartMirror when stdin is not a TTY.
var ErrNotTerminal = errors.New("pty: input is not a terminal")

// LocalSize reports the size of the terminal on f.
func LocalSize(f *os.File) (cols, rows int, ok bool) {
	cols, rows, err := term.GetSize(int(f.Fd()))
	if err != nil || cols <= 0 || rows <= 0 {
		return 0, 0, false
	}
	return cols, rows, true
}

// StartMirror puts in into raw mode, copies keystrokes from in to the process
// and output to out. Raw mode is restored when the process exits or is
// killed.
func (c *Controller) StartMirror(in *os.File, out io.Writer) error {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return ErrNotTerminal
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return err
	}
	c.AddCleanup(func() { term.Restore(fd, state) })

	sub := c.Subscribe()
	go func() {
		for ev := range sub.C {
			if ev.Kind == EventOutput {
				out.Write(ev.Data)
			}
		}
	}()

	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := in.Read(buf)
			if n > 0 {
				c.Write(buf[:n])
			}
			if err != nil {
				return
			}
			select {
			case <-c.done:
				return
			default:
			}
		}
	}()
	return nil
}

// WatchResize calls fn with the new local size on every SIGWINCH until ctx
// ends.
func WatchResize(ctx context.Context, f *os.File, fn func(cols, rows int)) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGWINCH)
	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigCh:
				if cols, rows, ok := LocalSize(f); ok {
					fn(cols, rows)
				}
			}
		}
	}()
}
