package ptyctl

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/creack/pty"
)

func requireBin(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
}

func spawn(t *testing.T, opts Options) *Controller {
	t.Helper()
	c := New(nil)
	if err := c.Spawn(opts); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	t.Cleanup(c.Kill)
	return c
}

// collect reads the subscription until output contains want or the stream ends.
func collect(t *testing.T, sub *Subscription, want string) (string, *Event) {
	t.Helper()
	var out bytes.Buffer
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return out.String(), nil
			}
			if ev.Kind == EventExit {
				return out.String(), &ev
			}
			out.Write(ev.Data)
			if want != "" && strings.Contains(out.String(), want) {
				return out.String(), nil
			}
		case <-deadline:
			t.Fatalf("timed out; got %q", out.String())
		}
	}
}

func TestSpawnEcho(t *testing.T) {
	requireBin(t, "cat")
	c := New(nil)
	sub := c.Subscribe()
	if err := c.Spawn(Options{Command: "cat", Cols: 100, Rows: 30}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	t.Cleanup(c.Kill)

	if cols, rows := c.Size(); cols != 100 || rows != 30 {
		t.Errorf("Size = %dx%d, want 100x30", cols, rows)
	}
	c.Write([]byte("hello-pty\n"))
	out, _ := collect(t, sub, "hello-pty")
	if !strings.Contains(out, "hello-pty") {
		t.Errorf("output %q missing echo", out)
	}
}

func TestSpawnMissingBinary(t *testing.T) {
	c := New(nil)
	err := c.Spawn(Options{Command: "definitely-not-a-real-binary-xyz"})
	if err == nil {
		t.Fatal("expected error")
	}
	if c.Running() {
		t.Error("should not be running")
	}
}

func TestSpawnTwice(t *testing.T) {
	requireBin(t, "cat")
	c := spawn(t, Options{Command: "cat"})
	if err := c.Spawn(Options{Command: "cat"}); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Spawn = %v, want ErrAlreadyRunning", err)
	}
}

func TestExitEvent(t *testing.T) {
	requireBin(t, "sh")
	c := New(nil)
	sub := c.Subscribe()
	if err := c.Spawn(Options{Command: "sh", Args: []string{"-c", "printf done; exit 3"}}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	out, exit := collect(t, sub, "")
	if exit == nil {
		t.Fatal("no exit event")
	}
	if exit.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", exit.ExitCode)
	}
	if !strings.Contains(out, "done") {
		t.Errorf("output %q should precede exit", out)
	}
	if _, ok := <-sub.C; ok {
		t.Error("channel should be closed after exit")
	}

	<-c.Done()
	if c.Running() {
		t.Error("Running after exit")
	}
	// Writes and resizes after exit are no-ops.
	c.Write([]byte("ignored"))
	c.Resize(10, 10)
	if cols, _ := c.Size(); cols == 10 {
		t.Error("resize applied after exit")
	}

	late := c.Subscribe()
	ev, ok := <-late.C
	if !ok || ev.Kind != EventExit || ev.ExitCode != 3 {
		t.Errorf("late subscriber got %+v ok=%v", ev, ok)
	}
}

func TestResizeIdempotent(t *testing.T) {
	requireBin(t, "cat")
	c := spawn(t, Options{Command: "cat"})

	c.Resize(120, 40)
	c.Resize(120, 40)
	c.Resize(0, 40)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		n := c.setsizeCalls
		c.mu.Unlock()
		if n >= 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	c.mu.Lock()
	n := c.setsizeCalls
	c.mu.Unlock()
	if n != 1 {
		t.Errorf("setsize calls = %d, want 1", n)
	}
	if cols, rows := c.Size(); cols != 120 || rows != 40 {
		t.Errorf("Size = %dx%d, want 120x40", cols, rows)
	}
}

func TestKillIdempotentRunsCleanupOnce(t *testing.T) {
	requireBin(t, "sleep")
	c := spawn(t, Options{Command: "sleep", Args: []string{"30"}})
	var cleaned atomic.Int32
	c.AddCleanup(func() { cleaned.Add(1) })

	c.Kill()
	c.Kill()

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	if c.Running() {
		t.Error("still running after Kill")
	}
	if n := cleaned.Load(); n != 1 {
		t.Errorf("cleanup ran %d times, want 1", n)
	}
}

func TestUnsubscribeDoesNotBlockOthers(t *testing.T) {
	requireBin(t, "cat")
	c := New(nil)
	stalled := c.Subscribe()
	live := c.Subscribe()
	if err := c.Spawn(Options{Command: "cat"}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	t.Cleanup(c.Kill)
	stalled.Close()

	for i := 0; i < 300; i++ {
		c.Write([]byte("x"))
	}
	c.Write([]byte("marker\n"))
	if out, _ := collect(t, live, "marker"); !strings.Contains(out, "marker") {
		t.Errorf("live subscriber missed output: %q", out)
	}
}

func TestStalledSubscriberDoesNotBlockOthers(t *testing.T) {
	requireBin(t, "sh")
	requireBin(t, "head")
	requireBin(t, "tr")
	c := New(nil)
	c.subLimit = 256 << 10
	stalled := c.Subscribe() // never read
	live := c.Subscribe()
	err := c.Spawn(Options{Command: "sh", Args: []string{"-c", "head -c 600000 /dev/zero | tr '\\0' a; printf END"}})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	t.Cleanup(c.Kill)

	out, exit := collect(t, live, "")
	if exit == nil {
		t.Fatal("live subscriber got no exit event")
	}
	if n := strings.Count(out, "a"); n != 600000 || !strings.HasSuffix(out, "END") {
		t.Errorf("live subscriber got %d bytes of output, want 600000 then END", n)
	}
	if stalled.Dropped() == 0 {
		t.Error("stalled subscriber should have dropped output")
	}

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("exit blocked by stalled subscriber")
	}
}

func TestKillWithStalledSubscriber(t *testing.T) {
	requireBin(t, "yes")
	c := New(nil)
	c.subLimit = 64 << 10
	c.Subscribe() // never read
	if err := c.Spawn(Options{Command: "yes"}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	killed := make(chan struct{})
	go func() {
		c.Kill()
		close(killed)
	}()
	select {
	case <-killed:
	case <-time.After(10 * time.Second):
		t.Fatal("Kill hung behind a stalled subscriber")
	}
	if c.Running() {
		t.Error("still running after Kill")
	}
}

func waitSetsize(t *testing.T, c *Controller, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		got := c.setsizeCalls
		c.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("setsize calls never reached %d", n)
}

func TestResizeRetriedAfterFailure(t *testing.T) {
	requireBin(t, "cat")
	c := spawn(t, Options{Command: "cat"})

	attempts := make(chan struct{}, 4)
	fail := true
	c.setsize = func(f *os.File, ws *pty.Winsize) error {
		attempts <- struct{}{}
		if fail {
			fail = false
			return errors.New("setsize refused")
		}
		return pty.Setsize(f, ws)
	}

	c.Resize(100, 30)
	select {
	case <-attempts:
	case <-time.After(2 * time.Second):
		t.Fatal("resize never attempted")
	}
	time.Sleep(20 * time.Millisecond)
	if cols, rows := c.Size(); cols != 80 || rows != 24 {
		t.Errorf("Size after failed resize = %dx%d, want 80x24", cols, rows)
	}

	c.Resize(100, 30)
	waitSetsize(t, c, 1)
	if cols, rows := c.Size(); cols != 100 || rows != 30 {
		t.Errorf("Size = %dx%d, want 100x30", cols, rows)
	}
}

func TestIncompleteTail(t *testing.T) {
	euro := []byte("€") // e2 82 ac
	tests := []struct {
		in   []byte
		want int
	}{
		{[]byte("abc"), 0},
		{nil, 0},
		{euro, 0},
		{euro[:1], 1},
		{euro[:2], 2},
		{append([]byte("ab"), euro[:2]...), 2},
		{[]byte{0x80}, 0},
		{append([]byte("x"), []byte("😀")[:3]...), 3},
	}
	for _, tt := range tests {
		if got := incompleteTail(tt.in); got != tt.want {
			t.Errorf("incompleteTail(% x) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
