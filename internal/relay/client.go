package relay

import (
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/ehrlich-b/voxterm/internal/asr"
)

// Client is one connected browser.
type Client struct {
	ID string

	cols, rows int // guarded by Relay.mu

	send    chan []byte
	kick    func()
	limiter *rate.Limiter
	bridge  *asr.Bridge
	log     *slog.Logger

	mu     sync.Mutex
	closed bool
	kicked bool
	slow   bool
}

// Outbox is the client's outbound queue, drained by its writer.
func (c *Client) Outbox() <-chan []byte { return c.send }

// Bridge is the client's transcription session.
func (c *Client) Bridge() *asr.Bridge { return c.bridge }

// enqueue never blocks. It reports false only when the queue is full.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.kicked {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) disconnect(slow bool) {
	c.mu.Lock()
	if c.kicked {
		c.mu.Unlock()
		return
	}
	c.kicked = true
	c.slow = slow
	c.mu.Unlock()
	if c.kick != nil {
		c.kick()
	}
}

// Slow reports whether the client was dropped for not keeping up.
func (c *Client) Slow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slow
}

func (c *Client) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed || c.kicked
}

func (c *Client) allowInput() bool {
	return c.limiter == nil || c.limiter.Allow()
}
