// Package relay fans one shared terminal out to many browser clients.
//
// A Relay owns the client registry, the size reconciler, the output history
// and the broadcaster. All of that state sits behind one mutex that is never
// held across network I/O: outbound messages go through each client's
// bounded queue, drained by that client's own writer goroutine.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ehrlich-b/voxterm/internal/asr"
	"github.com/ehrlich-b/voxterm/internal/observe"
	"github.com/ehrlich-b/voxterm/internal/ws"
)

// Terminal is the slice of the PTY controller the relay drives.
type Terminal interface {
	Write(p []byte)
	Resize(cols, rows int)
}

// Options configures a Relay. Zero values pick the defaults.
type Options struct {
	Logger  *slog.Logger
	Metrics *observe.Metrics

	HistoryCapacity int
	HistoryTrimTo   int

	// Fallback viewport assumed for a client until it reports one.
	DefaultCols int
	DefaultRows int

	SendQueue  int     // per-client outbound queue length
	InputRate  float64 // input messages per second per client; 0 means unlimited
	InputBurst int

	ASR asr.Config
}

type size struct {
	cols, rows int
}

// Relay is the single shared session aggregate.
type Relay struct {
	term    Terminal
	log     *slog.Logger
	metrics *observe.Metrics
	opts    Options

	mu       sync.Mutex
	clients  map[string]*Client
	order    []*Client // registration order
	local    *size
	applied  size
	history  *History
	exited   bool
	exitCode int
	asrCfg   asr.Config
}

func New(term Terminal, opts Options) *Relay {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = observe.Discard()
	}
	if opts.DefaultCols <= 0 || opts.DefaultRows <= 0 {
		opts.DefaultCols, opts.DefaultRows = 80, 24
	}
	if opts.SendQueue <= 0 {
		opts.SendQueue = 256
	}
	return &Relay{
		term:    term,
		log:     opts.Logger.With("component", "relay"),
		metrics: opts.Metrics,
		opts:    opts,
		clients: make(map[string]*Client),
		history: NewHistory(opts.HistoryCapacity, opts.HistoryTrimTo),
		asrCfg:  opts.ASR,
	}
}

// SetASRConfig replaces the backend settings used by clients that connect
// from now on.
func (r *Relay) SetASRConfig(cfg asr.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asrCfg = cfg
}

// ASRConfig returns the backend settings new clients get.
func (r *Relay) ASRConfig() asr.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.asrCfg
}

// AddClient registers a client with the fallback size and queues the
// history replay as its first message. kick is called if the client has to
// be dropped for falling behind.
func (r *Relay) AddClient(kick func()) *Client {
	c := &Client{
		ID:   uuid.New().String()[:8],
		send: make(chan []byte, r.opts.SendQueue),
		kick: kick,
	}
	if r.opts.InputRate > 0 {
		burst := max(r.opts.InputBurst, 1)
		c.limiter = rate.NewLimiter(rate.Limit(r.opts.InputRate), burst)
	}
	logger := r.log.With("client", c.ID)
	c.log = logger

	r.mu.Lock()
	c.cols, c.rows = r.opts.DefaultCols, r.opts.DefaultRows
	c.bridge = asr.NewBridge(r.asrCfg, r.sinkFor(c), logger, r.metrics)

	hist, _ := json.Marshal(ws.History{Type: ws.TypeHistory, Data: r.history.Snapshot()})
	c.enqueue(hist)
	if r.exited {
		exit, _ := json.Marshal(ws.Exit{Type: ws.TypeExit, Code: r.exitCode})
		c.enqueue(exit)
	}
	r.clients[c.ID] = c
	r.order = append(r.order, c)
	n := len(r.order)
	r.reconcileLocked()
	r.mu.Unlock()

	r.metrics.ConnectedClients.Add(context.Background(), 1)
	logger.Info("client connected", "clients", n)
	return c
}

// RemoveClient drops the client, closes its transcription session without
// a grace window and reconciles the size.
func (r *Relay) RemoveClient(id string) {
	r.mu.Lock()
	c, ok := r.clients[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.clients, id)
	for i, oc := range r.order {
		if oc == c {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	n := len(r.order)
	r.reconcileLocked()
	r.mu.Unlock()

	c.markClosed()
	c.bridge.Close()
	r.metrics.ConnectedClients.Add(context.Background(), -1)
	c.log.Info("client disconnected", "clients", n)
}

// Client returns the registered client with the given id.
func (r *Relay) Client(id string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clients[id]
}

// ClientCount returns the number of registered clients.
func (r *Relay) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Exited reports whether the exit event has been broadcast.
func (r *Relay) Exited() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exited
}

// DisconnectAll kicks every client.
func (r *Relay) DisconnectAll() {
	r.mu.Lock()
	clients := append([]*Client(nil), r.order...)
	r.mu.Unlock()
	for _, c := range clients {
		c.disconnect(false)
	}
}

// sinkFor returns the function the client's transcription bridge uses to
// reach the browser.
func (r *Relay) sinkFor(c *Client) asr.Sink {
	return func(msg any) {
		r.sendTo(c, msg)
	}
}

// sendTo queues one message for a single client.
func (r *Relay) sendTo(c *Client, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Warn("marshal failed", "err", err)
		return
	}
	if !c.enqueue(data) {
		r.dropSlow(c)
	}
}

func (r *Relay) dropSlow(c *Client) {
	if c.isClosed() {
		return
	}
	r.metrics.RecordDrop(context.Background(), "slow_consumer")
	c.log.Warn("send queue full, disconnecting client")
	c.disconnect(true)
}
