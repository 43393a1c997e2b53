// Package asr bridges one browser's transcription session to the external
// speech-recognition backend.
//
// A Bridge moves through Closed → Connecting → Ready → Closing → Closed.
// Audio is forwarded only while Ready. Stop keeps the backend connection
// open for a grace window so trailing results can arrive; Close tears it
// down immediately.
package asr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ehrlich-b/voxterm/internal/observe"
	"github.com/ehrlich-b/voxterm/internal/ws"
)

var (
	ErrAlreadyActive = errors.New("transcription already active")
	ErrNotConnected  = errors.New("asr: no backend connection")
	ErrNotConfigured = errors.New("asr: backend url not configured")
)

const (
	outQueueSize = 256
	writeTimeout = 10 * time.Second
	readLimit    = 1 << 20
)

// State is the bridge's position in its lifecycle.
type State int

const (
	Closed State = iota
	Connecting
	Ready
	Closing
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case Closing:
		return "closing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Config selects the backend and session defaults.
type Config struct {
	URL         string
	Language    string
	Model       string
	Grace       time.Duration // how long Stop waits for trailing results
	DialTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Language == "" {
		c.Language = "en"
	}
	if c.Grace <= 0 {
		c.Grace = time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	return c
}

// Sink receives messages bound for the browser. It must not block.
type Sink func(msg any)

// Bridge owns at most one backend session at a time.
type Bridge struct {
	cfg     Config
	sink    Sink
	log     *slog.Logger
	metrics *observe.Metrics

	mu    sync.Mutex
	state State
	sess  *session
}

type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	out    chan []byte

	// guarded by Bridge.mu
	conn    *websocket.Conn
	chunks  int
	context string
	pending []string // transcripts awaiting a correction result, oldest first
	grace   *time.Timer
}

// NewBridge returns a closed bridge. metrics may be nil.
func NewBridge(cfg Config, sink Sink, logger *slog.Logger, metrics *observe.Metrics) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observe.Discard()
	}
	return &Bridge{
		cfg:     cfg.withDefaults(),
		sink:    sink,
		log:     logger.With("component", "asr"),
		metrics: metrics,
	}
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Chunks returns how many audio chunks the current session forwarded.
func (b *Bridge) Chunks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sess == nil {
		return 0
	}
	return b.sess.chunks
}

// Start opens a backend session. It returns ErrAlreadyActive unless the
// bridge is Closed. The dial happens in the background; the browser is told
// asr_ready once the backend confirms.
func (b *Bridge) Start(language, termContext string) error {
	if b.cfg.URL == "" {
		return ErrNotConfigured
	}
	if language == "" {
		language = b.cfg.Language
	}

	b.mu.Lock()
	if b.state != Closed {
		b.mu.Unlock()
		return ErrAlreadyActive
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		ctx:     ctx,
		cancel:  cancel,
		out:     make(chan []byte, outQueueSize),
		context: termContext,
	}
	b.sess = s
	b.state = Connecting
	b.mu.Unlock()

	b.metrics.ASRSessions.Add(ctx, 1)
	b.log.Info("session connecting", "language", language)

	enqueue(s, ws.StartASR{Type: ws.TypeStartASR, Config: ws.ASRConfig{Language: language, Model: b.cfg.Model}})
	if termContext != "" {
		enqueue(s, ws.ContextUpdate{Type: ws.TypeContextUpdate, Context: termContext})
	}

	go b.run(s)
	return nil
}

func enqueue(s *session, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	select {
	case s.out <- data:
		return true
	default:
		return false
	}
}

func (b *Bridge) run(s *session) {
	dialCtx, cancel := context.WithTimeout(s.ctx, b.cfg.DialTimeout)
	conn, _, err := websocket.Dial(dialCtx, b.cfg.URL, nil)
	cancel()
	if err != nil {
		if s.ctx.Err() == nil {
			b.log.Warn("backend dial failed", "err", err)
			b.sink(ws.ASRFailure("transcription backend unavailable"))
		}
		b.teardown(s, "dial failed")
		return
	}
	conn.SetReadLimit(readLimit)

	b.mu.Lock()
	if b.sess != s {
		b.mu.Unlock()
		conn.CloseNow()
		return
	}
	s.conn = conn
	b.mu.Unlock()

	go b.writeLoop(s, conn)
	b.readLoop(s, conn)
}

func (b *Bridge) writeLoop(s *session, conn *websocket.Conn) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case data := <-s.out:
			ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
			err := conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				if s.ctx.Err() == nil {
					b.log.Warn("backend write failed", "err", err)
				}
				return
			}
		}
	}
}

func (b *Bridge) readLoop(s *session, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(s.ctx)
		if err != nil {
			b.mu.Lock()
			unexpected := b.sess == s && (b.state == Connecting || b.state == Ready)
			b.mu.Unlock()
			if unexpected {
				b.log.Warn("backend closed connection", "err", err)
				b.sink(ws.ASRFailure("transcription backend closed the connection"))
			}
			b.teardown(s, "backend closed")
			return
		}
		msg, err := ws.DecodeBackend(data)
		if err != nil {
			b.log.Warn("bad backend message", "err", err)
			continue
		}
		b.handle(s, msg)
	}
}

// HandleBackend applies one backend message to the current session.
func (b *Bridge) HandleBackend(msg ws.BackendMessage) {
	b.mu.Lock()
	s := b.sess
	b.mu.Unlock()
	if s != nil {
		b.handle(s, msg)
	}
}

func (b *Bridge) handle(s *session, msg ws.BackendMessage) {
	b.mu.Lock()
	if b.sess != s {
		b.mu.Unlock()
		return
	}

	switch m := msg.(type) {
	case ws.Connected:
		if b.state != Connecting {
			b.mu.Unlock()
			return
		}
		b.state = Ready
		b.mu.Unlock()
		b.log.Info("session ready")
		b.sink(ws.ForBrowser(m))

	case ws.CorrectionResult:
		if len(s.pending) == 0 {
			b.mu.Unlock()
			b.sink(ws.ForBrowser(m))
			return
		}
		s.pending = s.pending[1:]
		b.mu.Unlock()
		b.sink(ws.ClaudeText(m.Corrected))
		b.sink(ws.ClaudeDone())

	case ws.BackendError:
		pending := s.pending
		s.pending = nil
		b.mu.Unlock()
		b.log.Warn("backend error", "message", m.Message)
		if len(pending) > 0 {
			for _, t := range pending {
				b.sink(ws.ClaudeFailure(m.Message, t))
			}
		} else {
			b.sink(ws.ForBrowser(m))
		}
		b.teardown(s, "backend error")

	default:
		b.mu.Unlock()
		b.sink(ws.ForBrowser(msg))
	}
}

// Audio forwards one base64 chunk when Ready. Otherwise the chunk is
// dropped and Audio returns false.
func (b *Bridge) Audio(audio string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Ready {
		return false
	}
	if !enqueue(b.sess, ws.AudioData{Type: ws.TypeAudioData, Audio: audio}) {
		b.metrics.RecordDrop(b.sess.ctx, "asr_queue_full")
		return false
	}
	b.sess.chunks++
	b.metrics.AudioChunks.Add(b.sess.ctx, 1)
	return true
}

// Correct sends a correction request over the open session, including one
// still draining its grace window. The result is streamed to the sink as
// claude_response messages. Returns ErrNotConnected when no session can
// carry it.
func (b *Bridge) Correct(transcript, termContext string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Closed || b.sess == nil {
		return ErrNotConnected
	}
	req := ws.CorrectionRequest{Type: ws.TypeClaudeProcess, Transcript: transcript, Context: termContext}
	if !enqueue(b.sess, req) {
		return ErrNotConnected
	}
	b.sess.pending = append(b.sess.pending, transcript)
	return nil
}

// Stop begins graceful teardown: stop_asr is sent and the connection stays
// open for the grace window.
func (b *Bridge) Stop() {
	b.mu.Lock()
	s := b.sess
	switch b.state {
	case Ready:
		b.state = Closing
		enqueue(s, ws.StopASR{Type: ws.TypeStopASR})
		s.grace = time.AfterFunc(b.cfg.Grace, func() { b.teardown(s, "grace expired") })
		chunks := s.chunks
		b.mu.Unlock()
		b.log.Info("session closing", "chunks", chunks)
	case Connecting:
		b.mu.Unlock()
		b.teardown(s, "stopped before ready")
	default:
		b.mu.Unlock()
	}
}

// Close tears the session down immediately.
func (b *Bridge) Close() {
	b.mu.Lock()
	s := b.sess
	b.mu.Unlock()
	if s != nil {
		b.teardown(s, "closed")
	}
}

func (b *Bridge) teardown(s *session, reason string) {
	b.mu.Lock()
	if b.sess != s {
		b.mu.Unlock()
		return
	}
	b.sess = nil
	b.state = Closed
	if s.grace != nil {
		s.grace.Stop()
	}
	conn := s.conn
	pending := s.pending
	s.pending = nil
	chunks := s.chunks
	b.mu.Unlock()

	s.cancel()
	if conn != nil {
		conn.CloseNow()
	}
	for _, t := range pending {
		b.sink(ws.ClaudeFailure("transcription session closed", t))
	}
	b.metrics.ASRSessions.Add(context.Background(), -1)
	b.log.Info("session closed", "reason", reason, "chunks", chunks)
}
