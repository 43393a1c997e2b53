package asr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"

	"github.com/ehrlich-b/voxterm/internal/ws"
)

// CorrectTimeout bounds a standalone correction round trip.
const CorrectTimeout = 30 * time.Second

// Correct runs a standalone correction over a short-lived backend
// connection, for clients with no open transcription session. The outcome
// always reaches sink: either the corrected text followed by done, or an
// error carrying the original transcript as fallback.
func Correct(ctx context.Context, cfg Config, transcript, termContext string, sink Sink, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	corrected, err := correct(ctx, cfg.withDefaults(), transcript, termContext)
	if err != nil {
		logger.Warn("correction failed", "component", "asr", "err", err)
		sink(ws.ClaudeFailure(err.Error(), transcript))
		return
	}
	sink(ws.ClaudeText(corrected))
	sink(ws.ClaudeDone())
}

func correct(ctx context.Context, cfg Config, transcript, termContext string) (string, error) {
	if cfg.URL == "" {
		return "", ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, CorrectTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, cfg.URL, nil)
	if err != nil {
		return "", fmt.Errorf("dial backend: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(readLimit)

	req, err := json.Marshal(ws.CorrectionRequest{Type: ws.TypeClaudeProcess, Transcript: transcript, Context: termContext})
	if err != nil {
		return "", err
	}
	if err := conn.Write(ctx, websocket.MessageText, req); err != nil {
		return "", fmt.Errorf("send correction: %w", err)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", errors.New("correction timed out")
			}
			return "", fmt.Errorf("read correction: %w", err)
		}
		msg, err := ws.DecodeBackend(data)
		if err != nil {
			continue
		}
		switch m := msg.(type) {
		case ws.CorrectionResult:
			return m.Corrected, nil
		case ws.BackendError:
			return "", errors.New(m.Message)
		}
	}
}
