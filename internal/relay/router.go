package relay

import (
	"context"
	"errors"

	"github.com/ehrlich-b/voxterm/internal/asr"
	"github.com/ehrlich-b/voxterm/internal/ws"
)

// Route decodes one client message and dispatches it. Malformed or unknown
// envelopes are logged and dropped.
func (r *Relay) Route(ctx context.Context, c *Client, data []byte) {
	msg, err := ws.DecodeClient(data)
	if err != nil {
		r.metrics.MalformedMessages.Add(ctx, 1)
		c.log.Warn("dropping client message", "err", err)
		return
	}

	switch m := msg.(type) {
	case ws.Input:
		if !c.allowInput() {
			r.metrics.RecordDrop(ctx, "input_rate")
			c.log.Warn("input rate exceeded, dropping", "bytes", len(m.Data))
			return
		}
		r.term.Write([]byte(m.Data))
		r.metrics.InputBytes.Add(ctx, int64(len(m.Data)))

	case ws.Resize:
		r.ReportSize(c.ID, m.Cols, m.Rows)

	case ws.ASRStart:
		if err := c.bridge.Start(m.Language, m.Context); err != nil {
			c.log.Warn("asr start rejected", "err", err)
			r.sendTo(c, ws.ASRFailure(startError(err)))
		}

	case ws.ASRAudio:
		if !c.bridge.Audio(m.Audio) {
			c.log.Debug("audio dropped", "state", c.bridge.State())
		}

	case ws.ASRStop:
		c.bridge.Stop()

	case ws.ClaudeProcess:
		if err := c.bridge.Correct(m.Transcript, m.Context); err == nil {
			return
		}
		cfg := r.ASRConfig()
		go asr.Correct(ctx, cfg, m.Transcript, m.Context, r.sinkFor(c), c.log)
	}
}

func startError(err error) string {
	switch {
	case errors.Is(err, asr.ErrAlreadyActive):
		return asr.ErrAlreadyActive.Error()
	case errors.Is(err, asr.ErrNotConfigured):
		return "transcription backend not configured"
	}
	return err.Error()
}
