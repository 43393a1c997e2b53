// Package observe holds the relay's OpenTelemetry instruments. Metrics are
// exported for Prometheus scraping via [InitProvider]; tests build a
// [Metrics] from a no-op or in-memory provider with [NewMetrics].
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/ehrlich-b/voxterm"

// Metrics holds every instrument the relay records. Safe for concurrent use.
type Metrics struct {
	// ConnectedClients tracks browsers currently attached to the terminal.
	ConnectedClients metric.Int64UpDownCounter

	// ASRSessions tracks open transcription backend connections.
	ASRSessions metric.Int64UpDownCounter

	// OutputBytes counts PTY output bytes broadcast to clients.
	OutputBytes metric.Int64Counter

	// InputBytes counts client keystroke bytes written to the PTY.
	InputBytes metric.Int64Counter

	// DroppedMessages counts messages not delivered. Use with attribute
	//   attribute.String("reason", ...)
	DroppedMessages metric.Int64Counter

	// Resizes counts effective size changes applied to the PTY.
	Resizes metric.Int64Counter

	// MalformedMessages counts rejected client envelopes.
	MalformedMessages metric.Int64Counter

	// AudioChunks counts audio chunks forwarded to the transcription backend.
	AudioChunks metric.Int64Counter

	// LoginAttempts counts PIN logins. Use with attribute
	//   attribute.String("status", "ok"|"bad_pin"|"rate_limited")
	LoginAttempts metric.Int64Counter
}

// NewMetrics creates all instruments from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ConnectedClients, err = m.Int64UpDownCounter("voxterm.clients.connected",
		metric.WithDescription("Number of connected browser clients."),
	); err != nil {
		return nil, err
	}
	if met.ASRSessions, err = m.Int64UpDownCounter("voxterm.asr.sessions",
		metric.WithDescription("Number of open transcription backend connections."),
	); err != nil {
		return nil, err
	}
	if met.OutputBytes, err = m.Int64Counter("voxterm.pty.output",
		metric.WithDescription("PTY output broadcast to clients."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.InputBytes, err = m.Int64Counter("voxterm.pty.input",
		metric.WithDescription("Client input written to the PTY."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.DroppedMessages, err = m.Int64Counter("voxterm.messages.dropped",
		metric.WithDescription("Messages dropped by reason."),
	); err != nil {
		return nil, err
	}
	if met.Resizes, err = m.Int64Counter("voxterm.pty.resizes",
		metric.WithDescription("Effective terminal size changes."),
	); err != nil {
		return nil, err
	}
	if met.MalformedMessages, err = m.Int64Counter("voxterm.messages.malformed",
		metric.WithDescription("Rejected client envelopes."),
	); err != nil {
		return nil, err
	}
	if met.AudioChunks, err = m.Int64Counter("voxterm.asr.audio_chunks",
		metric.WithDescription("Audio chunks forwarded to the transcription backend."),
	); err != nil {
		return nil, err
	}
	if met.LoginAttempts, err = m.Int64Counter("voxterm.auth.logins",
		metric.WithDescription("PIN login attempts by status."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// Discard returns instruments backed by a no-op provider.
func Discard() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic("observe: noop metrics: " + err.Error())
	}
	return m
}

// RecordDrop increments DroppedMessages with a reason attribute.
func (m *Metrics) RecordDrop(ctx context.Context, reason string) {
	m.DroppedMessages.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordLogin increments LoginAttempts with a status attribute.
func (m *Metrics) RecordLogin(ctx context.Context, status string) {
	m.LoginAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
