package relay

import (
	"context"
	"encoding/json"

	"github.com/ehrlich-b/voxterm/internal/ptyctl"
	"github.com/ehrlich-b/voxterm/internal/ws"
)

// Run consumes the PTY event stream until the exit event, appending output
// to history and queueing it to every client in registration order. It
// returns the exit code, or ctx.Err() if cancelled first.
func (r *Relay) Run(ctx context.Context, events <-chan ptyctl.Event) (int, error) {
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return r.exitCodeOrZero(), nil
			}
			switch ev.Kind {
			case ptyctl.EventOutput:
				r.broadcastOutput(ctx, ev.Data)
			case ptyctl.EventExit:
				r.broadcastExit(ev.ExitCode)
				return ev.ExitCode, nil
			}
		}
	}
}

func (r *Relay) exitCodeOrZero() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exitCode
}

func (r *Relay) broadcastOutput(ctx context.Context, chunk []byte) {
	text := string(chunk)
	data, err := json.Marshal(ws.Output{Type: ws.TypeOutput, Data: text})
	if err != nil {
		return
	}

	var slow []*Client
	r.mu.Lock()
	if r.exited {
		r.mu.Unlock()
		return
	}
	r.history.Push(text)
	for _, c := range r.order {
		if !c.enqueue(data) {
			slow = append(slow, c)
		}
	}
	r.mu.Unlock()

	r.metrics.OutputBytes.Add(ctx, int64(len(chunk)))
	for _, c := range slow {
		r.dropSlow(c)
	}
}

func (r *Relay) broadcastExit(code int) {
	data, _ := json.Marshal(ws.Exit{Type: ws.TypeExit, Code: code})

	r.mu.Lock()
	r.exited = true
	r.exitCode = code
	clients := append([]*Client(nil), r.order...)
	for _, c := range clients {
		c.enqueue(data)
	}
	r.mu.Unlock()

	r.log.Info("process exited", "code", code, "clients", len(clients))
}
