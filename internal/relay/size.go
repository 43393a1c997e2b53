package relay

import "context"

// ReportSize records a client's viewport and reconciles.
func (r *Relay) ReportSize(id string, cols, rows int) {
	if cols <= 0 || rows <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return
	}
	c.cols, c.rows = cols, rows
	r.reconcileLocked()
}

// SetLocalSize records the mirrored local terminal's size and reconciles.
func (r *Relay) SetLocalSize(cols, rows int) {
	if cols <= 0 || rows <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local = &size{cols: cols, rows: rows}
	r.reconcileLocked()
}

// EffectiveSize is the componentwise minimum of the local terminal and every
// client. ok is false when there is nothing to take a minimum over.
func (r *Relay) EffectiveSize() (cols, rows int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.effectiveLocked()
	return s.cols, s.rows, ok
}

func (r *Relay) effectiveLocked() (size, bool) {
	var s size
	have := false
	if r.local != nil {
		s = *r.local
		have = true
	}
	for _, c := range r.order {
		if !have {
			s = size{cols: c.cols, rows: c.rows}
			have = true
			continue
		}
		s.cols = min(s.cols, c.cols)
		s.rows = min(s.rows, c.rows)
	}
	return s, have
}

func (r *Relay) reconcileLocked() {
	s, ok := r.effectiveLocked()
	if !ok || s == r.applied {
		return
	}
	r.applied = s
	r.term.Resize(s.cols, s.rows)
	r.metrics.Resizes.Add(context.Background(), 1)
	r.log.Debug("effective size", "cols", s.cols, "rows", s.rows)
}
