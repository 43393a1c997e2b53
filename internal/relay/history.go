package relay

// History is the bounded trailing window of PTY output replayed to late
// joiners. When it grows past capacity it is cut back to the newest trimTo
// chunks in one step, so the trim cost is paid rarely.
type History struct {
	chunks   []string
	capacity int
	trimTo   int
}

const (
	DefaultHistoryCapacity = 5000
	DefaultHistoryTrimTo   = 3000
)

func NewHistory(capacity, trimTo int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	if trimTo <= 0 || trimTo > capacity {
		trimTo = min(DefaultHistoryTrimTo, capacity)
	}
	return &History{capacity: capacity, trimTo: trimTo}
}

// Push appends a chunk, trimming if the buffer overflowed.
func (h *History) Push(chunk string) {
	h.chunks = append(h.chunks, chunk)
	if len(h.chunks) > h.capacity {
		kept := make([]string, h.trimTo)
		copy(kept, h.chunks[len(h.chunks)-h.trimTo:])
		h.chunks = kept
	}
}

// Snapshot returns a copy of the buffered chunks, oldest first.
func (h *History) Snapshot() []string {
	out := make([]string, len(h.chunks))
	copy(out, h.chunks)
	return out
}

func (h *History) Len() int { return len(h.chunks) }
