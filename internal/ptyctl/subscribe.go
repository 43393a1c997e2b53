package ptyctl

import "sync"

// Subscription receives the output stream. C is closed after the exit event,
// or once the subscription is closed.
//
// Each subscription has its own queue drained by its own goroutine, so a
// reader that stops reading never holds up the PTY or other subscribers.
// When more than the controller's byte limit is waiting, further output for
// that subscriber is dropped until it catches up. The exit event is never
// dropped.
type Subscription struct {
	C <-chan Event

	c    *Controller
	id   int
	ch   chan Event
	done chan struct{}
	once sync.Once
	wake chan struct{}

	mu       sync.Mutex
	queue    []Event
	queued   int // bytes in queue
	limit    int
	ended    bool
	dropping bool
	dropped  int
}

// Subscribe registers a new observer of the output stream. Subscribing after
// the process exited yields a stream holding only the exit event.
func (c *Controller) Subscribe() *Subscription {
	ch := make(chan Event, 1)
	s := &Subscription{
		C:    ch,
		c:    c,
		ch:   ch,
		done: make(chan struct{}),
		wake: make(chan struct{}, 1),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs == nil {
		ch <- Event{Kind: EventExit, ExitCode: c.exitCode}
		close(ch)
		return s
	}
	s.limit = c.subLimit
	c.nextSub++
	s.id = c.nextSub
	c.subs[s.id] = s
	go s.pump()
	return s
}

// Close stops delivery and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.c.mu.Lock()
		if s.c.subs != nil {
			delete(s.c.subs, s.id)
		}
		s.c.mu.Unlock()
	})
}

// Dropped returns how many output bytes were discarded because the
// subscriber fell behind.
func (s *Subscription) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// push queues ev without blocking. It reports whether output started being
// dropped with this call.
func (s *Subscription) push(ev Event) (startedDropping bool) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return false
	}
	switch {
	case ev.Kind == EventExit:
		s.queue = append(s.queue, ev)
		s.ended = true
	case s.limit > 0 && s.queued+len(ev.Data) > s.limit:
		s.dropped += len(ev.Data)
		startedDropping = !s.dropping
		s.dropping = true
	default:
		s.queue = append(s.queue, ev)
		s.queued += len(ev.Data)
		s.dropping = false
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return startedDropping
}

func (s *Subscription) pump() {
	defer close(s.ch)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			ended := s.ended
			s.mu.Unlock()
			if ended {
				return
			}
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.queued -= len(ev.Data)
		s.mu.Unlock()

		select {
		case s.ch <- ev:
		case <-s.done:
			return
		}
	}
}

func (c *Controller) publish(ev Event) {
	c.mu.Lock()
	subs := make([]*Subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()
	for _, s := range subs {
		if s.push(ev) {
			c.log.Warn("subscriber fell behind, dropping output", "sub", s.id)
		}
	}
}
