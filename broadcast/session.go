package broadcast

import (
	"context"
	"errors"
	"sync"

	"taskpulse/domain"
)

// ErrSessionClosed is returned by Next once the session was unregistered.
var ErrSessionClosed = errors.New("session closed")

// Session is one connected client's delivery path. Events are buffered in a
// bounded queue; when the queue is full it is discarded and replaced by a
// single resync event.
type Session struct {
	ID    string
	Owner string

	mu       sync.Mutex
	queue    []domain.Event
	limit    int
	resync   bool
	presence *domain.Presence

	signal    chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

func newSession(id, owner string, limit int) *Session {
	if limit <= 0 {
		limit = DefaultQueueSize
	}
	return &Session{
		ID:     id,
		Owner:  owner,
		limit:  limit,
		signal: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// enqueue never blocks. It reports whether the event overflowed the queue.
func (s *Session) enqueue(ev domain.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.closed:
		return false
	default:
	}
	if s.resync {
		return false
	}
	overflow := false
	if len(s.queue) >= s.limit {
		s.queue = s.queue[:0]
		s.resync = true
		ev = domain.Event{ID: domain.NewID(), Seq: ev.Seq, Type: domain.Resync, Owner: s.Owner, Time: ev.Time}
		overflow = true
	}
	s.queue = append(s.queue, ev)
	s.notify()
	return overflow
}

func (s *Session) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Next blocks until an event is available, the context ends or the session
// is closed.
func (s *Session) Next(ctx context.Context) (domain.Event, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue[0] = domain.Event{}
			s.queue = s.queue[1:]
			if ev.Type == domain.Resync {
				s.resync = false
			}
			s.mu.Unlock()
			return ev, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return domain.Event{}, ctx.Err()
		case <-s.closed:
			return domain.Event{}, ErrSessionClosed
		case <-s.signal:
		}
	}
}

// Pending returns the number of queued events.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Done is closed when the session is unregistered.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		close(s.closed)
		s.queue = nil
		s.mu.Unlock()
	})
}

func (s *Session) setPresence(p domain.Presence) {
	s.mu.Lock()
	s.presence = &p
	s.mu.Unlock()
}

func (s *Session) takePresence() *domain.Presence {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.presence
	s.presence = nil
	return p
}
