package broadcast

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"taskpulse/domain"
)

// Scope selects which sessions receive task events.
type Scope string

const (
	// ScopeOwner delivers task events only to sessions of the task owner.
	ScopeOwner Scope = "owner"
	// ScopeGlobal delivers task events to every session.
	ScopeGlobal Scope = "global"
)

// DefaultQueueSize is the per-session queue bound used when none is set.
const DefaultQueueSize = 256

// ParseScope validates a scope name.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeOwner, "":
		return ScopeOwner, nil
	case ScopeGlobal:
		return ScopeGlobal, nil
	}
	return "", fmt.Errorf("unknown broadcast scope %q", s)
}

// Dispatcher fans events out to registered sessions. Delivery is
// at-most-once: there is no replay log, a session that lost events is told
// to resync.
type Dispatcher struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	seq       uint64
	scope     Scope
	queueSize int
	forwarder *Forwarder
}

type Option func(*Dispatcher)

func WithScope(s Scope) Option {
	return func(d *Dispatcher) { d.scope = s }
}

func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithForwarder hands every locally published event to f after fan-out.
func WithForwarder(f *Forwarder) Option {
	return func(d *Dispatcher) { d.forwarder = f }
}

// Attach sets the forwarder after construction, for sinks such as the relay
// that need the dispatcher themselves.
func (d *Dispatcher) Attach(f *Forwarder) {
	d.mu.Lock()
	d.forwarder = f
	d.mu.Unlock()
}

func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sessions:  make(map[string]*Session),
		scope:     ScopeOwner,
		queueSize: DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds a session. Registering an id twice returns the existing
// session.
func (d *Dispatcher) Register(sessionID, owner string) *Session {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s, ok := d.sessions[sessionID]; ok {
		return s
	}
	s := newSession(sessionID, owner, d.queueSize)
	d.sessions[sessionID] = s
	log.WithFields(log.Fields{"session": sessionID, "owner": owner, "sessions": len(d.sessions)}).Debug("session registered")
	return s
}

// Unregister removes and closes a session. If the session had announced
// presence, a user:left event is published for it. Unknown ids are ignored.
func (d *Dispatcher) Unregister(sessionID string) {
	d.mu.Lock()
	s, ok := d.sessions[sessionID]
	if ok {
		delete(d.sessions, sessionID)
	}
	remaining := len(d.sessions)
	d.mu.Unlock()
	if !ok {
		return
	}

	s.close()
	log.WithFields(log.Fields{"session": sessionID, "sessions": remaining}).Debug("session unregistered")
	if p := s.takePresence(); p != nil {
		d.Publish(domain.Event{ID: domain.NewID(), Type: domain.UserLeft, Owner: s.Owner, Origin: sessionID, User: p, Time: domain.Now().UnixNano()})
	}
}

// Announce records the session's presence profile and tells the other
// sessions that the user joined. It reports false when the session is
// unknown or belongs to another user.
func (d *Dispatcher) Announce(sessionID string, p domain.Presence) bool {
	d.mu.Lock()
	s, ok := d.sessions[sessionID]
	d.mu.Unlock()
	if !ok || s.Owner != p.UserID {
		return false
	}
	s.setPresence(p)
	d.Publish(domain.Event{ID: domain.NewID(), Type: domain.UserJoined, Owner: s.Owner, Origin: sessionID, User: &p, Time: domain.Now().UnixNano()})
	return true
}

// Publish delivers ev to local sessions and forwards it to the configured
// sinks. It never blocks on a slow session.
func (d *Dispatcher) Publish(ev domain.Event) {
	d.mu.Lock()
	ev = d.deliverLocked(ev)
	fwd := d.forwarder
	d.mu.Unlock()

	if fwd != nil && !fwd.Submit(ev) {
		log.WithFields(log.Fields{"type": ev.Type, "event": ev.ID}).Warn("event forwarding queue full, dropping")
	}
}

// Deliver fans out an event received from another instance. It is not
// forwarded again.
func (d *Dispatcher) Deliver(ev domain.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deliverLocked(ev)
}

func (d *Dispatcher) deliverLocked(ev domain.Event) domain.Event {
	d.seq++
	ev.Seq = d.seq
	for _, s := range d.sessions {
		if !d.wants(s, ev) {
			continue
		}
		if s.enqueue(ev) {
			log.WithFields(log.Fields{"session": s.ID, "owner": s.Owner, "seq": ev.Seq}).Warn("session queue overflow, forcing resync")
		}
	}
	return ev
}

func (d *Dispatcher) wants(s *Session, ev domain.Event) bool {
	// Only the owner's own session can suppress delivery to itself.
	if ev.Origin != "" && ev.Origin == s.ID && s.Owner == ev.Owner {
		return false
	}
	if ev.IsTaskEvent() && d.scope == ScopeOwner {
		return s.Owner == ev.Owner
	}
	return true
}

// Len returns the number of registered sessions.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}
