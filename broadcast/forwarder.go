package broadcast

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"taskpulse/domain"
)

// Sink receives published events outside the request path.
type Sink interface {
	Name() string
	Forward(ctx context.Context, ev domain.Event) error
}

// ForwarderConfig tunes the forwarding pool. With a single worker each sink
// sees events in publish order.
type ForwarderConfig struct {
	Workers        int
	Buffer         int
	Timeout        time.Duration
	HandoffTimeout time.Duration
}

// Forwarder hands events to sinks from a fixed pool of workers. A failing or
// panicking sink is logged and never affects the publisher.
type Forwarder struct {
	sinks   []Sink
	jobs    chan domain.Event
	timeout time.Duration
	handoff time.Duration

	mu     sync.RWMutex
	closed bool
	wg     conc.WaitGroup
}

func NewForwarder(cfg ForwarderConfig, sinks ...Sink) *Forwarder {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	f := &Forwarder{
		sinks:   sinks,
		jobs:    make(chan domain.Event, cfg.Buffer),
		timeout: cfg.Timeout,
		handoff: cfg.HandoffTimeout,
	}
	for i := 0; i < cfg.Workers; i++ {
		id := i
		f.wg.Go(func() { f.worker(id) })
	}
	log.Infof("event forwarder started, workers: %d, buffer: %d, sinks: %d", cfg.Workers, cfg.Buffer, len(sinks))
	return f
}

func (f *Forwarder) worker(id int) {
	for ev := range f.jobs {
		for _, s := range f.sinks {
			f.forward(id, s, ev)
		}
	}
}

func (f *Forwarder) forward(worker int, s Sink, ev domain.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	var err error
	var pc panics.Catcher
	pc.Try(func() { err = s.Forward(ctx, ev) })
	if r := pc.Recovered(); r != nil {
		err = r.AsError()
	}
	if err != nil {
		log.WithFields(log.Fields{"sink": s.Name(), "type": ev.Type, "event": ev.ID, "worker": worker}).WithError(err).Error("forward event failed")
	}
}

// Submit queues ev without blocking longer than the handoff timeout. It
// reports false when the event was dropped.
func (f *Forwarder) Submit(ev domain.Event) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return false
	}
	if len(f.sinks) == 0 {
		return true
	}

	select {
	case f.jobs <- ev:
		return true
	default:
	}
	if f.handoff <= 0 {
		return false
	}

	timer := time.NewTimer(f.handoff)
	defer timer.Stop()
	select {
	case f.jobs <- ev:
		return true
	case <-timer.C:
		return false
	}
}

// Close stops accepting events and waits for queued ones to be forwarded.
func (f *Forwarder) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	close(f.jobs)
	f.mu.Unlock()
	f.wg.Wait()
}
