package broadcast

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskpulse/domain"
)

// Relay shares events between server instances over a Redis channel. Events
// published locally are sent with this instance's id; events received from
// other instances are delivered to local sessions only.
type Relay struct {
	rc        *redis.Client
	channel   string
	instance  string
	target    *Dispatcher
	reconnect time.Duration
}

func NewRelay(rc *redis.Client, channel string, target *Dispatcher) *Relay {
	return &Relay{
		rc:        rc,
		channel:   channel,
		instance:  domain.NewID(),
		target:    target,
		reconnect: time.Second,
	}
}

func (r *Relay) Name() string { return "redis-relay" }

// Instance returns the id stamped on events sent by this relay.
func (r *Relay) Instance() string { return r.instance }

// Forward publishes a locally originated event.
func (r *Relay) Forward(ctx context.Context, ev domain.Event) error {
	if ev.Instance != "" && ev.Instance != r.instance {
		return nil
	}
	ev.Instance = r.instance
	ev.Seq = 0
	data, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	return r.rc.Publish(ctx, r.channel, data).Err()
}

// Run subscribes to the relay channel until ctx is done, reconnecting when
// the subscription drops.
func (r *Relay) Run(ctx context.Context) {
	for {
		r.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		log.WithField("channel", r.channel).Error("relay subscription closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.reconnect):
		}
	}
}

func (r *Relay) consume(ctx context.Context) {
	sub := r.rc.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() == nil {
			log.WithError(err).Error("relay subscribe failed")
		}
		return
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev domain.Event
			if err := sonic.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.WithError(err).Error("unable to parse relayed event")
				continue
			}
			if ev.Instance == r.instance {
				continue
			}
			r.target.Deliver(ev)
		}
	}
}
