package relay

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v5"

	"github.com/scigal/im-gateway/internal/domain/envelope"
)

// Handler receives envelopes that originated on other instances.
type Handler func(ctx context.Context, env *envelope.Envelope)

// Relay bridges this instance onto the shared pub/sub channel. Outbound
// envelopes are stamped with the instance id and published fire-and-forget;
// the background subscription forwards foreign-origin envelopes into the
// handler and suppresses echoes of this instance's own publications. A relay
// outage degrades the gateway to single-instance broadcast: local delivery
// keeps working while the subscriber reconnects with exponential backoff.
type Relay struct {
	pub    message.Publisher
	sub    message.Subscriber
	topic  string
	id     string
	logger *slog.Logger

	handler Handler

	running   atomic.Bool
	connected atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
}

func New(pub message.Publisher, sub message.Subscriber, topic, instanceID string, logger *slog.Logger) *Relay {
	return &Relay{
		pub:    pub,
		sub:    sub,
		topic:  topic,
		id:     instanceID,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// InstanceID returns the identity stamped on envelopes first published here.
func (r *Relay) InstanceID() string { return r.id }

// Connected reports whether the channel subscription is currently live.
func (r *Relay) Connected() bool { return r.connected.Load() }

// SetHandler installs the foreign-envelope dispatcher. Must be called before
// Start.
func (r *Relay) SetHandler(h Handler) { r.handler = h }

// Start launches the background subscription. A second call while running is
// a no-op.
func (r *Relay) Start(ctx context.Context) {
	if !r.running.CompareAndSwap(false, true) {
		return
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	go r.consume(runCtx)
}

// Stop terminates the subscription and waits for the consumer to drain.
func (r *Relay) Stop(ctx context.Context) {
	if !r.running.CompareAndSwap(true, false) {
		return
	}
	r.cancel()
	select {
	case <-r.done:
	case <-ctx.Done():
	}
}

// Publish stamps the envelope's origin, when not already set, and sends it on
// the shared channel. Failures are logged and the publication is dropped:
// delivery guarantees degrade rather than surfacing errors to clients.
func (r *Relay) Publish(env *envelope.Envelope) {
	if env.Origin == "" {
		env.Origin = r.id
	}
	raw, err := env.Encode()
	if err != nil {
		r.logger.Warn("relay encode failed", "type", env.Type, "error", err)
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), raw)
	if err := r.pub.Publish(r.topic, msg); err != nil {
		r.logger.Warn("relay publish dropped", "type", env.Type, "error", err)
	}
}

func (r *Relay) consume(ctx context.Context) {
	defer close(r.done)

	for {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 250 * time.Millisecond
		bo.MaxInterval = 30 * time.Second

		var msgs <-chan *message.Message
		for {
			var err error
			msgs, err = r.sub.Subscribe(ctx, r.topic)
			if err == nil {
				break
			}
			wait := bo.NextBackOff()
			r.logger.Warn("relay subscribe failed", "topic", r.topic, "retry_in", wait, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}

		r.connected.Store(true)
		r.logger.Info("relay subscribed", "topic", r.topic, "instance_id", r.id)

		for msg := range msgs {
			r.onMessage(ctx, msg)
		}
		r.connected.Store(false)

		if ctx.Err() != nil {
			return
		}
		r.logger.Warn("relay subscription lost, reconnecting", "topic", r.topic)
	}
}

func (r *Relay) onMessage(ctx context.Context, msg *message.Message) {
	// The channel is at-most-once: every message is acked, including the
	// ones we cannot use, so a poison frame never wedges the subscription.
	defer msg.Ack()

	env, err := envelope.Decode(msg.Payload)
	if err != nil {
		r.logger.Warn("relay frame dropped", "error", err)
		return
	}
	if env.Origin == r.id {
		// Echo of our own publication: already delivered locally before the
		// publish, re-broadcasting would loop.
		return
	}
	if r.handler != nil {
		r.handler(ctx, env)
	}
}
