package pubsub

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"
)

// Interface guards
var (
	_ message.Publisher  = (*redisPublisher)(nil)
	_ message.Subscriber = (*redisSubscriber)(nil)
)

// redisPublisher publishes watermill messages on a Redis pub/sub channel.
// Redis pub/sub is fire-and-forget with whole-message delivery, which is
// exactly the relay channel contract: at-most-once, no replay on reconnect.
type redisPublisher struct {
	client redis.UniversalClient
}

func newRedisPublisher(client redis.UniversalClient) *redisPublisher {
	return &redisPublisher{client: client}
}

func (p *redisPublisher) Publish(topic string, msgs ...*message.Message) error {
	ctx := context.Background()
	for _, msg := range msgs {
		if err := p.client.Publish(ctx, topic, []byte(msg.Payload)).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (p *redisPublisher) Close() error { return nil }

type redisSubscriber struct {
	client redis.UniversalClient

	mu      sync.Mutex
	closing chan struct{}
	closed  bool
	wg      sync.WaitGroup
}

func newRedisSubscriber(client redis.UniversalClient) *redisSubscriber {
	return &redisSubscriber{
		client:  client,
		closing: make(chan struct{}),
	}
}

func (s *redisSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ps := s.client.Subscribe(ctx, topic)
	// Confirm the subscription before handing out the channel, so a dead
	// broker surfaces here and triggers the caller's backoff.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	out := make(chan *message.Message)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(out)
		defer func() { _ = ps.Close() }()

		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.closing:
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				msg := message.NewMessage(watermill.NewUUID(), []byte(m.Payload))
				msg.SetContext(ctx)
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				case <-s.closing:
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *redisSubscriber) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.closing)
	}
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}
