// Package pubsub provides the shared-channel drivers behind the relay. The
// relay itself only speaks watermill's Publisher/Subscriber interfaces; the
// driver, Redis pub/sub or a RabbitMQ fanout, is chosen by configuration.
package pubsub

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"

	"github.com/scigal/im-gateway/config"
)

// Channel is one connected pub/sub pair on the shared relay channel.
type Channel struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// NewChannel builds the channel for the configured driver.
func NewChannel(cfg *config.Config, rdb redis.UniversalClient, logger watermill.LoggerAdapter) (*Channel, error) {
	switch cfg.Relay.Driver {
	case "redis":
		return &Channel{
			Publisher:  newRedisPublisher(rdb),
			Subscriber: newRedisSubscriber(rdb),
		}, nil
	case "amqp":
		return newAMQPChannel(cfg.Relay.AMQPURI, cfg.Service.InstanceID, logger)
	default:
		return nil, fmt.Errorf("pubsub: unknown relay driver %q", cfg.Relay.Driver)
	}
}

// Close releases both halves of the channel.
func (c *Channel) Close() error {
	errPub := c.Publisher.Close()
	errSub := c.Subscriber.Close()
	if errPub != nil {
		return errPub
	}
	return errSub
}
