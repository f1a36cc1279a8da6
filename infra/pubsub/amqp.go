package pubsub

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	amqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
)

// newAMQPChannel builds a durable pub/sub pair over RabbitMQ. Every instance
// consumes from its own queue bound to the shared fanout-style exchange, so
// each instance sees every published envelope exactly once and missed
// messages during an outage are simply gone, matching the relay contract.
func newAMQPChannel(uri, instanceID string, logger watermill.LoggerAdapter) (*Channel, error) {
	cfg := amqp.NewDurablePubSubConfig(
		uri,
		amqp.GenerateQueueNameTopicNameWithSuffix(instanceID),
	)

	pub, err := amqp.NewPublisher(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("pubsub: amqp publisher: %w", err)
	}
	sub, err := amqp.NewSubscriber(cfg, logger)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("pubsub: amqp subscriber: %w", err)
	}

	return &Channel{Publisher: pub, Subscriber: sub}, nil
}
