// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package queue

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/fleetkeeper/internal/envelope"
	"github.com/tomtom215/fleetkeeper/internal/logging"
)

// Emitter is the subset of workerkit.Runtime the consumer needs: the
// ability to hand a freshly-built envelope to the supervisor outside of any
// request/reply cycle.
type Emitter interface {
	Emit(env envelope.Envelope) error
}

// Consumer subscribes to the configured compensation-queue topic and
// republishes each accepted message into the fleet as a
// "DatabaseWorker/updateData" envelope, the consumeCompensationQueue path
// spec.md §6's config surface names. Grounded on the teacher's
// internal/eventprocessor/router.go subscriber wiring.
type Consumer struct {
	sub   message.Subscriber
	topic string
}

// NewConsumer subscribes to cfg.ConsumeCompensationTopic on the same broker
// Publisher uses.
func NewConsumer(cfg Config) (*Consumer, error) {
	logger := watermill.NewStdLogger(false, false)

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:         cfg.BrokerURL,
		Unmarshaler: &wmNats.NATSMarshaler{},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("queue: create watermill subscriber: %w", err)
	}
	return &Consumer{sub: sub, topic: cfg.ConsumeCompensationTopic}, nil
}

// Run subscribes and, for each message, emits a corresponding envelope into
// the fleet via emitter until ctx is canceled or the subscription closes.
func (c *Consumer) Run(ctx context.Context, emitter Emitter) error {
	messages, err := c.sub.Subscribe(ctx, c.topic)
	if err != nil {
		return fmt.Errorf("queue: subscribe %s: %w", c.topic, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			c.handle(msg, emitter)
		}
	}
}

func (c *Consumer) handle(msg *message.Message, emitter Emitter) {
	var trigger CrawlTrigger
	if err := json.Unmarshal(msg.Payload, &trigger); err != nil {
		logging.Error().Err(err).Msg("queue: malformed compensation message, nacking")
		msg.Nack()
		return
	}

	env := envelope.Envelope{
		MessageID:   uuid.New().String(),
		Status:      envelope.StatusCompleted,
		Destination: []string{"DatabaseWorker/updateData/" + trigger.ProjectID},
		Data:        trigger,
	}
	if err := emitter.Emit(env); err != nil {
		logging.Error().Err(err).Msg("queue: failed to emit compensation envelope, nacking")
		msg.Nack()
		return
	}
	msg.Ack()
}

// Close releases the underlying subscriber connection.
func (c *Consumer) Close() error {
	return c.sub.Close()
}
