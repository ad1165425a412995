package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/example/bank-event-sourcing/internal/logger"
)

const defaultRetryDelay = time.Second

// MessageHandler processes one message; a nil return acks it.
type MessageHandler func(ctx context.Context, key, value []byte) error

type messageConsumer interface {
	Consume(handler jetstream.MessageHandler, opts ...jetstream.PullConsumeOpt) (jetstream.ConsumeContext, error)
}

// Consumer is a durable pull consumer with explicit acks and a single
// message in flight, so batches are handled in stream order.
type Consumer struct {
	consumer   messageConsumer
	logger     *logger.Logger
	retryDelay time.Duration
}

func NewConsumer(ctx context.Context, js jetstream.JetStream, stream, durable, prefix string, log *logger.Logger) (*Consumer, error) {
	consumer, err := js.CreateOrUpdateConsumer(ctx, stream, jetstream.ConsumerConfig{
		Durable:       durable,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		FilterSubject: prefix + ".>",
		MaxAckPending: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer %s: %w", durable, err)
	}
	return newConsumer(consumer, log), nil
}

func newConsumer(consumer messageConsumer, log *logger.Logger) *Consumer {
	return &Consumer{
		consumer:   consumer,
		logger:     log.With("component", "NatsConsumer"),
		retryDelay: defaultRetryDelay,
	}
}

// Consume blocks until ctx is done. Failed messages are nacked with a delay
// and redelivered.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	cc, err := c.consumer.Consume(func(msg jetstream.Msg) {
		c.handle(ctx, handler, msg)
	})
	if err != nil {
		return err
	}
	defer cc.Stop()

	<-ctx.Done()
	return ctx.Err()
}

func (c *Consumer) handle(ctx context.Context, handler MessageHandler, msg jetstream.Msg) {
	if ctx.Err() != nil {
		return
	}
	key := []byte(msg.Headers().Get(aggregateIDHeader))
	if err := handler(ctx, key, msg.Data()); err != nil {
		c.logger.Warn("handler failed, redelivering", "subject", msg.Subject(), "retryIn", c.retryDelay, "error", err)
		if err := msg.NakWithDelay(c.retryDelay); err != nil {
			c.logger.Error("nak message", "subject", msg.Subject(), "error", err)
		}
		return
	}
	if err := msg.Ack(); err != nil {
		c.logger.Error("ack message", "subject", msg.Subject(), "error", err)
	}
}
