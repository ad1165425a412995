package kafka

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"

	"github.com/example/bank-event-sourcing/internal/logger"
)

// MessageHandler processes one message; a nil return commits its offset.
type MessageHandler func(ctx context.Context, key, value []byte) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads a topic as part of a consumer group. A message whose handler
// fails is retried with backoff and never committed past.
type Consumer struct {
	reader     messageReader
	logger     *logger.Logger
	newBackOff func() backoff.BackOff
}

func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return newConsumer(reader, log)
}

func newConsumer(reader messageReader, log *logger.Logger) *Consumer {
	return &Consumer{
		reader: reader,
		logger: log.With("component", "KafkaConsumer"),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			return b
		},
	}
}

func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("fetch message", "error", err)
			continue
		}

		attempt := 0
		_, err = backoff.Retry(ctx, func() (struct{}, error) {
			attempt++
			return struct{}{}, handler(ctx, msg.Key, msg.Value)
		},
			backoff.WithBackOff(c.newBackOff()),
			backoff.WithMaxElapsedTime(0),
			backoff.WithNotify(func(err error, next time.Duration) {
				c.logger.Warn("handler failed, retrying",
					"partition", msg.Partition, "offset", msg.Offset, "attempt", attempt, "retryIn", next, "error", err)
			}),
		)
		if err != nil {
			// only cancellation ends the retry loop; the offset stays uncommitted
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("commit message", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
