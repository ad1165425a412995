package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/bank-event-sourcing/internal/infrastructure/store"
)

const DefaultPublishTimeout = 3 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventBus publishes the events of one save as a single message keyed by
// aggregate id, so one aggregate always lands on one partition.
type EventBus struct {
	writer  messageWriter
	timeout time.Duration
}

func NewEventBus(brokers []string, topic string, timeout time.Duration) *EventBus {
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: timeout,
	}
	return &EventBus{writer: writer, timeout: timeout}
}

func (b *EventBus) Publish(ctx context.Context, events []store.Event) error {
	if len(events) == 0 {
		return nil
	}
	data, err := store.MarshalBatch(events)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if err := b.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(events[0].AggregateID),
		Value: data,
		Time:  time.Now(),
	}); err != nil {
		return fmt.Errorf("write %d events of %s: %w", len(events), events[0].AggregateID, err)
	}
	return nil
}

func (b *EventBus) Close() error {
	return b.writer.Close()
}

// EnsureTopic creates the topic through the cluster controller if it does not exist yet.
func EnsureTopic(ctx context.Context, brokers []string, topic string, partitions, replicationFactor int) error {
	if len(brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("dial %s: %w", brokers[0], err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("find controller: %w", err)
	}
	controllerConn, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: replicationFactor,
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	return nil
}
