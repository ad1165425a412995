package nats

import (
	"context"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/example/bank-event-sourcing/internal/infrastructure/store"
)

const (
	DefaultPublishTimeout = 3 * time.Second

	aggregateIDHeader = "Aggregate-Id"
)

// Subject returns the subject a batch for the given aggregate is published on.
func Subject(prefix, aggregateType, aggregateID string) string {
	return prefix + "." + aggregateType + "." + aggregateID
}

// Connect opens a connection and a JetStream context on top of it.
func Connect(url string) (*natsgo.Conn, jetstream.JetStream, error) {
	nc, err := natsgo.Connect(url, natsgo.MaxReconnects(-1), natsgo.Name("bank-event-sourcing"))
	if err != nil {
		return nil, nil, fmt.Errorf("connect %s: %w", url, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	return nc, js, nil
}

// EnsureStream creates the stream capturing every subject under prefix, or
// updates its config if it already exists.
func EnsureStream(ctx context.Context, js jetstream.JetStream, name, prefix string) (jetstream.Stream, error) {
	s, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       name,
		Subjects:   []string{prefix + ".>"},
		Storage:    jetstream.FileStorage,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", name, err)
	}
	return s, nil
}

type msgPublisher interface {
	PublishMsg(ctx context.Context, msg *natsgo.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// EventBus publishes each saved batch as one JetStream message. The id of the
// first event is used as the message id so a retried publish is deduplicated
// by the server.
type EventBus struct {
	js      msgPublisher
	prefix  string
	timeout time.Duration
}

func NewEventBus(js jetstream.JetStream, subjectPrefix string, timeout time.Duration) *EventBus {
	return newEventBus(js, subjectPrefix, timeout)
}

func newEventBus(js msgPublisher, subjectPrefix string, timeout time.Duration) *EventBus {
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	return &EventBus{js: js, prefix: subjectPrefix, timeout: timeout}
}

func (b *EventBus) Publish(ctx context.Context, events []store.Event) error {
	if len(events) == 0 {
		return nil
	}
	data, err := store.MarshalBatch(events)
	if err != nil {
		return err
	}

	first := events[0]
	msg := natsgo.NewMsg(Subject(b.prefix, first.AggregateType, first.AggregateID))
	msg.Data = data
	msg.Header.Set(aggregateIDHeader, first.AggregateID)
	msg.Header.Set(natsgo.MsgIdHdr, first.ID)

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if _, err := b.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("publish %d events of %s: %w", len(events), first.AggregateID, err)
	}
	return nil
}
