package store

import (
	"context"
	"time"

	"github.com/example/bank-event-sourcing/internal/domain/aggregate"
)

// Serializer maps domain events of one or more aggregate types to envelopes and back.
type Serializer interface {
	Serialize(event any, agg aggregate.Aggregate) (Event, error)
	Deserialize(event Event) (any, error)
}

// EventBus delivers the events of one save as a single batch.
type EventBus interface {
	Publish(ctx context.Context, events []Event) error
}

// EventLog is the persistence backend of the AggregateStore.
type EventLog interface {
	// LoadSnapshot returns nil when the aggregate has no snapshot.
	LoadSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error)
	LoadEvents(ctx context.Context, aggregateID string, afterVersion int) ([]Event, error)
	InTx(ctx context.Context, fn func(tx EventLogTx) error) error
}

// EventLogTx is the write side of an EventLog, valid inside InTx only.
type EventLogTx interface {
	// LockAggregate blocks concurrent writers of the aggregate until the
	// transaction ends and returns the latest persisted version.
	LockAggregate(ctx context.Context, aggregateID string) (int, error)
	AppendEvents(ctx context.Context, events []Event) error
	SaveSnapshot(ctx context.Context, snapshot Snapshot) error
}

// AggregateStoreInterface is what command and query handlers depend on.
type AggregateStoreInterface interface {
	Load(ctx context.Context, aggregateID, aggregateType string) (aggregate.Aggregate, error)
	Save(ctx context.Context, agg aggregate.Aggregate) error
	SaveEvents(ctx context.Context, events []Event) error
	LoadEvents(ctx context.Context, aggregateID string, afterVersion int) ([]Event, error)
}

// Metrics receives store instrumentation.
type Metrics interface {
	ObserveLoad(aggregateType string, d time.Duration, err error)
	ObserveSave(aggregateType string, d time.Duration, err error)
	EventsAppended(aggregateType string, count int)
	SnapshotSaved(aggregateType string)
	ConcurrencyConflict(aggregateType string)
	PublishFailed(aggregateType string)
}

type nopMetrics struct{}

func (nopMetrics) ObserveLoad(string, time.Duration, error) {}
func (nopMetrics) ObserveSave(string, time.Duration, error) {}
func (nopMetrics) EventsAppended(string, int)               {}
func (nopMetrics) SnapshotSaved(string)                     {}
func (nopMetrics) ConcurrencyConflict(string)               {}
func (nopMetrics) PublishFailed(string)                     {}
