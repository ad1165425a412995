package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/bank-event-sourcing/internal/domain/aggregate"
	"github.com/example/bank-event-sourcing/internal/logger"
)

// AggregateStore loads aggregates from snapshot plus replay and saves their
// pending changes in one transaction with the bus publish.
type AggregateStore struct {
	log               EventLog
	serializer        Serializer
	bus               EventBus
	factories         aggregate.Factories
	snapshotFrequency int
	logger            *logger.Logger
	metrics           Metrics
}

type Option func(*AggregateStore)

func WithSnapshotFrequency(n int) Option {
	return func(s *AggregateStore) {
		if n > 0 {
			s.snapshotFrequency = n
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(s *AggregateStore) { s.logger = l }
}

func WithMetrics(m Metrics) Option {
	return func(s *AggregateStore) { s.metrics = m }
}

func NewAggregateStore(log EventLog, serializer Serializer, bus EventBus, factories aggregate.Factories, opts ...Option) *AggregateStore {
	s := &AggregateStore{
		log:               log,
		serializer:        serializer,
		bus:               bus,
		factories:         factories,
		snapshotFrequency: DefaultSnapshotFrequency,
		logger:            logger.NewNop(),
		metrics:           nopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "AggregateStore")
	return s
}

// Load rebuilds an aggregate from its latest snapshot and the events after it.
func (s *AggregateStore) Load(ctx context.Context, aggregateID, aggregateType string) (agg aggregate.Aggregate, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveLoad(aggregateType, time.Since(start), err) }()

	agg, err = s.factories.New(aggregateType, aggregateID)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.log.LoadSnapshot(ctx, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", aggregateID, err)
	}
	if snapshot != nil {
		if err := json.Unmarshal(snapshot.Data, agg); err != nil {
			return nil, fmt.Errorf("%w: decode snapshot %s: %w", ErrSerialization, aggregateID, err)
		}
		aggregate.Restore(agg, aggregateID, snapshot.Version)
	}

	events, err := s.log.LoadEvents(ctx, aggregateID, agg.GetVersion())
	if err != nil {
		return nil, fmt.Errorf("load events %s: %w", aggregateID, err)
	}
	for _, event := range events {
		domainEvent, err := s.serializer.Deserialize(event)
		if err != nil {
			return nil, err
		}
		if err := aggregate.Raise(agg, domainEvent); err != nil {
			return nil, fmt.Errorf("replay %s version %d: %w", event.EventType, event.Version, err)
		}
	}

	if agg.GetVersion() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrAggregateNotFound, aggregateID)
	}
	return agg, nil
}

// LoadAggregate loads an aggregate and asserts its concrete type.
func LoadAggregate[T aggregate.Aggregate](ctx context.Context, s AggregateStoreInterface, aggregateID, aggregateType string) (T, error) {
	var zero T
	agg, err := s.Load(ctx, aggregateID, aggregateType)
	if err != nil {
		return zero, err
	}
	typed, ok := agg.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s loaded as %T", ErrUnknownAggregateType, aggregateType, agg)
	}
	return typed, nil
}

// Save appends the pending changes, snapshots on every snapshotFrequency-th
// version and publishes the batch. Either all of it commits or none of it.
func (s *AggregateStore) Save(ctx context.Context, agg aggregate.Aggregate) (err error) {
	changes := agg.Changes()
	if len(changes) == 0 {
		return nil
	}

	start := time.Now()
	defer func() { s.metrics.ObserveSave(agg.GetType(), time.Since(start), err) }()

	events, err := s.serializeChanges(ctx, agg, changes)
	if err != nil {
		return err
	}

	version := agg.GetVersion()
	baseVersion := version - len(changes)

	err = s.log.InTx(ctx, func(tx EventLogTx) error {
		if version > 1 {
			current, err := tx.LockAggregate(ctx, agg.GetID())
			if err != nil {
				return err
			}
			if current != baseVersion {
				return fmt.Errorf("%w: %s expected version %d, found %d", ErrConcurrency, agg.GetID(), baseVersion, current)
			}
		}

		if err := tx.AppendEvents(ctx, events); err != nil {
			return err
		}

		if version%s.snapshotFrequency == 0 {
			snapshot, err := s.snapshotOf(ctx, agg)
			if err != nil {
				return err
			}
			if err := tx.SaveSnapshot(ctx, snapshot); err != nil {
				return err
			}
			s.metrics.SnapshotSaved(agg.GetType())
		}

		if err := s.bus.Publish(ctx, events); err != nil {
			s.metrics.PublishFailed(agg.GetType())
			return fmt.Errorf("%w: %w", ErrPublish, err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConcurrency) {
			s.metrics.ConcurrencyConflict(agg.GetType())
		}
		s.logger.Warn("save failed", "aggregateId", agg.GetID(), "version", version, "error", err)
		return err
	}

	agg.ClearChanges()
	s.metrics.EventsAppended(agg.GetType(), len(events))
	s.logger.Debug("saved", "aggregateId", agg.GetID(), "version", version, "events", len(events))
	return nil
}

// SaveEvents appends already encoded events without publishing them.
func (s *AggregateStore) SaveEvents(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	return s.log.InTx(ctx, func(tx EventLogTx) error {
		return tx.AppendEvents(ctx, events)
	})
}

func (s *AggregateStore) LoadEvents(ctx context.Context, aggregateID string, afterVersion int) ([]Event, error) {
	return s.log.LoadEvents(ctx, aggregateID, afterVersion)
}

func (s *AggregateStore) serializeChanges(ctx context.Context, agg aggregate.Aggregate, changes []any) ([]Event, error) {
	metadata, err := encodeMetadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: encode metadata: %w", ErrSerialization, err)
	}

	baseVersion := agg.GetVersion() - len(changes)
	events := make([]Event, 0, len(changes))
	for i, change := range changes {
		event, err := s.serializer.Serialize(change, agg)
		if err != nil {
			return nil, err
		}
		// each change gets the version it produced, not the final one
		event.Version = baseVersion + i + 1
		event.Metadata = metadata
		events = append(events, event)
	}
	return events, nil
}

func (s *AggregateStore) snapshotOf(ctx context.Context, agg aggregate.Aggregate) (Snapshot, error) {
	data, err := json.Marshal(agg)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: encode snapshot %s: %w", ErrSerialization, agg.GetID(), err)
	}
	metadata, err := encodeMetadata(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: encode metadata: %w", ErrSerialization, err)
	}
	return Snapshot{
		ID:            uuid.NewString(),
		AggregateID:   agg.GetID(),
		AggregateType: agg.GetType(),
		Version:       agg.GetVersion(),
		Data:          data,
		Metadata:      metadata,
		Timestamp:     time.Now().UTC(),
	}, nil
}
