package projection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/bank-event-sourcing/internal/domain/account"
	"github.com/example/bank-event-sourcing/internal/infrastructure/store"
	"github.com/example/bank-event-sourcing/internal/logger"
	"github.com/example/bank-event-sourcing/internal/readmodel"
)

const DefaultTimeout = 5 * time.Second

// Batch outcomes reported to Metrics.
const (
	ResultApplied       = "applied"
	ResultRebuilt       = "rebuilt"
	ResultRebuildFailed = "rebuild_failed"
	ResultPoison        = "poison"
)

type Metrics interface {
	ObserveBatch(result string, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) ObserveBatch(string, time.Duration) {}

// Subscription consumes event batches from the bus. A batch that fails to
// apply is acknowledged only after every affected document was rebuilt from
// the aggregate store.
type Subscription struct {
	projection *BankAccountProjection
	readStore  readmodel.AccountReadStore
	aggregates store.AggregateStoreInterface
	timeout    time.Duration
	logger     *logger.Logger
	metrics    Metrics
}

type Option func(*Subscription)

func WithTimeout(d time.Duration) Option {
	return func(s *Subscription) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(s *Subscription) { s.logger = l }
}

func WithMetrics(m Metrics) Option {
	return func(s *Subscription) { s.metrics = m }
}

func NewSubscription(projection *BankAccountProjection, readStore readmodel.AccountReadStore, aggregates store.AggregateStoreInterface, opts ...Option) *Subscription {
	s := &Subscription{
		projection: projection,
		readStore:  readStore,
		aggregates: aggregates,
		timeout:    DefaultTimeout,
		logger:     logger.NewNop(),
		metrics:    nopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "Subscription")
	return s
}

// HandleMessage processes one bus payload. A nil return acknowledges it.
func (s *Subscription) HandleMessage(ctx context.Context, key, value []byte) error {
	start := time.Now()

	events, err := store.UnmarshalBatch(value)
	if err != nil {
		// redelivery cannot fix a payload that does not decode
		s.logger.Error("dropping undecodable batch", "key", string(key), "error", err)
		s.metrics.ObserveBatch(ResultPoison, time.Since(start))
		return nil
	}

	applyErr := s.apply(ctx, events)
	if applyErr == nil {
		s.metrics.ObserveBatch(ResultApplied, time.Since(start))
		return nil
	}

	s.logger.Warn("apply failed, rebuilding", "key", string(key), "events", len(events), "error", applyErr)
	for _, aggregateID := range aggregateIDs(events) {
		if err := s.Rebuild(ctx, aggregateID); err != nil {
			s.logger.Error("rebuild failed", "aggregateId", aggregateID, "error", err)
			s.metrics.ObserveBatch(ResultRebuildFailed, time.Since(start))
			return fmt.Errorf("rebuild %s after %w: %w", aggregateID, applyErr, err)
		}
	}
	s.metrics.ObserveBatch(ResultRebuilt, time.Since(start))
	return nil
}

func (s *Subscription) apply(ctx context.Context, events []store.Event) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrProjectionApply, err)
		}
		if err := s.projection.When(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Rebuild replaces the document of aggregateID with one derived from the
// aggregate store. An aggregate missing from the log leaves no document.
func (s *Subscription) Rebuild(ctx context.Context, aggregateID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.readStore.DeleteByAggregateID(ctx, aggregateID); err != nil {
		return err
	}

	acc, err := store.LoadAggregate[*account.BankAccount](ctx, s.aggregates, aggregateID, account.AggregateType)
	if errors.Is(err, store.ErrAggregateNotFound) {
		s.logger.Warn("aggregate missing from log, document removed", "aggregateId", aggregateID)
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.readStore.Insert(ctx, readmodel.FromAccount(acc)); err != nil {
		return err
	}
	s.logger.Info("document rebuilt", "aggregateId", aggregateID, "version", acc.GetVersion())
	return nil
}

func aggregateIDs(events []store.Event) []string {
	seen := make(map[string]bool, len(events))
	var ids []string
	for _, e := range events {
		if !seen[e.AggregateID] {
			seen[e.AggregateID] = true
			ids = append(ids, e.AggregateID)
		}
	}
	return ids
}
