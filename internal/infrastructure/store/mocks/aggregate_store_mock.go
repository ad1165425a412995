package mocks

import (
	"context"
	"sync"

	"github.com/example/bank-event-sourcing/internal/domain/aggregate"
	"github.com/example/bank-event-sourcing/internal/infrastructure/store"
)

// MockAggregateStore wraps a real AggregateStore over a MemoryEventLog and
// lets tests inject failures and inspect calls.
type MockAggregateStore struct {
	mu    sync.Mutex
	inner *store.AggregateStore

	Log *store.MemoryEventLog
	Bus *MockEventBus

	// For tracking calls in tests
	LoadCalls []LoadCall
	SaveCalls int
	LoadErr   error
	// SaveErrs are returned by consecutive Save calls before falling through to the real store
	SaveErrs []error
}

// LoadCall records parameters passed to Load
type LoadCall struct {
	AggregateID   string
	AggregateType string
}

func NewMockAggregateStore(serializer store.Serializer, factories aggregate.Factories) *MockAggregateStore {
	log := store.NewMemoryEventLog()
	bus := NewMockEventBus()
	return &MockAggregateStore{
		inner:     store.NewAggregateStore(log, serializer, bus, factories),
		Log:       log,
		Bus:       bus,
		LoadCalls: make([]LoadCall, 0),
	}
}

func (m *MockAggregateStore) Load(ctx context.Context, aggregateID, aggregateType string) (aggregate.Aggregate, error) {
	m.mu.Lock()
	m.LoadCalls = append(m.LoadCalls, LoadCall{AggregateID: aggregateID, AggregateType: aggregateType})
	err := m.LoadErr
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return m.inner.Load(ctx, aggregateID, aggregateType)
}

func (m *MockAggregateStore) Save(ctx context.Context, agg aggregate.Aggregate) error {
	m.mu.Lock()
	m.SaveCalls++
	var err error
	if len(m.SaveErrs) > 0 {
		err, m.SaveErrs = m.SaveErrs[0], m.SaveErrs[1:]
	}
	m.mu.Unlock()

	if err != nil {
		return err
	}
	return m.inner.Save(ctx, agg)
}

func (m *MockAggregateStore) SaveEvents(ctx context.Context, events []store.Event) error {
	return m.inner.SaveEvents(ctx, events)
}

func (m *MockAggregateStore) LoadEvents(ctx context.Context, aggregateID string, afterVersion int) ([]store.Event, error) {
	return m.inner.LoadEvents(ctx, aggregateID, afterVersion)
}

// Reset clears recorded calls and injected failures
func (m *MockAggregateStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LoadCalls = make([]LoadCall, 0)
	m.SaveCalls = 0
	m.LoadErr = nil
	m.SaveErrs = nil
}
