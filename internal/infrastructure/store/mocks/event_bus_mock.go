package mocks

import (
	"context"
	"sync"

	"github.com/example/bank-event-sourcing/internal/infrastructure/store"
)

// MockEventBus records every published batch
type MockEventBus struct {
	mu sync.Mutex

	// For tracking calls in tests
	PublishCalls    [][]store.Event
	PublishErr      error
	PublishCallback func(ctx context.Context, events []store.Event) error
}

func NewMockEventBus() *MockEventBus {
	return &MockEventBus{PublishCalls: make([][]store.Event, 0)}
}

func (m *MockEventBus) Publish(ctx context.Context, events []store.Event) error {
	m.mu.Lock()
	m.PublishCalls = append(m.PublishCalls, append([]store.Event(nil), events...))
	callback, err := m.PublishCallback, m.PublishErr
	m.mu.Unlock()

	if callback != nil {
		return callback(ctx, events)
	}
	return err
}

// Published returns all events published so far, flattened in order
func (m *MockEventBus) Published() []store.Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []store.Event
	for _, batch := range m.PublishCalls {
		all = append(all, batch...)
	}
	return all
}

// Reset clears recorded calls and injected failures
func (m *MockEventBus) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PublishCalls = make([][]store.Event, 0)
	m.PublishErr = nil
	m.PublishCallback = nil
}
