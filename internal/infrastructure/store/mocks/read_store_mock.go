package mocks

import (
	"context"
	"sync"

	"github.com/example/bank-event-sourcing/internal/readmodel"
)

// MockReadStore wraps a readmodel.MemoryStore, records calls and injects failures
type MockReadStore struct {
	mu    sync.Mutex
	inner *readmodel.MemoryStore

	// For tracking calls in tests
	InsertCalls []readmodel.BankAccountDocument
	UpdateCalls []readmodel.BankAccountDocument
	DeleteCalls []string
	FindCalls   []string

	InsertErr error
	UpdateErr error
	DeleteErr error
	FindErr   error
}

func NewMockReadStore() *MockReadStore {
	return &MockReadStore{inner: readmodel.NewMemoryStore()}
}

func (m *MockReadStore) Insert(ctx context.Context, doc readmodel.BankAccountDocument) error {
	m.mu.Lock()
	m.InsertCalls = append(m.InsertCalls, doc)
	err := m.InsertErr
	m.mu.Unlock()

	if err != nil {
		return err
	}
	return m.inner.Insert(ctx, doc)
}

func (m *MockReadStore) FindByAggregateID(ctx context.Context, aggregateID string) (*readmodel.BankAccountDocument, error) {
	m.mu.Lock()
	m.FindCalls = append(m.FindCalls, aggregateID)
	err := m.FindErr
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return m.inner.FindByAggregateID(ctx, aggregateID)
}

func (m *MockReadStore) Update(ctx context.Context, doc readmodel.BankAccountDocument) error {
	m.mu.Lock()
	m.UpdateCalls = append(m.UpdateCalls, doc)
	err := m.UpdateErr
	m.mu.Unlock()

	if err != nil {
		return err
	}
	return m.inner.Update(ctx, doc)
}

func (m *MockReadStore) DeleteByAggregateID(ctx context.Context, aggregateID string) error {
	m.mu.Lock()
	m.DeleteCalls = append(m.DeleteCalls, aggregateID)
	err := m.DeleteErr
	m.mu.Unlock()

	if err != nil {
		return err
	}
	return m.inner.DeleteByAggregateID(ctx, aggregateID)
}

func (m *MockReadStore) FindAll(ctx context.Context, page, size int) (*readmodel.Page, error) {
	return m.inner.FindAll(ctx, page, size)
}

// SetDocument stores a document directly, bypassing failure injection
func (m *MockReadStore) SetDocument(doc readmodel.BankAccountDocument) {
	_ = m.inner.DeleteByAggregateID(context.Background(), doc.AggregateID)
	_ = m.inner.Insert(context.Background(), doc)
}

// Document returns the stored document or nil
func (m *MockReadStore) Document(aggregateID string) *readmodel.BankAccountDocument {
	doc, err := m.inner.FindByAggregateID(context.Background(), aggregateID)
	if err != nil {
		return nil
	}
	return doc
}

// Reset clears recorded calls and injected failures
func (m *MockReadStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InsertCalls, m.UpdateCalls = nil, nil
	m.DeleteCalls, m.FindCalls = nil, nil
	m.InsertErr, m.UpdateErr, m.DeleteErr, m.FindErr = nil, nil, nil, nil
}
