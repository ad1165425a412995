package readmodel

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-memory AccountReadStore
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]BankAccountDocument // aggregateID -> document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]BankAccountDocument)}
}

func (s *MemoryStore) Insert(_ context.Context, doc BankAccountDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[doc.AggregateID]; ok {
		return fmt.Errorf("%w: %s", ErrDocumentExists, doc.AggregateID)
	}
	s.docs[doc.AggregateID] = doc
	return nil
}

func (s *MemoryStore) FindByAggregateID(_ context.Context, aggregateID string) (*BankAccountDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[aggregateID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, aggregateID)
	}
	return &doc, nil
}

func (s *MemoryStore) Update(_ context.Context, doc BankAccountDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.docs[doc.AggregateID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, doc.AggregateID)
	}
	doc.ID = current.ID
	s.docs[doc.AggregateID] = doc
	return nil
}

func (s *MemoryStore) DeleteByAggregateID(_ context.Context, aggregateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, aggregateID)
	return nil
}

func (s *MemoryStore) FindAll(_ context.Context, page, size int) (*Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var list []BankAccountDocument
	start := page * size
	for i := start; i < len(ids) && i < start+size; i++ {
		list = append(list, s.docs[ids[i]])
	}
	return NewPage(list, page, size, len(ids)), nil
}
