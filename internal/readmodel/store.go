package readmodel

import (
	"context"
	"errors"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrDocumentExists   = errors.New("document already exists")
)

// AccountReadStore persists one BankAccountDocument per aggregate id.
type AccountReadStore interface {
	// Insert fails with ErrDocumentExists if the aggregate already has a document.
	Insert(ctx context.Context, doc BankAccountDocument) error
	FindByAggregateID(ctx context.Context, aggregateID string) (*BankAccountDocument, error)
	// Update replaces the document of doc.AggregateID or fails with ErrDocumentNotFound.
	Update(ctx context.Context, doc BankAccountDocument) error
	// DeleteByAggregateID is a no-op for a missing document.
	DeleteByAggregateID(ctx context.Context, aggregateID string) error
	FindAll(ctx context.Context, page, size int) (*Page, error)
}
