package query

import (
	"context"
	"errors"
	"math"

	"github.com/example/bank-event-sourcing/internal/domain/account"
	"github.com/example/bank-event-sourcing/internal/infrastructure/store"
	"github.com/example/bank-event-sourcing/internal/logger"
	"github.com/example/bank-event-sourcing/internal/readmodel"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

type Handler struct {
	readStore  readmodel.AccountReadStore
	aggregates store.AggregateStoreInterface
	logger     *logger.Logger
}

func NewHandler(readStore readmodel.AccountReadStore, aggregates store.AggregateStoreInterface, log *logger.Logger) *Handler {
	return &Handler{
		readStore:  readStore,
		aggregates: aggregates,
		logger:     log.With("component", "QueryHandler"),
	}
}

// GetBankAccountByID reads the account document. With fromStore the event log
// is consulted directly; otherwise a read-model miss falls back to the log and
// populates the missing document.
func (h *Handler) GetBankAccountByID(ctx context.Context, aggregateID string, fromStore bool) (*readmodel.BankAccountDocument, error) {
	if fromStore {
		return h.loadFromStore(ctx, aggregateID)
	}

	doc, err := h.readStore.FindByAggregateID(ctx, aggregateID)
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, readmodel.ErrDocumentNotFound) {
		return nil, err
	}

	doc, err = h.loadFromStore(ctx, aggregateID)
	if err != nil {
		return nil, err
	}
	if err := h.readStore.Insert(ctx, *doc); err != nil && !errors.Is(err, readmodel.ErrDocumentExists) {
		h.logger.Warn("populate read model", "aggregateId", aggregateID, "error", err)
	}
	return doc, nil
}

// GetAll returns one page of accounts. Out of range paging is clamped.
func (h *Handler) GetAll(ctx context.Context, page, size int) (*readmodel.Page, error) {
	if page < 0 {
		page = 0
	}
	switch {
	case size <= 0:
		size = DefaultPageSize
	case size > MaxPageSize:
		size = MaxPageSize
	}
	// Keeps the offset page*size within int32.
	if lastPage := math.MaxInt32 / size; page > lastPage {
		page = lastPage
	}
	return h.readStore.FindAll(ctx, page, size)
}

func (h *Handler) loadFromStore(ctx context.Context, aggregateID string) (*readmodel.BankAccountDocument, error) {
	acc, err := store.LoadAggregate[*account.BankAccount](ctx, h.aggregates, aggregateID, account.AggregateType)
	if err != nil {
		return nil, err
	}
	doc := readmodel.FromAccount(acc)
	return &doc, nil
}
