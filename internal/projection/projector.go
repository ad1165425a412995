package projection

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/bank-event-sourcing/internal/domain/account"
	"github.com/example/bank-event-sourcing/internal/infrastructure/store"
	"github.com/example/bank-event-sourcing/internal/readmodel"
)

var ErrProjectionApply = errors.New("projection apply failed")

// BankAccountProjection folds BankAccount events into BankAccountDocuments.
// Events at or below the document version were already applied and are skipped.
type BankAccountProjection struct {
	readStore  readmodel.AccountReadStore
	serializer store.Serializer
}

func NewBankAccountProjection(readStore readmodel.AccountReadStore, serializer store.Serializer) *BankAccountProjection {
	return &BankAccountProjection{readStore: readStore, serializer: serializer}
}

// When applies one event to the read model.
func (p *BankAccountProjection) When(ctx context.Context, event store.Event) error {
	domainEvent, err := p.serializer.Deserialize(event)
	if err != nil {
		return p.applyError(event, err)
	}

	switch e := domainEvent.(type) {
	case account.BankAccountCreated:
		err = p.onCreated(ctx, event, e)
	case account.BalanceDeposited:
		err = p.update(ctx, event, func(doc *readmodel.BankAccountDocument) {
			doc.Balance = doc.Balance.Add(e.Amount)
		})
	case account.EmailChanged:
		err = p.update(ctx, event, func(doc *readmodel.BankAccountDocument) {
			doc.Email = e.NewEmail
		})
	default:
		err = fmt.Errorf("%w: %T", store.ErrUnknownEventType, domainEvent)
	}
	if err != nil {
		return p.applyError(event, err)
	}
	return nil
}

func (p *BankAccountProjection) onCreated(ctx context.Context, event store.Event, e account.BankAccountCreated) error {
	err := p.readStore.Insert(ctx, readmodel.BankAccountDocument{
		ID:          readmodel.DocumentID(event.AggregateID),
		AggregateID: event.AggregateID,
		Email:       e.Email,
		Balance:     e.Balance,
		Currency:    string(e.Currency),
		Version:     event.Version,
	})
	if errors.Is(err, readmodel.ErrDocumentExists) {
		existing, findErr := p.readStore.FindByAggregateID(ctx, event.AggregateID)
		if findErr == nil && existing.Version >= event.Version {
			return nil
		}
	}
	return err
}

func (p *BankAccountProjection) update(ctx context.Context, event store.Event, mutate func(doc *readmodel.BankAccountDocument)) error {
	doc, err := p.readStore.FindByAggregateID(ctx, event.AggregateID)
	if err != nil {
		return err
	}
	if event.Version <= doc.Version {
		return nil
	}
	if event.Version != doc.Version+1 {
		return fmt.Errorf("document at version %d cannot take version %d", doc.Version, event.Version)
	}

	mutate(doc)
	doc.Version = event.Version
	return p.readStore.Update(ctx, *doc)
}

func (p *BankAccountProjection) applyError(event store.Event, err error) error {
	return fmt.Errorf("%w: %s version %d of %s: %w", ErrProjectionApply, event.EventType, event.Version, event.AggregateID, err)
}
