package projection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/bank-event-sourcing/internal/domain/account"
	"github.com/example/bank-event-sourcing/internal/infrastructure/store"
	"github.com/example/bank-event-sourcing/internal/infrastructure/store/mocks"
	"github.com/example/bank-event-sourcing/internal/readmodel"
)

func newTestProjection() (*BankAccountProjection, *mocks.MockReadStore) {
	readStore := mocks.NewMockReadStore()
	return NewBankAccountProjection(readStore, account.NewSerializer()), readStore
}

func TestBankAccountProjection_When_UnknownEventType(t *testing.T) {
	p, readStore := newTestProjection()

	err := p.When(context.Background(), store.Event{AggregateID: "acc-1", EventType: "ACCOUNT_CLOSED_V1", Version: 2, Data: []byte(`{}`)})

	assert.ErrorIs(t, err, ErrProjectionApply)
	assert.ErrorIs(t, err, store.ErrUnknownEventType)
	assert.Empty(t, readStore.InsertCalls)
}

func TestBankAccountProjection_When_CorruptPayload(t *testing.T) {
	p, _ := newTestProjection()

	err := p.When(context.Background(), store.Event{AggregateID: "acc-1", EventType: account.EventBalanceDeposited, Version: 2, Data: []byte(`{"amount":"x"}`)})

	assert.ErrorIs(t, err, ErrProjectionApply)
	assert.ErrorIs(t, err, store.ErrSerialization)
}

func TestBankAccountProjection_When_EmailChanged(t *testing.T) {
	p, readStore := newTestProjection()
	readStore.SetDocument(readmodel.BankAccountDocument{ID: "d", AggregateID: "acc-1", Email: "alice@example.com", Balance: dec("5"), Currency: "USD", Version: 4})

	err := p.When(context.Background(), store.Event{
		AggregateID: "acc-1", EventType: account.EventEmailChanged, Version: 5,
		Data: []byte(`{"aggregate_id":"acc-1","new_email":"bob@example.org"}`),
	})

	require.NoError(t, err)
	doc := readStore.Document("acc-1")
	assert.Equal(t, "bob@example.org", doc.Email)
	assert.Equal(t, 5, doc.Version)
	assert.True(t, dec("5").Equal(doc.Balance))
}

func TestBankAccountProjection_When_DepositWithoutDocument(t *testing.T) {
	p, _ := newTestProjection()

	err := p.When(context.Background(), store.Event{
		AggregateID: "acc-1", EventType: account.EventBalanceDeposited, Version: 2,
		Data: []byte(`{"aggregate_id":"acc-1","amount":"1"}`),
	})

	assert.ErrorIs(t, err, ErrProjectionApply)
	assert.ErrorIs(t, err, readmodel.ErrDocumentNotFound)
}
