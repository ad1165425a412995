package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/bank-event-sourcing/internal/domain/account"
	"github.com/example/bank-event-sourcing/internal/domain/aggregate"
	"github.com/example/bank-event-sourcing/internal/infrastructure/store"
	"github.com/example/bank-event-sourcing/internal/infrastructure/store/mocks"
)

func newTestAggregateStore() (*store.AggregateStore, *store.MemoryEventLog, *mocks.MockEventBus) {
	log := store.NewMemoryEventLog()
	bus := mocks.NewMockEventBus()
	factories := aggregate.Factories{account.AggregateType: account.NewAggregate}
	s := store.NewAggregateStore(log, account.NewSerializer(), bus, factories)
	return s, log, bus
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func createAccount(t *testing.T, s *store.AggregateStore, id, balance string) *account.BankAccount {
	t.Helper()
	acc := account.New(id)
	require.NoError(t, acc.CreateAccount("alice@example.com", dec(balance), account.CurrencyUSD))
	require.NoError(t, s.Save(context.Background(), acc))
	return acc
}

func loadAccount(t *testing.T, s *store.AggregateStore, id string) *account.BankAccount {
	t.Helper()
	acc, err := store.LoadAggregate[*account.BankAccount](context.Background(), s, id, account.AggregateType)
	require.NoError(t, err)
	return acc
}

func deposit(t *testing.T, s *store.AggregateStore, id, amount string) {
	t.Helper()
	acc := loadAccount(t, s, id)
	require.NoError(t, acc.DepositBalance(dec(amount)))
	require.NoError(t, s.Save(context.Background(), acc))
}

// ============================================
// Scenario Tests
// ============================================

func TestAggregateStore_CreateAndLoad(t *testing.T) {
	s, _, _ := newTestAggregateStore()
	createAccount(t, s, "acc-a", "100.00")

	acc := loadAccount(t, s, "acc-a")

	assert.Equal(t, 1, acc.GetVersion())
	assert.True(t, dec("100.00").Equal(acc.Balance))
	assert.Equal(t, account.CurrencyUSD, acc.Currency)
	assert.Empty(t, acc.Changes())
}

func TestAggregateStore_CreateThenDeposit(t *testing.T) {
	s, _, _ := newTestAggregateStore()
	createAccount(t, s, "acc-b", "100.00")

	deposit(t, s, "acc-b", "50.00")

	acc := loadAccount(t, s, "acc-b")
	assert.Equal(t, 2, acc.GetVersion())
	assert.True(t, dec("150.00").Equal(acc.Balance))
}

func TestAggregateStore_NegativeDepositAppendsNothing(t *testing.T) {
	s, log, bus := newTestAggregateStore()
	createAccount(t, s, "acc-c", "100.00")

	acc := loadAccount(t, s, "acc-c")
	err := acc.DepositBalance(dec("-1"))
	require.ErrorIs(t, err, aggregate.ErrValidation)
	require.NoError(t, s.Save(context.Background(), acc))

	assert.Len(t, log.Events("acc-c"), 1)
	assert.Len(t, bus.PublishCalls, 1)
	assert.Equal(t, 1, loadAccount(t, s, "acc-c").GetVersion())
}

func TestAggregateStore_SnapshotSurvivesEventDeletion(t *testing.T) {
	s, log, _ := newTestAggregateStore()
	createAccount(t, s, "acc-d", "100.00")
	deposit(t, s, "acc-d", "10")
	deposit(t, s, "acc-d", "5")

	snapshot, err := log.LoadSnapshot(context.Background(), "acc-d")
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Equal(t, 3, snapshot.Version)
	before := loadAccount(t, s, "acc-d")

	log.DeleteEventsUpTo("acc-d", 3)
	after := loadAccount(t, s, "acc-d")

	assert.Equal(t, before.GetVersion(), after.GetVersion())
	assert.True(t, before.Balance.Equal(after.Balance))
	assert.Equal(t, before.Email, after.Email)

	require.NoError(t, after.DepositBalance(dec("1")))
	require.NoError(t, s.Save(context.Background(), after))
	assert.Equal(t, 4, loadAccount(t, s, "acc-d").GetVersion())
}

// ============================================
// Load Tests
// ============================================

func TestAggregateStore_Load_NotFound(t *testing.T) {
	s, _, _ := newTestAggregateStore()

	_, err := s.Load(context.Background(), "missing", account.AggregateType)

	assert.ErrorIs(t, err, store.ErrAggregateNotFound)
}

func TestAggregateStore_Load_UnknownAggregateType(t *testing.T) {
	s, _, _ := newTestAggregateStore()

	_, err := s.Load(context.Background(), "x", "Loan")

	assert.ErrorIs(t, err, store.ErrUnknownAggregateType)
}

func TestAggregateStore_Load_SnapshotIsTransparent(t *testing.T) {
	s, log, _ := newTestAggregateStore()
	createAccount(t, s, "acc-t", "1")
	for _, amount := range []string{"2", "3", "4", "5", "6"} {
		deposit(t, s, "acc-t", amount)
	}
	withSnapshot := loadAccount(t, s, "acc-t")

	log.DeleteSnapshot("acc-t")
	replayed := loadAccount(t, s, "acc-t")

	assert.Equal(t, 6, replayed.GetVersion())
	assert.Equal(t, withSnapshot.GetVersion(), replayed.GetVersion())
	assert.True(t, withSnapshot.Balance.Equal(replayed.Balance))
	assert.True(t, dec("21").Equal(replayed.Balance))
}

func TestAggregateStore_Load_ReplayFidelity(t *testing.T) {
	s, _, _ := newTestAggregateStore()
	acc := account.New("acc-f")
	require.NoError(t, acc.CreateAccount("alice@example.com", dec("0"), account.CurrencyEUR))
	require.NoError(t, acc.DepositBalance(dec("9.99")))
	require.NoError(t, acc.ChangeEmail("bob@example.org"))
	require.NoError(t, acc.DepositBalance(dec("0.01")))
	require.NoError(t, s.Save(context.Background(), acc))

	loaded := loadAccount(t, s, "acc-f")

	assert.Equal(t, acc.GetVersion(), loaded.GetVersion())
	assert.Equal(t, acc.Email, loaded.Email)
	assert.Equal(t, acc.Currency, loaded.Currency)
	assert.True(t, acc.Balance.Equal(loaded.Balance))
}

func TestAggregateStore_Load_CorruptPayload(t *testing.T) {
	s, _, _ := newTestAggregateStore()
	require.NoError(t, s.SaveEvents(context.Background(), []store.Event{{
		ID: "e-1", AggregateID: "acc-x", AggregateType: account.AggregateType,
		EventType: account.EventBankAccountCreated, Version: 1, Data: []byte(`{"balance":[]}`),
	}}))

	_, err := s.Load(context.Background(), "acc-x", account.AggregateType)

	assert.ErrorIs(t, err, store.ErrSerialization)
}

// ============================================
// Save Tests
// ============================================

func TestAggregateStore_Save_VersionsAreGapFree(t *testing.T) {
	s, log, bus := newTestAggregateStore()
	acc := account.New("acc-v")
	require.NoError(t, acc.CreateAccount("alice@example.com", dec("1"), account.CurrencyUSD))
	require.NoError(t, acc.DepositBalance(dec("1")))
	require.NoError(t, s.Save(context.Background(), acc))
	deposit(t, s, "acc-v", "1")

	events := log.Events("acc-v")
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, i+1, e.Version)
	}
	require.Len(t, bus.PublishCalls, 2)
	assert.Len(t, bus.PublishCalls[0], 2)
	assert.Equal(t, account.EventBankAccountCreated, bus.PublishCalls[0][0].EventType)
	assert.Equal(t, account.EventBalanceDeposited, bus.PublishCalls[0][1].EventType)
}

func TestAggregateStore_Save_ClearsChanges(t *testing.T) {
	s, _, _ := newTestAggregateStore()

	acc := createAccount(t, s, "acc-1", "1")

	assert.Empty(t, acc.Changes())
}

func TestAggregateStore_Save_NoChangesIsNoop(t *testing.T) {
	s, _, bus := newTestAggregateStore()
	createAccount(t, s, "acc-1", "1")
	acc := loadAccount(t, s, "acc-1")

	require.NoError(t, s.Save(context.Background(), acc))

	assert.Len(t, bus.PublishCalls, 1)
}

func TestAggregateStore_Save_PublishFailureRollsBack(t *testing.T) {
	s, log, bus := newTestAggregateStore()
	createAccount(t, s, "acc-p", "1")
	deposit(t, s, "acc-p", "1")
	bus.PublishErr = errors.New("broker down")

	acc := loadAccount(t, s, "acc-p")
	require.NoError(t, acc.DepositBalance(dec("1")))
	err := s.Save(context.Background(), acc)

	assert.ErrorIs(t, err, store.ErrPublish)
	assert.Len(t, log.Events("acc-p"), 2)
	snapshot, _ := log.LoadSnapshot(context.Background(), "acc-p")
	assert.Nil(t, snapshot)
	assert.Len(t, acc.Changes(), 1)
}

func TestAggregateStore_Save_StaleVersionConflicts(t *testing.T) {
	s, _, _ := newTestAggregateStore()
	createAccount(t, s, "acc-s", "1")

	first := loadAccount(t, s, "acc-s")
	second := loadAccount(t, s, "acc-s")
	require.NoError(t, first.DepositBalance(dec("1")))
	require.NoError(t, second.DepositBalance(dec("2")))

	require.NoError(t, s.Save(context.Background(), first))
	err := s.Save(context.Background(), second)

	assert.ErrorIs(t, err, store.ErrConcurrency)
	assert.True(t, store.IsRetryable(err))
	assert.True(t, dec("2").Equal(loadAccount(t, s, "acc-s").Balance))
}

func TestAggregateStore_Save_DuplicateCreateConflicts(t *testing.T) {
	s, _, _ := newTestAggregateStore()
	createAccount(t, s, "acc-dup", "1")

	dup := account.New("acc-dup")
	require.NoError(t, dup.CreateAccount("bob@example.org", dec("5"), account.CurrencyUSD))
	err := s.Save(context.Background(), dup)

	assert.ErrorIs(t, err, store.ErrConcurrency)
}

func TestAggregateStore_Save_ConcurrentWritersOneWins(t *testing.T) {
	s, log, _ := newTestAggregateStore()
	createAccount(t, s, "acc-r", "0")

	const writers = 8
	accounts := make([]*account.BankAccount, writers)
	for i := range accounts {
		accounts[i] = loadAccount(t, s, "acc-r")
		require.NoError(t, accounts[i].DepositBalance(dec("1")))
	}

	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := range accounts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Save(context.Background(), accounts[i])
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, store.ErrConcurrency)
	}
	assert.Equal(t, 1, succeeded)
	assert.Len(t, log.Events("acc-r"), 2)
}

func TestAggregateStore_Save_StampsMetadata(t *testing.T) {
	s, log, _ := newTestAggregateStore()
	ctx := store.WithMetadata(context.Background(), store.Metadata{RequestID: "req-1", UserID: "ops"})

	acc := account.New("acc-m")
	require.NoError(t, acc.CreateAccount("alice@example.com", dec("1"), account.CurrencyUSD))
	require.NoError(t, s.Save(ctx, acc))

	events := log.Events("acc-m")
	require.Len(t, events, 1)
	assert.JSONEq(t, `{"request_id":"req-1","user_id":"ops"}`, string(events[0].Metadata))
}

func TestAggregateStore_Save_CustomSnapshotFrequency(t *testing.T) {
	log := store.NewMemoryEventLog()
	s := store.NewAggregateStore(log, account.NewSerializer(), mocks.NewMockEventBus(),
		aggregate.Factories{account.AggregateType: account.NewAggregate},
		store.WithSnapshotFrequency(2))
	createAccount(t, s, "acc-2", "1")
	deposit(t, s, "acc-2", "1")

	snapshot, err := log.LoadSnapshot(context.Background(), "acc-2")

	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Equal(t, 2, snapshot.Version)
}

func TestAggregateStore_LoadEvents_AfterVersion(t *testing.T) {
	s, _, _ := newTestAggregateStore()
	createAccount(t, s, "acc-e", "1")
	deposit(t, s, "acc-e", "1")
	deposit(t, s, "acc-e", "1")

	events, err := s.LoadEvents(context.Background(), "acc-e", 1)

	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 2, events[0].Version)
	assert.Equal(t, 3, events[1].Version)
}
