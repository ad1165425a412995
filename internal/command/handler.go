package command

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/example/bank-event-sourcing/internal/domain/account"
	"github.com/example/bank-event-sourcing/internal/infrastructure/store"
	"github.com/example/bank-event-sourcing/internal/logger"
)

const DefaultMaxAttempts = 5

type Handler struct {
	aggregates  store.AggregateStoreInterface
	logger      *logger.Logger
	maxAttempts int
	newBackOff  func() backoff.BackOff
}

type Option func(*Handler)

// WithMaxAttempts bounds how often a command is re-run after a concurrency conflict.
func WithMaxAttempts(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxAttempts = n
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

func NewHandler(aggregates store.AggregateStoreInterface, opts ...Option) *Handler {
	h := &Handler{
		aggregates:  aggregates,
		logger:      logger.NewNop(),
		maxAttempts: DefaultMaxAttempts,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 10 * time.Millisecond
			b.MaxInterval = 200 * time.Millisecond
			return b
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "CommandHandler")
	return h
}

// CreateBankAccount opens a new account and returns its id.
func (h *Handler) CreateBankAccount(ctx context.Context, cmd CreateBankAccount) (string, error) {
	currency, err := account.ParseCurrency(cmd.Currency)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	acc := account.New(id)
	if err := acc.CreateAccount(cmd.Email, cmd.Balance, currency); err != nil {
		return "", err
	}
	if err := h.aggregates.Save(ctx, acc); err != nil {
		return "", err
	}

	h.logger.Info("bank account created", "aggregateId", id)
	return id, nil
}

func (h *Handler) DepositBalance(ctx context.Context, cmd DepositBalance) error {
	return h.update(ctx, cmd.AggregateID, func(acc *account.BankAccount) error {
		return acc.DepositBalance(cmd.Amount)
	})
}

func (h *Handler) ChangeEmail(ctx context.Context, cmd ChangeEmail) error {
	return h.update(ctx, cmd.AggregateID, func(acc *account.BankAccount) error {
		return acc.ChangeEmail(cmd.NewEmail)
	})
}

// update loads the account, runs fn and saves. A save rejected by the
// version check is retried from a fresh load; every other error is final.
func (h *Handler) update(ctx context.Context, aggregateID string, fn func(*account.BankAccount) error) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		acc, err := store.LoadAggregate[*account.BankAccount](ctx, h.aggregates, aggregateID, account.AggregateType)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if err := fn(acc); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if err := h.aggregates.Save(ctx, acc); err != nil {
			if !store.IsRetryable(err) {
				return struct{}{}, backoff.Permanent(err)
			}
			h.logger.Warn("concurrent update, reloading", "aggregateId", aggregateID, "attempt", attempt)
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(h.newBackOff()),
		backoff.WithMaxTries(uint(h.maxAttempts)),
		backoff.WithMaxElapsedTime(0),
	)
	return err
}
