package account

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/example/bank-event-sourcing/internal/domain/aggregate"
)

const AggregateType = "BankAccount"

const (
	minEmailLength = 6
	maxEmailLength = 60
)

type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyRUB Currency = "RUB"
)

var (
	ErrInvalidAmount   = fmt.Errorf("%w: invalid amount", aggregate.ErrValidation)
	ErrInvalidEmail    = fmt.Errorf("%w: invalid email", aggregate.ErrValidation)
	ErrInvalidCurrency = fmt.Errorf("%w: invalid currency", aggregate.ErrValidation)
	ErrAlreadyCreated  = fmt.Errorf("%w: account already created", aggregate.ErrValidation)
)

var validate = validator.New()

// ParseCurrency accepts the supported ISO codes; an empty code means USD.
func ParseCurrency(code string) (Currency, error) {
	switch c := Currency(strings.ToUpper(strings.TrimSpace(code))); c {
	case "":
		return CurrencyUSD, nil
	case CurrencyUSD, CurrencyEUR, CurrencyRUB:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
}

type BankAccount struct {
	aggregate.Root
	Email    string          `json:"email"`
	Balance  decimal.Decimal `json:"balance"`
	Currency Currency        `json:"currency"`
}

func New(id string) *BankAccount {
	return &BankAccount{
		Root:     aggregate.NewRoot(id, AggregateType),
		Balance:  decimal.Zero,
		Currency: CurrencyUSD,
	}
}

// NewAggregate is the factory registered for AggregateType.
func NewAggregate(id string) aggregate.Aggregate {
	return New(id)
}

func (a *BankAccount) CreateAccount(email string, balance decimal.Decimal, currency Currency) error {
	if a.Version > 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyCreated, a.ID)
	}
	if err := validateEmail(email); err != nil {
		return err
	}
	if balance.IsNegative() {
		return fmt.Errorf("%w: %s, aggregate: %s", ErrInvalidAmount, balance, a.ID)
	}
	currency, err := ParseCurrency(string(currency))
	if err != nil {
		return err
	}

	return aggregate.Apply(a, BankAccountCreated{
		AggregateID: a.ID,
		Email:       email,
		Balance:     balance,
		Currency:    currency,
	})
}

func (a *BankAccount) DepositBalance(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s, aggregate: %s", ErrInvalidAmount, amount, a.ID)
	}
	return aggregate.Apply(a, BalanceDeposited{AggregateID: a.ID, Amount: amount})
}

func (a *BankAccount) ChangeEmail(email string) error {
	if err := validateEmail(email); err != nil {
		return err
	}
	return aggregate.Apply(a, EmailChanged{AggregateID: a.ID, NewEmail: email})
}

// WhenEvent folds one event into the account state (implements aggregate.Aggregate).
func (a *BankAccount) WhenEvent(event any) error {
	switch e := event.(type) {
	case BankAccountCreated:
		a.Email = e.Email
		a.Currency = e.Currency
		a.Balance = a.Balance.Add(e.Balance)
	case BalanceDeposited:
		a.Balance = a.Balance.Add(e.Amount)
	case EmailChanged:
		a.Email = e.NewEmail
	default:
		return fmt.Errorf("%w: %T, aggregate: %s", aggregate.ErrUnknownEventType, event, a.ID)
	}
	return nil
}

func validateEmail(email string) error {
	if len(email) < minEmailLength || len(email) > maxEmailLength {
		return fmt.Errorf("%w: %q must be %d-%d characters", ErrInvalidEmail, email, minEmailLength, maxEmailLength)
	}
	if err := validate.Var(email, "required,email"); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return nil
}
