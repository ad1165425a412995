package account

import "github.com/shopspring/decimal"

const (
	EventBankAccountCreated = "BANK_ACCOUNT_CREATED_V1"
	EventBalanceDeposited   = "BALANCE_DEPOSITED_V1"
	EventEmailChanged       = "EMAIL_CHANGED_V1"
)

type BankAccountCreated struct {
	AggregateID string          `json:"aggregate_id"`
	Email       string          `json:"email"`
	Balance     decimal.Decimal `json:"balance"`
	Currency    Currency        `json:"currency"`
}

type BalanceDeposited struct {
	AggregateID string          `json:"aggregate_id"`
	Amount      decimal.Decimal `json:"amount"`
}

type EmailChanged struct {
	AggregateID string `json:"aggregate_id"`
	NewEmail    string `json:"new_email"`
}
