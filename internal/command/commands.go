package command

import "github.com/shopspring/decimal"

type CreateBankAccount struct {
	Email    string          `json:"email"`
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
}

type DepositBalance struct {
	AggregateID string          `json:"aggregate_id"`
	Amount      decimal.Decimal `json:"amount"`
}

type ChangeEmail struct {
	AggregateID string `json:"aggregate_id"`
	NewEmail    string `json:"new_email"`
}
