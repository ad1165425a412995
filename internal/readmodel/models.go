package readmodel

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/bank-event-sourcing/internal/domain/account"
)

// BankAccountDocument is the read model for bank accounts.
// Version is the aggregate version of the last applied event.
type BankAccountDocument struct {
	ID          string          `json:"id" db:"id"`
	AggregateID string          `json:"aggregate_id" db:"aggregate_id"`
	Email       string          `json:"email" db:"email"`
	Balance     decimal.Decimal `json:"balance" db:"balance"`
	Currency    string          `json:"currency" db:"currency"`
	Version     int             `json:"version" db:"version"`
}

// DocumentID is derived from the aggregate id so that rebuilds reproduce it.
func DocumentID(aggregateID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("bank-account:"+aggregateID)).String()
}

// FromAccount derives a fresh document from the authoritative aggregate.
func FromAccount(acc *account.BankAccount) BankAccountDocument {
	return BankAccountDocument{
		ID:          DocumentID(acc.GetID()),
		AggregateID: acc.GetID(),
		Email:       acc.Email,
		Balance:     acc.Balance,
		Currency:    string(acc.Currency),
		Version:     acc.GetVersion(),
	}
}

// Page is one page of documents ordered by aggregate id.
type Page struct {
	Page       int                   `json:"page"`
	Size       int                   `json:"size"`
	TotalCount int                   `json:"total_count"`
	TotalPages int                   `json:"total_pages"`
	HasMore    bool                  `json:"has_more"`
	List       []BankAccountDocument `json:"list"`
}

// NewPage fills the paging totals; page is zero based.
func NewPage(list []BankAccountDocument, page, size, total int) *Page {
	totalPages := 0
	if size > 0 {
		totalPages = (total + size - 1) / size
	}
	if list == nil {
		list = []BankAccountDocument{}
	}
	return &Page{
		Page:       page,
		Size:       size,
		TotalCount: total,
		TotalPages: totalPages,
		HasMore:    page+1 < totalPages,
		List:       list,
	}
}
