package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/example/bank-event-sourcing/internal/command"
	"github.com/example/bank-event-sourcing/internal/query"
	"github.com/example/bank-event-sourcing/internal/readmodel"
)

type createAccountRequest struct {
	Email    string          `json:"email" binding:"required,min=6,max=60,email"`
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
}

type depositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type changeEmailRequest struct {
	NewEmail string `json:"newEmail" binding:"required,min=6,max=60,email"`
}

type accountResponse struct {
	AggregateID string          `json:"aggregateId"`
	Email       string          `json:"email"`
	Balance     decimal.Decimal `json:"balance"`
	Currency    string          `json:"currency"`
	Version     int             `json:"version"`
}

type pageResponse struct {
	Page       int               `json:"page"`
	Size       int               `json:"size"`
	TotalCount int               `json:"totalCount"`
	TotalPages int               `json:"totalPages"`
	HasMore    bool              `json:"hasMore"`
	List       []accountResponse `json:"list"`
}

func toAccountResponse(doc readmodel.BankAccountDocument) accountResponse {
	return accountResponse{
		AggregateID: doc.AggregateID,
		Email:       doc.Email,
		Balance:     doc.Balance,
		Currency:    doc.Currency,
		Version:     doc.Version,
	}
}

type Handlers struct {
	cmdHandler   *command.Handler
	queryHandler *query.Handler
}

func NewHandlers(cmdHandler *command.Handler, queryHandler *query.Handler) *Handlers {
	return &Handlers{
		cmdHandler:   cmdHandler,
		queryHandler: queryHandler,
	}
}

func (h *Handlers) CreateAccount(c *gin.Context) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	if req.Balance.IsNegative() {
		respondBadRequest(c, errors.New("balance must not be negative"))
		return
	}

	id, err := h.cmdHandler.CreateBankAccount(c.Request.Context(), command.CreateBankAccount{
		Email:    req.Email,
		Balance:  req.Balance,
		Currency: req.Currency,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *Handlers) DepositBalance(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	if !req.Amount.IsPositive() {
		respondBadRequest(c, errors.New("amount must be greater than zero"))
		return
	}

	id := c.Param("id")
	if err := h.cmdHandler.DepositBalance(c.Request.Context(), command.DepositBalance{AggregateID: id, Amount: req.Amount}); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (h *Handlers) ChangeEmail(c *gin.Context) {
	var req changeEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	id := c.Param("id")
	if err := h.cmdHandler.ChangeEmail(c.Request.Context(), command.ChangeEmail{AggregateID: id, NewEmail: req.NewEmail}); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

// GetAccount serves the read model; ?store=true reads the event log instead.
func (h *Handlers) GetAccount(c *gin.Context) {
	fromStore, err := strconv.ParseBool(c.DefaultQuery("store", "false"))
	if err != nil {
		respondBadRequest(c, errors.New("store must be true or false"))
		return
	}

	doc, err := h.queryHandler.GetBankAccountByID(c.Request.Context(), c.Param("id"), fromStore)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAccountResponse(*doc))
}

func (h *Handlers) GetAccounts(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "0"))
	if err != nil {
		respondBadRequest(c, errors.New("page must be a number"))
		return
	}
	size, err := strconv.Atoi(c.DefaultQuery("size", strconv.Itoa(query.DefaultPageSize)))
	if err != nil {
		respondBadRequest(c, errors.New("size must be a number"))
		return
	}

	result, err := h.queryHandler.GetAll(c.Request.Context(), page, size)
	if err != nil {
		respondError(c, err)
		return
	}

	list := make([]accountResponse, 0, len(result.List))
	for _, doc := range result.List {
		list = append(list, toAccountResponse(doc))
	}
	c.JSON(http.StatusOK, pageResponse{
		Page:       result.Page,
		Size:       result.Size,
		TotalCount: result.TotalCount,
		TotalPages: result.TotalPages,
		HasMore:    result.HasMore,
		List:       list,
	})
}
