package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/bank-event-sourcing/internal/auth"
	"github.com/example/bank-event-sourcing/internal/command"
	"github.com/example/bank-event-sourcing/internal/domain/account"
	"github.com/example/bank-event-sourcing/internal/domain/aggregate"
	"github.com/example/bank-event-sourcing/internal/infrastructure/store"
	"github.com/example/bank-event-sourcing/internal/infrastructure/store/mocks"
	"github.com/example/bank-event-sourcing/internal/logger"
	"github.com/example/bank-event-sourcing/internal/metrics"
	"github.com/example/bank-event-sourcing/internal/query"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router     *gin.Engine
	aggregates *mocks.MockAggregateStore
	readStore  *mocks.MockReadStore
}

func newTestServer(cfg RouterConfig) *testServer {
	aggregates := mocks.NewMockAggregateStore(
		account.NewSerializer(),
		aggregate.Factories{account.AggregateType: account.NewAggregate},
	)
	readStore := mocks.NewMockReadStore()
	handlers := NewHandlers(
		command.NewHandler(aggregates, command.WithMaxAttempts(1)),
		query.NewHandler(readStore, aggregates, logger.NewNop()),
	)
	return &testServer{router: NewRouter(handlers, cfg), aggregates: aggregates, readStore: readStore}
}

func (ts *testServer) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, _ := json.Marshal(b)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) createAccount(t *testing.T) string {
	t.Helper()
	rec := ts.do(http.MethodPost, "/api/v1/bank/account", gin.H{"email": "alice@example.com", "balance": "100.00", "currency": "USD"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)
	return resp.ID
}

func decodeAccount(t *testing.T, rec *httptest.ResponseRecorder) accountResponse {
	t.Helper()
	var resp accountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error.Code
}

// ============================================
// Command Route Tests
// ============================================

func TestCreateAccount_Success(t *testing.T) {
	ts := newTestServer(RouterConfig{})
	id := ts.createAccount(t)

	rec := ts.do(http.MethodGet, "/api/v1/bank/account/"+id+"?store=true", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeAccount(t, rec)
	assert.Equal(t, id, resp.AggregateID)
	assert.Equal(t, "alice@example.com", resp.Email)
	assert.Equal(t, "100", resp.Balance.String())
	assert.Equal(t, "USD", resp.Currency)
	assert.Equal(t, 1, resp.Version)
}

func TestCreateAccount_Validation(t *testing.T) {
	tests := []struct {
		name string
		body any
		code string
	}{
		{"malformed json", `{"email":`, "invalid_request"},
		{"missing email", gin.H{"balance": "1"}, "invalid_request"},
		{"email too short", gin.H{"email": "a@b.c", "balance": "1"}, "invalid_request"},
		{"not an email", gin.H{"email": "not-an-email", "balance": "1"}, "invalid_request"},
		{"negative balance", gin.H{"email": "alice@example.com", "balance": "-0.01"}, "invalid_request"},
		{"unknown currency", gin.H{"email": "alice@example.com", "balance": "1", "currency": "GBP"}, "validation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(RouterConfig{})

			rec := ts.do(http.MethodPost, "/api/v1/bank/account", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, errorCode(t, rec))
			assert.Equal(t, 0, ts.aggregates.SaveCalls)
		})
	}
}

func TestCreateAccount_PublishFailure(t *testing.T) {
	ts := newTestServer(RouterConfig{})
	ts.aggregates.Bus.PublishErr = errors.New("broker down")

	rec := ts.do(http.MethodPost, "/api/v1/bank/account", gin.H{"email": "alice@example.com", "balance": "1"})

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", errorCode(t, rec))
}

func TestDepositBalance_Success(t *testing.T) {
	ts := newTestServer(RouterConfig{})
	id := ts.createAccount(t)

	rec := ts.do(http.MethodPost, "/api/v1/bank/deposit/"+id, gin.H{"amount": 25.5})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodGet, "/api/v1/bank/account/"+id+"?store=true", nil)
	resp := decodeAccount(t, rec)
	assert.Equal(t, "125.5", resp.Balance.String())
	assert.Equal(t, 2, resp.Version)
}

func TestDepositBalance_NonPositiveAmount(t *testing.T) {
	ts := newTestServer(RouterConfig{})
	id := ts.createAccount(t)

	for _, amount := range []string{"0", "-5"} {
		rec := ts.do(http.MethodPost, "/api/v1/bank/deposit/"+id, gin.H{"amount": amount})
		assert.Equal(t, http.StatusBadRequest, rec.Code, amount)
	}
	assert.Equal(t, 1, ts.aggregates.SaveCalls)
}

func TestDepositBalance_UnknownAccount(t *testing.T) {
	ts := newTestServer(RouterConfig{})

	rec := ts.do(http.MethodPost, "/api/v1/bank/deposit/missing", gin.H{"amount": "1"})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorCode(t, rec))
}

func TestDepositBalance_Conflict(t *testing.T) {
	ts := newTestServer(RouterConfig{})
	id := ts.createAccount(t)
	ts.aggregates.SaveErrs = []error{store.ErrConcurrency}

	rec := ts.do(http.MethodPost, "/api/v1/bank/deposit/"+id, gin.H{"amount": "1"})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", errorCode(t, rec))
}

func TestDepositBalance_InternalErrorIsMasked(t *testing.T) {
	ts := newTestServer(RouterConfig{})
	id := ts.createAccount(t)
	ts.aggregates.SaveErrs = []error{errors.New("disk on fire")}

	rec := ts.do(http.MethodPost, "/api/v1/bank/deposit/"+id, gin.H{"amount": "1"})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk on fire")
}

func TestChangeEmail_Success(t *testing.T) {
	ts := newTestServer(RouterConfig{})
	id := ts.createAccount(t)

	rec := ts.do(http.MethodPost, "/api/v1/bank/email/"+id, gin.H{"newEmail": "bob@example.com"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodGet, "/api/v1/bank/account/"+id+"?store=true", nil)
	assert.Equal(t, "bob@example.com", decodeAccount(t, rec).Email)
}

func TestChangeEmail_Invalid(t *testing.T) {
	ts := newTestServer(RouterConfig{})
	id := ts.createAccount(t)

	rec := ts.do(http.MethodPost, "/api/v1/bank/email/"+id, gin.H{"newEmail": "nope"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ============================================
// Query Route Tests
// ============================================

func TestGetAccount_ReadModelMissFallsBackToStore(t *testing.T) {
	ts := newTestServer(RouterConfig{})
	id := ts.createAccount(t)

	rec := ts.do(http.MethodGet, "/api/v1/bank/account/"+id, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decodeAccount(t, rec).AggregateID)
	assert.NotNil(t, ts.readStore.Document(id))
}

func TestGetAccount_NotFound(t *testing.T) {
	ts := newTestServer(RouterConfig{})

	rec := ts.do(http.MethodGet, "/api/v1/bank/account/missing", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetAccount_BadStoreFlag(t *testing.T) {
	ts := newTestServer(RouterConfig{})

	rec := ts.do(http.MethodGet, "/api/v1/bank/account/x?store=maybe", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAccounts_Paging(t *testing.T) {
	ts := newTestServer(RouterConfig{})
	for i := 0; i < 3; i++ {
		id := ts.createAccount(t)
		require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/v1/bank/account/"+id, nil).Code)
	}

	rec := ts.do(http.MethodGet, "/api/v1/bank/account?page=0&size=2", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp pageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Page)
	assert.Equal(t, 2, resp.Size)
	assert.Equal(t, 3, resp.TotalCount)
	assert.Equal(t, 2, resp.TotalPages)
	assert.True(t, resp.HasMore)
	assert.Len(t, resp.List, 2)
	assert.Contains(t, rec.Body.String(), `"totalCount":3`)
}

func TestGetAccounts_BadPage(t *testing.T) {
	ts := newTestServer(RouterConfig{})

	rec := ts.do(http.MethodGet, "/api/v1/bank/account?page=abc", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ============================================
// Auth, Metadata and Ops Tests
// ============================================

func TestRouter_JWTGuardsCommands(t *testing.T) {
	jwtService := auth.NewJWTService("test-secret-key", time.Minute)
	ts := newTestServer(RouterConfig{JWT: jwtService})

	rec := ts.do(http.MethodPost, "/api/v1/bank/account", gin.H{"email": "alice@example.com", "balance": "1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/bank/account", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_StampsEventMetadata(t *testing.T) {
	jwtService := auth.NewJWTService("test-secret-key", time.Minute)
	ts := newTestServer(RouterConfig{JWT: jwtService})
	token, _, err := jwtService.GenerateToken("teller-7", "teller")
	require.NoError(t, err)

	rec := ts.do(http.MethodPost, "/api/v1/bank/account",
		gin.H{"email": "alice@example.com", "balance": "1"},
		"Authorization", "Bearer "+token, "X-Request-ID", "req-99")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	published := ts.aggregates.Bus.Published()
	require.Len(t, published, 1)
	var md store.Metadata
	require.NoError(t, json.Unmarshal(published[0].Metadata, &md))
	assert.Equal(t, store.Metadata{RequestID: "req-99", UserID: "teller-7"}, md)
}

func TestRouter_Healthz(t *testing.T) {
	ts := newTestServer(RouterConfig{})
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/healthz", nil).Code)

	ts = newTestServer(RouterConfig{Ready: func(context.Context) error { return errors.New("db down") }})
	assert.Equal(t, http.StatusServiceUnavailable, ts.do(http.MethodGet, "/healthz", nil).Code)
}

func TestRouter_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	ts := newTestServer(RouterConfig{Metrics: metrics.New(reg), Gatherer: reg})
	ts.createAccount(t)

	rec := ts.do(http.MethodGet, "/metrics", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bank_http_request_duration_seconds")
}

func TestRouter_MetricsDisabledWithoutGatherer(t *testing.T) {
	ts := newTestServer(RouterConfig{Logger: logger.NewNop()})

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/metrics", nil).Code)
}
