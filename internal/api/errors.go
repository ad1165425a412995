package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/bank-event-sourcing/internal/domain/aggregate"
	"github.com/example/bank-event-sourcing/internal/infrastructure/store"
	"github.com/example/bank-event-sourcing/internal/readmodel"
)

type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, aggregate.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, store.ErrAggregateNotFound), errors.Is(err, readmodel.ErrDocumentNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, store.ErrConcurrency):
		return http.StatusConflict, "conflict"
	case errors.Is(err, store.ErrPublish):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func respondError(c *gin.Context, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	_ = c.Error(err)
	c.JSON(status, errorEnvelope{Error: apiError{Message: msg, Code: code}})
}

func respondBadRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusBadRequest, errorEnvelope{Error: apiError{Message: err.Error(), Code: "invalid_request"}})
}
