// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the shared response helpers: the ErrorResponse envelope,
// fail/ok/noContent, and failErr, which turns a classified service error into
// its HTTP status. Handlers never inspect storage errors themselves.
//
// Example error response:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "not_found",
//	  "message": "item not found"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-todo-backend/internal/http/middleware"
	"github.com/tbourn/go-todo-backend/internal/services"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"item not found"`
}

// fail aborts the request with a structured error. 5xx responses are logged
// through the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail is the exported variant of fail() for router-level fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failErr maps a classified service error onto a response:
//
//	ErrItemNotFound   -> 404 not_found
//	ErrInvalidRequest -> 400 bad_request
//	anything else     -> 500 internal_error (generic message)
//
// For 500s the underlying cause is logged, never returned.
func failErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrItemNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, msgItemNotFound)
	case errors.Is(err, services.ErrInvalidRequest):
		var ir *services.InvalidRequestError
		msg := msgInvalidBody
		if errors.As(err, &ir) && ir.Reason != "" {
			msg = ir.Reason
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, msg)
	default:
		cause := errors.Unwrap(err)
		if cause == nil {
			cause = err
		}
		ev := middleware.LoggerFrom(c).Error().Err(cause)
		var be *services.BackendError
		if errors.As(err, &be) {
			ev = ev.Str("op", be.Op)
		}
		ev.Msg("backend failure")
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, msgInternalFailure)
	}
}

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
