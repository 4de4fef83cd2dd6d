// Package handlers provides HTTP handler implementations for the public API.
//
// Every error leaves through fail (or failDenied for guardrail refusals) so
// clients always receive ErrorResponse with a stable code. Service sentinels
// are mapped to statuses in failService and nowhere else.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/nightlife-crm/internal/http/middleware"
	"github.com/tbourn/nightlife-crm/internal/services"
)

// ErrorResponse is the error envelope of every endpoint.
type ErrorResponse struct {
	// Echo of X-Request-ID
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go)
	Code string `json:"code" example:"not_found"`
	// Safe to show to staff
	Message string `json:"message" example:"resource not found"`
}

// fail aborts with an ErrorResponse. 5xx responses are logged with the
// request-scoped logger, which carries the store and user when known.
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

// Fail lets the router answer NoRoute/NoMethod in the same envelope.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// failService maps a service error to its HTTP status and code. Unknown
// errors become 500 internal_error.
func failService(c *gin.Context, err error) {
	var denied *services.DeniedError
	switch {
	case errors.As(err, &denied):
		failDenied(c, denied)
	case errors.Is(err, services.ErrForbidden):
		fail(c, http.StatusForbidden, ErrCodeForbidden, err.Error())
	case errors.Is(err, services.ErrInvalidCredentials):
		fail(c, http.StatusUnauthorized, ErrCodeInvalidCredentials, "invalid email or password")
	case errors.Is(err, services.ErrInvalidToken):
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, err.Error())
	case errors.Is(err, services.ErrStoreNotFound),
		errors.Is(err, services.ErrCustomerNotFound),
		errors.Is(err, services.ErrTemplateNotFound),
		errors.Is(err, services.ErrTodoNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrEmptyMessage),
		errors.Is(err, services.ErrTooLong),
		errors.Is(err, services.ErrInvalidStatus),
		errors.Is(err, services.ErrInvalidExpiry),
		errors.Is(err, services.ErrInvalidVisit),
		errors.Is(err, services.ErrInvalidPayload):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrInvalidTransition):
		fail(c, http.StatusConflict, ErrCodeInvalidTransition, err.Error())
	case errors.Is(err, services.ErrChannelNotConfigured):
		fail(c, http.StatusConflict, ErrCodeChannelNotConfigured, err.Error())
	case errors.Is(err, services.ErrCycleInProgress):
		fail(c, http.StatusConflict, ErrCodeCycleInProgress, err.Error())
	case errors.Is(err, services.ErrDeliveryFailed):
		fail(c, http.StatusBadGateway, ErrCodeDeliveryFailed, err.Error())
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}

// DeniedResponse is returned when the sending guardrail refuses a message.
// Code is the deny reason.
type DeniedResponse struct {
	ErrorResponse
	MessageLogID string `json:"message_log_id,omitempty" example:"0b5e7d4e-2f7b-4d5c-9b7a-3f3c1b0d9e11"`
}

// deniedStatus is 429 for the frequency limit and 422 otherwise.
func deniedStatus(r services.DenyReason) int {
	if r == services.DenyFrequencyLimit {
		return http.StatusTooManyRequests
	}
	return http.StatusUnprocessableEntity
}

func failDenied(c *gin.Context, d *services.DeniedError) {
	c.AbortWithStatusJSON(deniedStatus(d.Reason), DeniedResponse{
		ErrorResponse: ErrorResponse{
			RequestID: c.Writer.Header().Get("X-Request-ID"),
			Code:      string(d.Reason),
			Message:   d.Error(),
		},
		MessageLogID: d.MessageLogID,
	})
}
