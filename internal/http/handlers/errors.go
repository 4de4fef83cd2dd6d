// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are stable, lowercase snake_case strings returned in the `code` field
// of ErrorResponse. Generic codes mirror HTTP status semantics; domain codes
// name the business rule that rejected the request so clients (the staff app)
// can branch on them. A denied send uses the guardrail reason itself as the
// code.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "outside_window",
//	  "message": "send denied: outside_window"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeInvalidSignature     = "invalid_signature"
	ErrCodeInvalidCredentials   = "invalid_credentials"
	ErrCodeChannelNotConfigured = "channel_not_configured"
	ErrCodeDeliveryFailed       = "delivery_failed"
	ErrCodeInvalidTransition    = "invalid_transition"
	ErrCodeCycleInProgress      = "cycle_in_progress"
	ErrCodeGenerationFailed     = "generation_failed"
	ErrCodeListFailed           = "list_failed"
	ErrCodeCreateFailed         = "create_failed"
)
