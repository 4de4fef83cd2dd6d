// Package services defines the business logic of the CRM: the sending
// guardrails and send workflow, template rendering, todo generation,
// registration code issuance and redemption, inbound webhook handling,
// visits and staff authentication.
//
// This file centralizes service-level error values so that they can be
// returned by service methods and checked by callers with errors.Is.
// Translation into HTTP status codes happens in the handler layer.
package services

import (
	"errors"
	"fmt"
)

// Access errors.
var (
	// ErrForbidden is returned when a cast acts on a customer or todo that is
	// not assigned to them.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidCredentials is returned by Login for unknown users, inactive
	// users and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken is returned when a bearer token cannot be verified.
	ErrInvalidToken = errors.New("invalid token")
)

// Lookup errors.
var (
	ErrStoreNotFound    = errors.New("store not found")
	ErrCustomerNotFound = errors.New("customer not found")
	ErrTemplateNotFound = errors.New("template not found")
	ErrTodoNotFound     = errors.New("todo not found")

	// ErrChannelNotConfigured is returned when a store has no active LINE
	// channel to send through.
	ErrChannelNotConfigured = errors.New("line channel not configured")
)

// Sending errors.
var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrTooLong      = errors.New("message too long")

	// ErrInvalidStoreWindow is returned when a store's sending window cannot
	// be parsed as HH:MM.
	ErrInvalidStoreWindow = errors.New("invalid store sending window")

	// ErrDeliveryFailed wraps a provider error after the attempt was logged.
	ErrDeliveryFailed = errors.New("message delivery failed")
)

// Todo errors.
var (
	ErrInvalidStatus     = errors.New("invalid todo status")
	ErrInvalidTransition = errors.New("todo status transition not allowed")
)

// Generation errors.
var (
	// ErrCycleInProgress is returned when another generation cycle holds the
	// cycle lock.
	ErrCycleInProgress = errors.New("generation cycle already running")

	// ErrAllStoresFailed is returned when every store in a cycle failed.
	ErrAllStoresFailed = errors.New("generation failed for every store")

	// ErrStoreGenerationFailed is returned by RunStore when the store failed.
	ErrStoreGenerationFailed = errors.New("generation failed for store")

	// ErrUnknownRuleType is recorded for rules whose type has no generator.
	ErrUnknownRuleType = errors.New("unknown rule type")
)

// Registration and webhook errors.
var (
	ErrCodeNotFound = errors.New("registration code not found")
	ErrCodeExpired  = errors.New("registration code expired")
	ErrCodeUsed     = errors.New("registration code already used")

	// ErrInvalidExpiry is returned when a requested code expiry is not in
	// the future.
	ErrInvalidExpiry = errors.New("expiry must be in the future")

	// ErrInvalidSignature rejects a webhook payload whose signature does not
	// match; none of its events are processed.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrInvalidPayload is returned for webhook bodies that cannot be decoded.
	ErrInvalidPayload = errors.New("invalid webhook payload")
)

// Visit errors.
var ErrInvalidVisit = errors.New("invalid visit")

// DeniedError reports a send rejected by the sending guardrails. The attempt
// is still recorded as a blocked message log.
type DeniedError struct {
	Reason       DenyReason
	MessageLogID string
}

func (e *DeniedError) Error() string { return fmt.Sprintf("send denied: %s", e.Reason) }
