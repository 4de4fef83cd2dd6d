package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/nightlife-crm/internal/domain"
)

// DenyReason is the machine-readable cause of a guardrail denial.
type DenyReason string

const (
	DenyBlockedOrUnfollowed DenyReason = "blocked_or_unfollowed"
	DenyOutsideWindow       DenyReason = "outside_window"
	DenyFrequencyLimit      DenyReason = "frequency_limit"
)

// SendDecision is the result of AuthorizeSend. Reason is empty when allowed.
type SendDecision struct {
	Allowed bool
	Reason  DenyReason
}

// Allow is the permitting decision.
func Allow() SendDecision { return SendDecision{Allowed: true} }

// Deny builds a denying decision.
func Deny(r DenyReason) SendDecision { return SendDecision{Reason: r} }

// SendPolicy is a store's parsed sending policy. Window bounds are minutes
// since midnight, both inclusive.
type SendPolicy struct {
	WindowStart    int
	WindowEnd      int
	FrequencyLimit time.Duration
}

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, fmt.Errorf("clock %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("clock %q: bad hour", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock %q: bad minute", s)
	}
	return h*60 + m, nil
}

// PolicyForStore parses a store's window and frequency settings.
func PolicyForStore(s *domain.Store) (SendPolicy, error) {
	start, err := ParseClock(s.AllowedSendingStartTime)
	if err != nil {
		return SendPolicy{}, fmt.Errorf("%w: %v", ErrInvalidStoreWindow, err)
	}
	end, err := ParseClock(s.AllowedSendingEndTime)
	if err != nil {
		return SendPolicy{}, fmt.Errorf("%w: %v", ErrInvalidStoreWindow, err)
	}
	return SendPolicy{
		WindowStart:    start,
		WindowEnd:      end,
		FrequencyLimit: time.Duration(s.MessagingFrequencyLimitHours) * time.Hour,
	}, nil
}

// Authorize applies the policy to a customer at now.
//
// Checks run in order and the first failure wins: messaging status, then the
// daily window (wall-clock minute of now, no timezone conversion, no wrap
// past midnight), then the frequency limit. A customer never messaged before
// always passes the frequency check.
func (p SendPolicy) Authorize(c *domain.Customer, now time.Time) SendDecision {
	if c.MessagingStatus != domain.StatusActive {
		return Deny(DenyBlockedOrUnfollowed)
	}

	minute := now.Hour()*60 + now.Minute()
	if minute < p.WindowStart || minute > p.WindowEnd {
		return Deny(DenyOutsideWindow)
	}

	if c.LastMessageSentAt != nil && now.Sub(*c.LastMessageSentAt) < p.FrequencyLimit {
		return Deny(DenyFrequencyLimit)
	}
	return Allow()
}

// AuthorizeSend decides whether a message may be sent from store to customer
// at now. A denial is a decision, not an error; the error is reserved for a
// store whose window cannot be parsed.
func AuthorizeSend(store *domain.Store, c *domain.Customer, now time.Time) (SendDecision, error) {
	p, err := PolicyForStore(store)
	if err != nil {
		return SendDecision{}, err
	}
	return p.Authorize(c, now), nil
}
