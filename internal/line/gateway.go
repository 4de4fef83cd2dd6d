// Package line adapts the LINE Messaging API to the CRM. It exposes a small
// Gateway interface (push, reply, profile lookup) used by the services, an
// SDK-backed implementation, webhook signature verification and decoding of
// webhook payloads into transport-neutral events.
package line

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a gateway cannot be built for a channel.
var ErrNotConfigured = errors.New("line channel not configured")

// Profile is the subset of a LINE user profile the CRM stores.
type Profile struct {
	UserID      string
	DisplayName string
	PictureURL  string
}

// PushResult carries the raw provider response for audit logging.
type PushResult struct {
	Response string
}

// Gateway is the outbound side of one LINE channel.
type Gateway interface {
	// PushText sends a text message to a LINE user. retryKey makes the push
	// idempotent on the provider side; pass a fresh UUID per logical send.
	PushText(ctx context.Context, to, text, retryKey string) (*PushResult, error)
	// ReplyText answers a webhook event using its reply token.
	ReplyText(ctx context.Context, replyToken, text string) error
	// GetProfile fetches the display profile of a LINE user.
	GetProfile(ctx context.Context, userID string) (*Profile, error)
}

// Credentials identify a channel for building a Gateway.
type Credentials struct {
	ChannelID   string
	AccessToken string
}

// Factory builds gateways for channels.
type Factory interface {
	ForChannel(c Credentials) (Gateway, error)
}
