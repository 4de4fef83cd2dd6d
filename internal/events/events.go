// Package events publishes CRM domain events (todo created, customer
// registered) to RabbitMQ so downstream consumers can notify staff or feed
// analytics without polling the database. Publishing is best-effort: callers
// log failures and carry on.
package events

import (
	"context"
	"time"
)

// Routing keys.
const (
	TodoCreated        = "todo.created"
	CustomerRegistered = "customer.registered"
)

// TodoCreatedEvent is published for every todo the generation engine creates.
type TodoCreatedEvent struct {
	TodoID     string    `json:"todo_id"`
	StoreID    string    `json:"store_id"`
	CustomerID string    `json:"customer_id"`
	CastID     string    `json:"cast_id"`
	Type       string    `json:"type"`
	DueDate    time.Time `json:"due_date"`
}

// CustomerRegisteredEvent is published after a registration code redemption
// commits.
type CustomerRegisteredEvent struct {
	StoreID    string    `json:"store_id"`
	CustomerID string    `json:"customer_id"`
	CastID     string    `json:"cast_id"`
	Code       string    `json:"code"`
	Created    bool      `json:"created"` // false when an existing customer was re-linked
	At         time.Time `json:"at"`
}

// Publisher sends an event under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// Noop discards events. It is used when no broker is configured.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, string, any) error { return nil }

// Close implements Publisher.
func (Noop) Close() error { return nil }
