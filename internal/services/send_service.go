// Package services – SendService
//
// SendService runs the outbound message workflow for staff: it resolves the
// customer within the caller's store, applies the sending guardrails, pushes
// the text through the store's LINE channel and records every attempt
// (allowed or not) as a MessageLog.
//
// Observability: Send and Draft are OpenTelemetry-instrumented and outcomes
// are counted in the domain Prometheus collectors.

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/nightlife-crm/internal/domain"
	"github.com/tbourn/nightlife-crm/internal/line"
	"github.com/tbourn/nightlife-crm/internal/observability"
	"github.com/tbourn/nightlife-crm/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SendInput is one outbound message request. Body may be empty when
// TemplateID is set; the template is then rendered for the customer.
type SendInput struct {
	CustomerID string
	Body       string
	TemplateID *string
	TodoID     *string
}

// SendResult describes a recorded attempt.
type SendResult struct {
	MessageLogID string            `json:"message_log_id"`
	Status       domain.SendStatus `json:"status"`
	Error        string            `json:"error,omitempty"`
}

// SendService coordinates outbound messaging.
type SendService struct {
	DB       *gorm.DB
	Gateways line.Factory
	Metrics  *observability.Metrics
	Log      zerolog.Logger

	// Location formats {lastVisit}; nil means UTC.
	Location *time.Location
	// MaxMessageRunes caps the body length (0 disables the check).
	MaxMessageRunes int
}

// Send delivers in.Body (or the rendered template) to a customer on behalf of
// p. A guardrail denial is recorded and returned as *DeniedError together
// with the result. A provider failure is recorded and returned wrapped in
// ErrDeliveryFailed.
func (s *SendService) Send(ctx context.Context, p domain.Principal, in SendInput, now time.Time) (*SendResult, error) {
	tr := otel.Tracer("services/SendService")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("store.id", p.StoreID),
			attribute.String("user.id", p.UserID),
			attribute.String("customer.id", in.CustomerID),
		),
	)
	defer span.End()

	c, err := s.customerFor(ctx, p, in.CustomerID)
	if err != nil {
		return nil, err
	}
	st, err := repo.GetStore(ctx, s.DB, p.StoreID)
	if err != nil {
		return nil, err
	}

	body := strings.TrimSpace(in.Body)
	if body == "" && in.TemplateID != nil {
		if body, err = s.render(ctx, p, st, c, *in.TemplateID); err != nil {
			return nil, err
		}
	}
	if body == "" {
		return nil, ErrEmptyMessage
	}
	if s.MaxMessageRunes > 0 && utf8.RuneCountInString(body) > s.MaxMessageRunes {
		return nil, ErrTooLong
	}

	entry := &domain.MessageLog{
		ID:         uuid.NewString(),
		StoreID:    st.ID,
		CustomerID: c.ID,
		CastID:     p.UserID,
		TemplateID: in.TemplateID,
		TodoID:     in.TodoID,
		Body:       body,
		SentAt:     now,
	}

	decision, err := AuthorizeSend(st, c, now)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		reason := string(decision.Reason)
		entry.Status = domain.SendBlocked
		entry.DenyReason = &reason
		if err := repo.CreateMessageLog(ctx, s.DB, entry); err != nil {
			return nil, err
		}
		s.Metrics.Denied(reason)
		s.Metrics.Sent(string(domain.SendBlocked))
		span.SetAttributes(attribute.String("deny.reason", reason))
		return &SendResult{MessageLogID: entry.ID, Status: entry.Status, Error: reason},
			&DeniedError{Reason: decision.Reason, MessageLogID: entry.ID}
	}

	ch, err := repo.GetActiveLineChannel(ctx, s.DB, st.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrChannelNotConfigured
		}
		return nil, err
	}
	gw, err := s.Gateways.ForChannel(line.Credentials{ChannelID: ch.ID, AccessToken: ch.ChannelAccessToken})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChannelNotConfigured, err)
	}

	res, pushErr := gw.PushText(ctx, c.LineUserID, body, entry.ID)
	entry.APIResponse = apiResponse(res, pushErr)
	if pushErr != nil {
		entry.Status = domain.SendFailed
	} else {
		entry.Status = domain.SendSuccess
	}
	if err := repo.CreateMessageLog(ctx, s.DB, entry); err != nil {
		return nil, err
	}
	s.Metrics.Sent(string(entry.Status))

	if pushErr != nil {
		span.RecordError(pushErr)
		s.Log.Warn().Err(pushErr).Str("customer_id", c.ID).Str("message_log_id", entry.ID).Msg("LINE push failed")
		return &SendResult{MessageLogID: entry.ID, Status: entry.Status, Error: pushErr.Error()},
			fmt.Errorf("%w: %v", ErrDeliveryFailed, pushErr)
	}

	if err := repo.TouchLastMessageSent(ctx, s.DB, c.ID, now); err != nil {
		s.Log.Error().Err(err).Str("customer_id", c.ID).Msg("update last_message_sent_at")
	}
	if in.TodoID != nil {
		s.completeTodo(ctx, p.StoreID, c.ID, *in.TodoID, now)
	}
	return &SendResult{MessageLogID: entry.ID, Status: entry.Status}, nil
}

// Draft renders a template for a customer without sending it.
func (s *SendService) Draft(ctx context.Context, p domain.Principal, customerID, templateID string) (string, error) {
	tr := otel.Tracer("services/SendService")
	ctx, span := tr.Start(ctx, "Draft",
		trace.WithAttributes(
			attribute.String("customer.id", customerID),
			attribute.String("template.id", templateID),
		),
	)
	defer span.End()

	c, err := s.customerFor(ctx, p, customerID)
	if err != nil {
		return "", err
	}
	st, err := repo.GetStore(ctx, s.DB, p.StoreID)
	if err != nil {
		return "", err
	}
	return s.render(ctx, p, st, c, templateID)
}

// customerFor loads a customer visible to p: managers see the whole store,
// casts only their assigned customers.
func (s *SendService) customerFor(ctx context.Context, p domain.Principal, customerID string) (*domain.Customer, error) {
	c, err := repo.GetCustomer(ctx, s.DB, p.StoreID, customerID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	if !p.IsManager() && (c.AssignedCastID == nil || *c.AssignedCastID != p.UserID) {
		return nil, ErrForbidden
	}
	return c, nil
}

func (s *SendService) render(ctx context.Context, p domain.Principal, st *domain.Store, c *domain.Customer, templateID string) (string, error) {
	tpl, err := repo.GetTemplate(ctx, s.DB, st.ID, templateID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", ErrTemplateNotFound
		}
		return "", err
	}
	if tpl.Scope == domain.ScopeCast && (tpl.OwnerCastID == nil || *tpl.OwnerCastID != p.UserID) {
		return "", ErrTemplateNotFound
	}
	return RenderTemplate(tpl.Body, s.varsFor(ctx, st, c)), nil
}

func (s *SendService) varsFor(ctx context.Context, st *domain.Store, c *domain.Customer) TemplateVars {
	vars := TemplateVars{PlaceholderStoreName: st.Name}
	switch {
	case c.CallName != nil && *c.CallName != "":
		vars[PlaceholderCallName] = *c.CallName
	case c.LineDisplayName != nil:
		vars[PlaceholderCallName] = *c.LineDisplayName
	}
	if c.AssignedCastID != nil {
		if cast, err := repo.GetUser(ctx, s.DB, st.ID, *c.AssignedCastID); err == nil {
			vars[PlaceholderCastName] = cast.DisplayName
		}
	}
	if c.LastVisitAt != nil {
		loc := s.Location
		if loc == nil {
			loc = time.UTC
		}
		vars[PlaceholderLastVisit] = c.LastVisitAt.In(loc).Format("2006-01-02")
	}
	return vars
}

// completeTodo closes the todo a successful send answered. Failures are only
// logged; the message already went out.
func (s *SendService) completeTodo(ctx context.Context, storeID, customerID, todoID string, now time.Time) {
	t, err := repo.GetTodo(ctx, s.DB, storeID, todoID)
	if err != nil {
		s.Log.Warn().Err(err).Str("todo_id", todoID).Msg("load todo for completion")
		return
	}
	if t.CustomerID != customerID || t.Status.Terminal() {
		return
	}
	if _, err := repo.TransitionTodo(ctx, s.DB, t.ID, t.Status, domain.TodoCompleted, now); err != nil {
		s.Log.Warn().Err(err).Str("todo_id", todoID).Msg("complete todo")
	}
}

func apiResponse(res *line.PushResult, err error) string {
	out := map[string]string{}
	if res != nil && res.Response != "" {
		out["response"] = res.Response
	}
	if err != nil {
		out["error"] = err.Error()
	}
	b, _ := json.Marshal(out)
	return string(b)
}
