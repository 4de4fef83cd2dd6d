// Package services – InboundService
//
// InboundService processes LINE webhook payloads for a store: it verifies the
// payload signature, drops redelivered events, redeems registration codes
// sent by guests, tracks follow/unfollow state and stores every other message
// for staff to read.
//
// A redemption is a small state machine over the code row:
//
//	unknown code       -> treated as an ordinary message
//	expired / used     -> denied; nothing changes, nothing is stored
//	valid              -> customer upserted and code consumed in one
//	                      transaction, then a confirmation reply
//
// The consume step is conditional on the code still being unused, so two
// guests racing for one code cannot both win.

package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/width"
	"gorm.io/gorm"

	"github.com/tbourn/nightlife-crm/internal/cache"
	"github.com/tbourn/nightlife-crm/internal/domain"
	"github.com/tbourn/nightlife-crm/internal/events"
	"github.com/tbourn/nightlife-crm/internal/line"
	"github.com/tbourn/nightlife-crm/internal/observability"
	"github.com/tbourn/nightlife-crm/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultCastName is used in the registration reply when the cast cannot be
// resolved.
const DefaultCastName = "スタッフ"

// DefaultRegistrationReply is the confirmation sent after a redemption.
const DefaultRegistrationReply = "ご登録ありがとうございます！担当: {castName}"

var codePattern = regexp.MustCompile(`^[A-Z0-9]{4,6}$`)

// NormalizeCode folds full-width characters, trims and upper-cases text and
// reports whether the result looks like a registration code.
func NormalizeCode(text string) (string, bool) {
	s := strings.ToUpper(width.Fold.String(strings.TrimSpace(text)))
	if !codePattern.MatchString(s) {
		return "", false
	}
	return s, true
}

// RedeemOutcome is the result of one redemption attempt.
type RedeemOutcome string

const (
	RedeemOK       RedeemOutcome = "redeemed"
	RedeemNotFound RedeemOutcome = "not_found"
	RedeemExpired  RedeemOutcome = "expired"
	RedeemUsed     RedeemOutcome = "used"
	RedeemFailed   RedeemOutcome = "failed"
)

// InboundReport counts what one webhook payload did.
type InboundReport struct {
	StoreID    string `json:"store_id"`
	Processed  int    `json:"processed"`
	Redeemed   int    `json:"redeemed"`
	Denied     int    `json:"denied"`
	Stored     int    `json:"stored"`
	Ignored    int    `json:"ignored"`
	Duplicates int    `json:"duplicates"`
	Failed     int    `json:"failed"`
}

// InboundService handles LINE webhooks.
type InboundService struct {
	DB       *gorm.DB
	Gateways line.Factory
	Dedupe   cache.Deduper
	Events   events.Publisher
	Metrics  *observability.Metrics
	Log      zerolog.Logger

	DedupeTTL time.Duration
	// ReplyTemplate may contain {castName}; empty means DefaultRegistrationReply.
	ReplyTemplate string
	// AutoCreateCustomers creates an unassigned customer for unknown senders
	// of ordinary messages.
	AutoCreateCustomers bool
}

// HandleWebhook routes a raw payload to its store by destination, verifies
// the signature against that store's channel secret and processes every
// event. An unknown destination yields ErrChannelNotConfigured; a signature
// mismatch yields ErrInvalidSignature and no event is touched. Per-event
// failures are logged and counted, never returned.
func (s *InboundService) HandleWebhook(ctx context.Context, body []byte, signature string, now time.Time) (*InboundReport, error) {
	tr := otel.Tracer("services/InboundService")
	ctx, span := tr.Start(ctx, "HandleWebhook")
	defer span.End()

	dest, err := line.ParseDestination(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	ch, err := repo.GetLineChannelByBotUserID(ctx, s.DB, dest)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrChannelNotConfigured
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("store.id", ch.StoreID))

	if !line.VerifySignature(ch.ChannelSecret, body, signature) {
		return nil, ErrInvalidSignature
	}

	cb, err := line.ParseCallback(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	st, err := repo.GetStore(ctx, s.DB, ch.StoreID)
	if err != nil {
		return nil, err
	}
	gw, err := s.Gateways.ForChannel(line.Credentials{ChannelID: ch.ID, AccessToken: ch.ChannelAccessToken})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChannelNotConfigured, err)
	}

	rep := &InboundReport{StoreID: st.ID}
	for _, ev := range cb.Events {
		s.HandleEvent(ctx, st, gw, ev, now, rep)
	}
	span.SetAttributes(attribute.Int("events", len(cb.Events)), attribute.Int("redeemed", rep.Redeemed))
	return rep, nil
}

// HandleEvent processes one event and records the result in rep.
func (s *InboundService) HandleEvent(ctx context.Context, st *domain.Store, gw line.Gateway, ev line.Event, now time.Time, rep *InboundReport) {
	log := s.Log.With().Str("store_id", st.ID).Str("event_id", ev.ID).Str("event_type", string(ev.Type)).Logger()
	s.Metrics.Webhook(string(ev.Type))

	if ev.ID != "" && s.Dedupe != nil {
		first, err := s.Dedupe.FirstSeen(ctx, "webhook:"+st.ID+":"+ev.ID, s.dedupeTTL())
		if err != nil {
			log.Warn().Err(err).Msg("webhook dedupe unavailable")
		} else if !first {
			rep.Duplicates++
			log.Debug().Msg("duplicate event dropped")
			return
		}
	}
	if ev.UserID == "" {
		rep.Ignored++
		log.Debug().Msg("event without user source ignored")
		return
	}
	rep.Processed++

	var err error
	switch ev.Type {
	case line.EventMessage:
		err = s.handleMessage(ctx, st, gw, ev, now, rep)
	case line.EventFollow:
		err = s.setStatus(ctx, st, ev, domain.StatusActive, rep)
	case line.EventUnfollow:
		err = s.setStatus(ctx, st, ev, domain.StatusUnfollowed, rep)
	default:
		rep.Ignored++
		log.Debug().Str("raw_type", ev.RawType).Msg("event ignored")
	}
	if err != nil {
		rep.Failed++
		log.Error().Err(err).Msg("handle webhook event")
	}
}

func (s *InboundService) handleMessage(ctx context.Context, st *domain.Store, gw line.Gateway, ev line.Event, now time.Time, rep *InboundReport) error {
	if ev.MessageType == line.MessageText {
		if code, ok := NormalizeCode(ev.Text); ok {
			outcome, err := s.Redeem(ctx, st, gw, ev, code, now)
			s.Metrics.Redemption(string(outcome))
			switch outcome {
			case RedeemOK:
				rep.Redeemed++
				return nil
			case RedeemExpired, RedeemUsed:
				rep.Denied++
				return nil
			case RedeemFailed:
				return err
			}
			// Not a known code: keep it as an ordinary message.
		}
	}
	return s.storeMessage(ctx, st, gw, ev, now, rep)
}

// Redeem attempts to redeem code for the event's sender.
func (s *InboundService) Redeem(ctx context.Context, st *domain.Store, gw line.Gateway, ev line.Event, code string, now time.Time) (RedeemOutcome, error) {
	tr := otel.Tracer("services/InboundService")
	ctx, span := tr.Start(ctx, "Redeem",
		trace.WithAttributes(
			attribute.String("store.id", st.ID),
			attribute.String("code", code),
		),
	)
	defer span.End()

	log := s.Log.With().Str("store_id", st.ID).Str("code", code).Logger()

	rc, err := repo.FindCodeForRedemption(ctx, s.DB, st.ID, code)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return RedeemNotFound, nil
	case err != nil:
		return RedeemFailed, err
	}
	if rc.Used() {
		log.Info().Msg("registration code already used")
		return RedeemUsed, nil
	}
	if rc.Expired(now) {
		log.Info().Time("expires_at", rc.ExpiresAt).Msg("registration code expired")
		return RedeemExpired, nil
	}

	var displayName *string
	if p, perr := gw.GetProfile(ctx, ev.UserID); perr != nil {
		log.Warn().Err(perr).Msg("fetch LINE profile")
	} else if p.DisplayName != "" {
		displayName = &p.DisplayName
	}

	var (
		customerID string
		created    bool
	)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := repo.FindCustomerByLineUser(ctx, tx, st.ID, ev.UserID)
		switch {
		case err == nil:
			if err := repo.AssignCustomerCast(ctx, tx, c.ID, rc.CastID); err != nil {
				return err
			}
		case errors.Is(err, repo.ErrNotFound):
			castID := rc.CastID
			c = &domain.Customer{
				StoreID:         st.ID,
				LineUserID:      ev.UserID,
				LineDisplayName: displayName,
				AssignedCastID:  &castID,
				MessagingStatus: domain.StatusActive,
			}
			if err := repo.CreateCustomer(ctx, tx, c); err != nil {
				return err
			}
			created = true
		default:
			return err
		}

		ok, err := repo.ConsumeCode(ctx, tx, rc.ID, c.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrCodeUsed
		}
		customerID = c.ID
		return nil
	})
	if errors.Is(err, ErrCodeUsed) {
		log.Info().Msg("registration code consumed concurrently")
		return RedeemUsed, nil
	}
	if err != nil {
		span.RecordError(err)
		return RedeemFailed, err
	}

	castName := DefaultCastName
	if cast, err := repo.GetUser(ctx, s.DB, st.ID, rc.CastID); err == nil && cast.DisplayName != "" {
		castName = cast.DisplayName
	}
	if ev.ReplyToken != "" {
		reply := RenderTemplate(s.replyTemplate(), TemplateVars{PlaceholderCastName: castName, PlaceholderStoreName: st.Name})
		if err := gw.ReplyText(ctx, ev.ReplyToken, reply); err != nil {
			log.Warn().Err(err).Msg("send registration reply")
		}
	}

	if s.Events != nil {
		reg := events.CustomerRegisteredEvent{
			StoreID: st.ID, CustomerID: customerID, CastID: rc.CastID,
			Code: code, Created: created, At: now,
		}
		if err := s.Events.Publish(ctx, events.CustomerRegistered, reg); err != nil {
			log.Warn().Err(err).Msg("publish customer.registered")
		}
	}

	log.Info().Str("customer_id", customerID).Bool("created", created).Msg("registration code redeemed")
	return RedeemOK, nil
}

func (s *InboundService) storeMessage(ctx context.Context, st *domain.Store, gw line.Gateway, ev line.Event, now time.Time, rep *InboundReport) error {
	var customerID *string
	c, err := repo.FindCustomerByLineUser(ctx, s.DB, st.ID, ev.UserID)
	switch {
	case err == nil:
		customerID = &c.ID
	case errors.Is(err, repo.ErrNotFound):
		if s.AutoCreateCustomers {
			nc, err := s.createUnassigned(ctx, st, gw, ev.UserID)
			if err != nil {
				return err
			}
			customerID = &nc.ID
		}
	default:
		return err
	}

	msg := &domain.InboundMessage{
		StoreID:     st.ID,
		CustomerID:  customerID,
		LineUserID:  ev.UserID,
		MessageType: ev.MessageType,
		ReceivedAt:  now,
	}
	if ev.MessageType == line.MessageText {
		text := ev.Text
		msg.Body = &text
	}
	if !ev.Timestamp.IsZero() {
		msg.ReceivedAt = ev.Timestamp
	}
	if err := repo.CreateInboundMessage(ctx, s.DB, msg); err != nil {
		return err
	}
	rep.Stored++
	return nil
}

func (s *InboundService) createUnassigned(ctx context.Context, st *domain.Store, gw line.Gateway, userID string) (*domain.Customer, error) {
	c := &domain.Customer{StoreID: st.ID, LineUserID: userID, MessagingStatus: domain.StatusActive}
	if p, err := gw.GetProfile(ctx, userID); err == nil && p.DisplayName != "" {
		c.LineDisplayName = &p.DisplayName
	}
	err := repo.CreateCustomer(ctx, s.DB, c)
	if errors.Is(err, repo.ErrDuplicate) {
		return repo.FindCustomerByLineUser(ctx, s.DB, st.ID, userID)
	}
	return c, err
}

func (s *InboundService) setStatus(ctx context.Context, st *domain.Store, ev line.Event, status domain.MessagingStatus, rep *InboundReport) error {
	ok, err := repo.SetCustomerStatusByLineUser(ctx, s.DB, st.ID, ev.UserID, status)
	if err != nil {
		return err
	}
	if !ok {
		rep.Ignored++
		s.Log.Debug().Str("store_id", st.ID).Str("status", string(status)).Msg("status change for unknown customer")
	}
	return nil
}

func (s *InboundService) dedupeTTL() time.Duration {
	if s.DedupeTTL <= 0 {
		return 24 * time.Hour
	}
	return s.DedupeTTL
}

func (s *InboundService) replyTemplate() string {
	if s.ReplyTemplate == "" {
		return DefaultRegistrationReply
	}
	return s.ReplyTemplate
}
