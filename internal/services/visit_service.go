package services

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tbourn/nightlife-crm/internal/domain"
	"github.com/tbourn/nightlife-crm/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// VisitInput describes a visit to record. A zero OccurredAt means now.
type VisitInput struct {
	OccurredAt     time.Time
	ApproxSpend    *decimal.Decimal
	NominationType *domain.NominationType
	Memo           *string
}

// VisitService records customer visits.
type VisitService struct {
	DB *gorm.DB
}

// Record inserts a visit and advances the customer's last visit in one
// transaction. Casts may only record visits for their own customers.
func (s *VisitService) Record(ctx context.Context, p domain.Principal, customerID string, in VisitInput, now time.Time) (*domain.Visit, error) {
	tr := otel.Tracer("services/VisitService")
	ctx, span := tr.Start(ctx, "Record",
		trace.WithAttributes(attribute.String("customer.id", customerID)),
	)
	defer span.End()

	if in.NominationType != nil && !in.NominationType.Valid() {
		return nil, ErrInvalidVisit
	}
	if in.ApproxSpend != nil && in.ApproxSpend.IsNegative() {
		return nil, ErrInvalidVisit
	}
	at := in.OccurredAt
	if at.IsZero() {
		at = now
	}
	if at.After(now) {
		return nil, ErrInvalidVisit
	}

	var v *domain.Visit
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := repo.GetCustomer(ctx, tx, p.StoreID, customerID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrCustomerNotFound
			}
			return err
		}
		if !p.IsManager() && (c.AssignedCastID == nil || *c.AssignedCastID != p.UserID) {
			return ErrForbidden
		}
		castID := p.UserID
		v = &domain.Visit{
			StoreID:            p.StoreID,
			CustomerID:         c.ID,
			OccurredAt:         at,
			NominationType:     in.NominationType,
			Memo:               in.Memo,
			RegisteredByCastID: &castID,
		}
		if in.ApproxSpend != nil {
			v.ApproxSpend = decimal.NewNullDecimal(*in.ApproxSpend)
		}
		return repo.CreateVisit(ctx, tx, v)
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}
