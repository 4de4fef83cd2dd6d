package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/nightlife-crm/internal/domain"
	"github.com/tbourn/nightlife-crm/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// maxCodeAttempts bounds regeneration on collision with a live code.
const maxCodeAttempts = 8

// GenerateCode returns a random code of n characters from 0-9A-Z.
func GenerateCode(n int) (string, error) {
	base := big.NewInt(int64(len(codeAlphabet)))
	b := make([]byte, n)
	for i := range b {
		k, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", err
		}
		b[i] = codeAlphabet[k.Int64()]
	}
	return string(b), nil
}

// EndOfDay returns 23:59:59 of t's calendar day in t's location.
func EndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}

// RegistrationCodeService issues registration codes to casts.
type RegistrationCodeService struct {
	DB *gorm.DB
	// Length is the code length, 4 to 6.
	Length int
}

// Issue creates a code for the calling cast. A nil expiresAt means the end
// of now's day.
func (s *RegistrationCodeService) Issue(ctx context.Context, p domain.Principal, expiresAt *time.Time, now time.Time) (*domain.RegistrationCode, error) {
	tr := otel.Tracer("services/RegistrationCodeService")
	ctx, span := tr.Start(ctx, "Issue",
		trace.WithAttributes(
			attribute.String("store.id", p.StoreID),
			attribute.String("user.id", p.UserID),
		),
	)
	defer span.End()

	exp := EndOfDay(now)
	if expiresAt != nil {
		if !expiresAt.After(now) {
			return nil, ErrInvalidExpiry
		}
		exp = *expiresAt
	}

	n := s.Length
	if n < 4 || n > 6 {
		n = 6
	}
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := GenerateCode(n)
		if err != nil {
			return nil, err
		}
		live, err := repo.CodeIsLive(ctx, s.DB, p.StoreID, code, now)
		if err != nil {
			return nil, err
		}
		if live {
			continue
		}
		rc := &domain.RegistrationCode{StoreID: p.StoreID, CastID: p.UserID, Code: code, ExpiresAt: exp}
		if err := repo.CreateCode(ctx, s.DB, rc); err != nil {
			return nil, err
		}
		return rc, nil
	}
	return nil, fmt.Errorf("no free registration code after %d attempts", maxCodeAttempts)
}

// ListActive returns the caller's unused, unexpired codes.
func (s *RegistrationCodeService) ListActive(ctx context.Context, p domain.Principal, now time.Time) ([]domain.RegistrationCode, error) {
	return repo.ListActiveCodes(ctx, s.DB, p.StoreID, p.UserID, now)
}
