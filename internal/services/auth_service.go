package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/tbourn/nightlife-crm/internal/domain"
	"github.com/tbourn/nightlife-crm/internal/repo"
)

// Claims are the JWT claims of a staff access token. The subject is the
// user ID.
type Claims struct {
	StoreID string      `json:"store_id"`
	Role    domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// AccessToken is a signed token and its expiry.
type AccessToken struct {
	Token     string    `json:"access_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AuthService issues and verifies staff access tokens.
type AuthService struct {
	DB     *gorm.DB
	Secret []byte
	TTL    time.Duration
}

// HashPassword returns the bcrypt hash of a password.
func HashPassword(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Login checks an active user's password and returns an HS256 token.
func (s *AuthService) Login(ctx context.Context, email, password string, now time.Time) (*AccessToken, *domain.User, error) {
	u, err := repo.GetUserByEmail(ctx, s.DB, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}
	if !u.IsActive || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, nil, ErrInvalidCredentials
	}
	tok, err := s.Issue(domain.Principal{UserID: u.ID, StoreID: u.StoreID, Role: u.Role}, now)
	if err != nil {
		return nil, nil, err
	}
	return tok, u, nil
}

// Issue signs a token for p.
func (s *AuthService) Issue(p domain.Principal, now time.Time) (*AccessToken, error) {
	ttl := s.TTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	exp := now.Add(ttl)
	claims := Claims{
		StoreID: p.StoreID,
		Role:    p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &AccessToken{Token: signed, ExpiresAt: exp}, nil
}

// Verify parses a token and returns the principal it carries.
func (s *AuthService) Verify(raw string) (domain.Principal, error) {
	var c Claims
	tok, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return s.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !tok.Valid {
		return domain.Principal{}, ErrInvalidToken
	}
	p := domain.Principal{UserID: c.Subject, StoreID: c.StoreID, Role: c.Role}
	if p.UserID == "" || p.StoreID == "" || !p.Role.Valid() {
		return domain.Principal{}, ErrInvalidToken
	}
	return p, nil
}
