// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements bearer-token authentication for staff endpoints.
// Authenticate runs globally and only parses: a valid token stores the
// domain.Principal (and "userID" for rate limiting and idempotency keys).
// RequireAuth and RequireManager sit on route groups and enforce.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/nightlife-crm/internal/domain"
)

const (
	ctxKeyPrincipal = "auth.principal"
	ctxKeyAuthError = "auth.error"
)

// TokenVerifier turns a raw bearer token into a principal.
type TokenVerifier interface {
	Verify(raw string) (domain.Principal, error)
}

// Authenticate parses "Authorization: Bearer <token>" when present. It never
// aborts; a bad token is remembered so RequireAuth can report it.
func Authenticate(v TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearer(c.GetHeader("Authorization"))
		if !ok {
			c.Next()
			return
		}
		p, err := v.Verify(raw)
		if err != nil {
			c.Set(ctxKeyAuthError, true)
			c.Next()
			return
		}
		SetPrincipal(c, p)
		c.Next()
	}
}

// RequireAuth aborts with 401 unless Authenticate stored a principal.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := PrincipalFrom(c); ok {
			c.Next()
			return
		}
		msg := "missing bearer token"
		if _, bad := c.Get(ctxKeyAuthError); bad {
			msg = "invalid or expired token"
		}
		abortJSON(c, http.StatusUnauthorized, "unauthorized", msg)
	}
}

// RequireManager aborts with 403 for non-manager principals.
func RequireManager() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		if !p.IsManager() {
			abortJSON(c, http.StatusForbidden, "forbidden", "manager role required")
			return
		}
		c.Next()
	}
}

// SetPrincipal stores p on the request. Tests use it to bypass tokens.
func SetPrincipal(c *gin.Context, p domain.Principal) {
	c.Set(ctxKeyPrincipal, p)
	c.Set("userID", p.UserID)
}

// PrincipalFrom returns the authenticated principal, if any.
func PrincipalFrom(c *gin.Context) (domain.Principal, bool) {
	v, ok := c.Get(ctxKeyPrincipal)
	if !ok {
		return domain.Principal{}, false
	}
	p, ok := v.(domain.Principal)
	return p, ok
}

func bearer(h string) (string, bool) {
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	raw := strings.TrimSpace(h[len(prefix):])
	return raw, raw != ""
}

func abortJSON(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": c.Writer.Header().Get("X-Request-ID"),
		"code":       code,
		"message":    msg,
	})
}
