// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds the per-caller token-bucket limiter for the staff API.
// Buckets are keyed by store and staff member (client IP when anonymous)
// and idle buckets are swept every few thousand lookups. The limiter is
// process-local and protects API capacity only; how often a customer may be
// messaged is decided by the send guardrail.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	visitorTTL = 10 * time.Minute
	sweepEvery = 5000
)

// keyFunc selects the identity used to key a rate-limit bucket.
type keyFunc func(*gin.Context) string

// KeyByPrincipalOrIP keys authenticated requests by "store:<id>/user:<id>"
// so two stores never share a bucket, and anonymous ones by "ip:<addr>".
func KeyByPrincipalOrIP() keyFunc {
	return func(c *gin.Context) string {
		if p, ok := PrincipalFrom(c); ok && p.UserID != "" {
			return "store:" + p.StoreID + "/user:" + p.UserID
		}
		return "ip:" + c.ClientIP()
	}
}

// SkipPaths returns a predicate matching requests whose URL path equals one
// of paths. Empty entries are ignored.
func SkipPaths(paths ...string) func(*gin.Context) bool {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if p != "" {
			set[p] = struct{}{}
		}
	}
	return func(c *gin.Context) bool {
		_, ok := set[c.Request.URL.Path]
		return ok
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is safe for concurrent use.
type RateLimiter struct {
	// Skip, when set, exempts matching requests from limiting.
	Skip func(*gin.Context) bool

	rps        rate.Limit
	burst      int
	keyFn      keyFunc
	retryAfter string

	mu       sync.Mutex
	visitors map[string]*visitor
	ttl      time.Duration
	cleanupN uint64
}

// NewRateLimiter refills rps tokens per second into buckets of size burst
// (at least 1).
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:        rate.Limit(rps),
		burst:      burst,
		keyFn:      keyFn,
		retryAfter: retryAfterSeconds(rps),
		visitors:   make(map[string]*visitor),
		ttl:        visitorTTL,
	}
}

// retryAfterSeconds is the time for one token to refill, rounded up.
func retryAfterSeconds(rps float64) string {
	if rps <= 0 {
		return "1"
	}
	return strconv.Itoa(int(math.Max(1, math.Ceil(1/rps))))
}

// getVisitor sweeps before the lookup so a stale bucket is dropped even when
// it is the one being requested.
func (rl *RateLimiter) getVisitor(key string) *rate.Limiter {
	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.cleanupN++; rl.cleanupN >= sweepEvery {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.cleanupN = 0
	}

	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// IsRateBypass reports whether IdempotencyValidator found a stored result
// for this request. Replays do not consume tokens.
func IsRateBypass(c *gin.Context) bool {
	v, _ := c.Get(ctxKeyRateBypass)
	b, _ := v.(bool)
	return b
}

// Handler enforces the limit. Throttled callers get 429 too_many_requests
// with Retry-After set to the refill time of one token.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) || (rl.Skip != nil && rl.Skip(c)) {
			c.Next()
			return
		}

		key := rl.keyFn(c)
		if rl.getVisitor(key).Allow() {
			c.Next()
			return
		}

		LoggerFrom(c).Debug().Str("bucket", key).Msg("rate limited")
		c.Header("Retry-After", rl.retryAfter)
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "too_many_requests",
			"message":    "rate limit exceeded",
		})
	}
}
