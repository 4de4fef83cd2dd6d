// Package httpapi wires the HTTP transport (Gin) to the CRM services,
// middleware and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// bearer authentication, idempotent sends, rate limiting, CORS and security
// headers.
//
// Two audiences share the engine:
//   - staff clients calling the JSON API under cfg.APIBasePath (bearer token)
//   - the LINE platform posting webhooks to cfg.Line.WebhookPath (signed body)
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/nightlife-crm/docs"
	"github.com/tbourn/nightlife-crm/internal/cache"
	"github.com/tbourn/nightlife-crm/internal/config"
	"github.com/tbourn/nightlife-crm/internal/events"
	"github.com/tbourn/nightlife-crm/internal/http/handlers"
	"github.com/tbourn/nightlife-crm/internal/http/middleware"
	"github.com/tbourn/nightlife-crm/internal/line"
	"github.com/tbourn/nightlife-crm/internal/observability"
	"github.com/tbourn/nightlife-crm/internal/repo"
	"github.com/tbourn/nightlife-crm/internal/services"
)

// Backends are the collaborators built once at boot and shared with
// non-HTTP components (the scheduler uses the same Generator).
type Backends struct {
	Gateways  line.Factory
	Cache     cache.Store
	Events    events.Publisher
	Metrics   *observability.Metrics
	Generator *services.TodoGenerator
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Authenticate: parse bearer tokens (never aborts)
//  8. Idempotency validator (needs the user from 7; before the limiter)
//  9. Rate limiter (per user/IP, bypass on replay, webhook exempt)
//  10. CORS, security headers and response compression
func RegisterRoutes(r *gin.Engine, db *gorm.DB, b Backends, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{middleware.HeaderIdempotencyKey},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB; LINE caps webhook bodies well below)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Bearer tokens
	authSvc := &services.AuthService{
		DB:     db,
		Secret: []byte(cfg.Auth.JWTSecret),
		TTL:    cfg.Auth.AccessTokenTTL,
	}
	r.Use(middleware.Authenticate(authSvc))

	// 8) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, userID, scopeID, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, userID, scopeID, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))

	// 9) Token-bucket rate limiter per user/IP. LINE retries webhooks from a
	// handful of addresses, so the webhook must never be throttled here.
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByPrincipalOrIP())
	rl.Skip = middleware.SkipPaths(cfg.Line.WebhookPath, "/health", "/metrics")
	r.Use(rl.Handler())

	// 10) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers. API responses carry customer data and are never
	// cached; the webhook and probes are left cacheable-neutral.
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:      cfg.Security.EnableHSTS,
		HSTSMaxAge:      cfg.Security.HSTSMaxAge,
		NoStorePrefixes: []string{cfg.APIBasePath},
		EnablePolicy:    true,
	}))

	// Compress JSON API responses; /metrics handles its own encoding.
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics", cfg.Line.WebhookPath})))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// API docs
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/backends
	gateways := b.Gateways
	if gateways == nil {
		gateways = &line.SDKFactory{Endpoint: cfg.Line.APIEndpoint}
	}
	publisher := b.Events
	if publisher == nil {
		publisher = events.Noop{}
	}
	store := b.Cache
	if store == nil {
		store = cache.NewMemory()
	}
	generator := b.Generator
	if generator == nil {
		generator = &services.TodoGenerator{
			DB:          db,
			Locker:      store,
			Events:      publisher,
			Metrics:     b.Metrics,
			Log:         log.With().Str("component", "generator").Logger(),
			Concurrency: cfg.Generation.Concurrency,
			LockTTL:     cfg.Generation.LockTTL,
		}
	}

	h := handlers.New(handlers.Deps{
		Webhook: &services.InboundService{
			DB:                  db,
			Gateways:            gateways,
			Dedupe:              store,
			Events:              publisher,
			Metrics:             b.Metrics,
			Log:                 log.With().Str("component", "webhook").Logger(),
			DedupeTTL:           cfg.Line.DedupeTTL,
			ReplyTemplate:       cfg.Line.RegistrationReply,
			AutoCreateCustomers: cfg.Line.AutoCreateCustomers,
		},
		Auth: authSvc,
		Send: &services.SendService{
			DB:              db,
			Gateways:        gateways,
			Metrics:         b.Metrics,
			Log:             log.With().Str("component", "send").Logger(),
			Location:        cfg.Location,
			MaxMessageRunes: cfg.MaxMessageRunes,
		},
		Todos:  &services.TodoService{DB: db},
		Visits: &services.VisitService{DB: db},
		Codes: &services.RegistrationCodeService{
			DB:     db,
			Length: cfg.RegistrationCodeLength,
		},
		Generator:      generator,
		DB:             db,
		IdempotencyTTL: cfg.IdempotencyTTL,
		Now:            cfg.Now,
	})

	// LINE webhook (signature checked by the service against the channel secret)
	r.POST(cfg.Line.WebhookPath, h.LineWebhook)

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.POST("/auth/login", h.Login)

	staff := api.Group("", middleware.RequireAuth())
	{
		// Messages
		staff.POST("/messages/send", h.SendMessage)
		staff.POST("/messages/draft", h.DraftMessage)

		// Todos
		staff.GET("/todos", h.ListTodos)
		staff.PATCH("/todos/:id", h.UpdateTodo)

		// Customers
		staff.POST("/customers/:id/visits", h.RecordVisit)

		// Registration codes
		staff.POST("/registration-codes", h.IssueCode)
		staff.GET("/registration-codes/active", h.ListActiveCodes)
	}

	admin := api.Group("/admin", middleware.RequireAuth(), middleware.RequireManager())
	{
		admin.POST("/generation/run", h.RunGeneration)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
