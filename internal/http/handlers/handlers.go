// Package handlers exposes the staff REST API and the LINE webhook.
//
// Handlers are transport-thin: they bind and validate input, take the
// authenticated principal from the request, call an application service and
// translate its result (or sentinel error) into an HTTP response.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/nightlife-crm/internal/domain"
	"github.com/tbourn/nightlife-crm/internal/http/middleware"
	"github.com/tbourn/nightlife-crm/internal/services"
	"github.com/tbourn/nightlife-crm/internal/utils"
)

//
// Service contracts (context-aware)
//

// WebhookService processes a raw LINE webhook delivery.
type WebhookService interface {
	HandleWebhook(ctx context.Context, body []byte, signature string, now time.Time) (*services.InboundReport, error)
}

// AuthService issues staff access tokens.
type AuthService interface {
	Login(ctx context.Context, email, password string, now time.Time) (*services.AccessToken, *domain.User, error)
}

// SendService sends and drafts outbound messages.
type SendService interface {
	Send(ctx context.Context, p domain.Principal, in services.SendInput, now time.Time) (*services.SendResult, error)
	Draft(ctx context.Context, p domain.Principal, customerID, templateID string) (string, error)
}

// TodoService lists and transitions follow-up todos.
type TodoService interface {
	ListPage(ctx context.Context, p domain.Principal, status domain.TodoStatus, page, pageSize int) ([]domain.Todo, int64, error)
	Stats(ctx context.Context, p domain.Principal, status domain.TodoStatus) (int64, *time.Time, error)
	UpdateStatus(ctx context.Context, p domain.Principal, id string, status domain.TodoStatus, now time.Time) (*domain.Todo, error)
}

// VisitService records customer visits.
type VisitService interface {
	Record(ctx context.Context, p domain.Principal, customerID string, in services.VisitInput, now time.Time) (*domain.Visit, error)
}

// CodeService issues and lists registration codes.
type CodeService interface {
	Issue(ctx context.Context, p domain.Principal, expiresAt *time.Time, now time.Time) (*domain.RegistrationCode, error)
	ListActive(ctx context.Context, p domain.Principal, now time.Time) ([]domain.RegistrationCode, error)
}

// Generator runs todo generation for one store.
type Generator interface {
	RunStore(ctx context.Context, storeID string, now time.Time) (*services.StoreResult, error)
}

//
// Handler wiring
//

// Deps lists what the handlers need. Nil services leave their routes
// answering 500; DB is only used for idempotent replays of sends.
type Deps struct {
	Webhook   WebhookService
	Auth      AuthService
	Send      SendService
	Todos     TodoService
	Visits    VisitService
	Codes     CodeService
	Generator Generator

	DB             *gorm.DB
	IdempotencyTTL time.Duration
	// Now overrides the clock; nil uses time.Now.
	Now func() time.Time
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	webhook   WebhookService
	auth      AuthService
	send      SendService
	todos     TodoService
	visits    VisitService
	codes     CodeService
	generator Generator

	db      *gorm.DB
	idemTTL time.Duration
	now     func() time.Time
}

// New constructs Handlers from d.
func New(d Deps) *Handlers {
	h := &Handlers{
		webhook:   d.Webhook,
		auth:      d.Auth,
		send:      d.Send,
		todos:     d.Todos,
		visits:    d.Visits,
		codes:     d.Codes,
		generator: d.Generator,
		db:        d.DB,
		idemTTL:   d.IdempotencyTTL,
		now:       d.Now,
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.idemTTL <= 0 {
		h.idemTTL = 24 * time.Hour
	}
	return h
}

// principal returns the authenticated staff member. Routes behind
// middleware.RequireAuth always have one; a missing principal aborts 401.
func principal(c *gin.Context) (domain.Principal, bool) {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing bearer token")
	}
	return p, ok
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	return utils.ParsePage(c.Query("page"), c.Query("page_size"))
}
