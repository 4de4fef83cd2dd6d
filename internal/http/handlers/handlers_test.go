package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/nightlife-crm/internal/domain"
	"github.com/tbourn/nightlife-crm/internal/http/middleware"
	"github.com/tbourn/nightlife-crm/internal/repo"
	"github.com/tbourn/nightlife-crm/internal/services"
)

// ---------- fakes ----------

type fakeWebhook struct {
	report *services.InboundReport
	err    error
	gotSig string
	gotLen int
}

func (f *fakeWebhook) HandleWebhook(_ context.Context, body []byte, sig string, _ time.Time) (*services.InboundReport, error) {
	f.gotSig, f.gotLen = sig, len(body)
	return f.report, f.err
}

type fakeAuth struct {
	tok  *services.AccessToken
	user *domain.User
	err  error
}

func (f *fakeAuth) Login(_ context.Context, _, _ string, _ time.Time) (*services.AccessToken, *domain.User, error) {
	return f.tok, f.user, f.err
}

type fakeSend struct {
	send  func(p domain.Principal, in services.SendInput) (*services.SendResult, error)
	draft func(p domain.Principal, customerID, templateID string) (string, error)
	calls int
}

func (f *fakeSend) Send(_ context.Context, p domain.Principal, in services.SendInput, _ time.Time) (*services.SendResult, error) {
	f.calls++
	return f.send(p, in)
}

func (f *fakeSend) Draft(_ context.Context, p domain.Principal, customerID, templateID string) (string, error) {
	return f.draft(p, customerID, templateID)
}

type fakeTodos struct {
	items    []domain.Todo
	count    int64
	maxTS    *time.Time
	listCall int
	update   func(id string, st domain.TodoStatus) (*domain.Todo, error)
	gotPage  [2]int
}

func (f *fakeTodos) ListPage(_ context.Context, _ domain.Principal, _ domain.TodoStatus, page, pageSize int) ([]domain.Todo, int64, error) {
	f.listCall++
	f.gotPage = [2]int{page, pageSize}
	return f.items, int64(len(f.items)), nil
}

func (f *fakeTodos) Stats(context.Context, domain.Principal, domain.TodoStatus) (int64, *time.Time, error) {
	return f.count, f.maxTS, nil
}

func (f *fakeTodos) UpdateStatus(_ context.Context, _ domain.Principal, id string, st domain.TodoStatus, _ time.Time) (*domain.Todo, error) {
	return f.update(id, st)
}

type fakeVisits struct {
	got services.VisitInput
	err error
}

func (f *fakeVisits) Record(_ context.Context, _ domain.Principal, customerID string, in services.VisitInput, _ time.Time) (*domain.Visit, error) {
	f.got = in
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Visit{ID: "v1", CustomerID: customerID}, nil
}

type fakeCodes struct {
	gotExpiry *time.Time
	err       error
}

func (f *fakeCodes) Issue(_ context.Context, p domain.Principal, expiresAt *time.Time, now time.Time) (*domain.RegistrationCode, error) {
	f.gotExpiry = expiresAt
	if f.err != nil {
		return nil, f.err
	}
	return &domain.RegistrationCode{ID: "rc1", StoreID: p.StoreID, CastID: p.UserID, Code: "AB12CD", ExpiresAt: services.EndOfDay(now)}, nil
}

func (f *fakeCodes) ListActive(_ context.Context, p domain.Principal, _ time.Time) ([]domain.RegistrationCode, error) {
	return []domain.RegistrationCode{{ID: "rc1", StoreID: p.StoreID, CastID: p.UserID, Code: "AB12CD"}}, nil
}

type fakeGenerator struct {
	res   *services.StoreResult
	err   error
	store string
}

func (f *fakeGenerator) RunStore(_ context.Context, storeID string, _ time.Time) (*services.StoreResult, error) {
	f.store = storeID
	return f.res, f.err
}

// ---------- helpers ----------

var (
	testNow  = time.Date(2025, 1, 15, 14, 0, 0, 0, time.UTC)
	castP    = domain.Principal{UserID: "cast-1", StoreID: "store-1", Role: domain.RoleCast}
	managerP = domain.Principal{UserID: "mgr-1", StoreID: "store-1", Role: domain.RoleManager}
)

func newHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:h_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// newTestRouter mounts the handlers like the real router does, with p (when
// non-nil) injected as the authenticated principal.
func newTestRouter(h *Handlers, p *domain.Principal) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-test")
		if p != nil {
			middleware.SetPrincipal(c, *p)
		}
		c.Next()
	})
	r.POST("/webhook/line", h.LineWebhook)
	api := r.Group("/api/v1")
	api.POST("/auth/login", h.Login)
	api.POST("/messages/send", middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil), h.SendMessage)
	api.POST("/messages/draft", h.DraftMessage)
	api.GET("/todos", h.ListTodos)
	api.PATCH("/todos/:id", h.UpdateTodo)
	api.POST("/customers/:id/visits", h.RecordVisit)
	api.POST("/registration-codes", h.IssueCode)
	api.GET("/registration-codes/active", h.ListActiveCodes)
	api.POST("/admin/generation/run", h.RunGeneration)
	return r
}

func newHandlers(d Deps) *Handlers {
	d.Now = func() time.Time { return testNow }
	return New(d)
}

func do(r http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case []byte:
		rdr = bytes.NewReader(b)
	default:
		raw, _ := json.Marshal(b)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeErr(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("json: %v (%s)", err, w.Body.String())
	}
	return er
}

// ---------- shared behaviour ----------

func TestNew_Defaults(t *testing.T) {
	h := New(Deps{})
	if h.now == nil || h.idemTTL != 24*time.Hour {
		t.Fatalf("defaults not applied: ttl=%v", h.idemTTL)
	}
}

func TestAuthenticatedRoutes_RequirePrincipal(t *testing.T) {
	r := newTestRouter(newHandlers(Deps{Todos: &fakeTodos{}}), nil)
	w := do(r, http.MethodGet, "/api/v1/todos", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status %d; want 401", w.Code)
	}
}

func TestClampPagination(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		q          string
		page, size int
	}{
		{"", 1, 20},
		{"page=0&page_size=0", 1, 1},
		{"page=3&page_size=500", 3, 100},
		{"page=x&page_size=y", 1, 20},
	}
	for _, tc := range cases {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/?"+tc.q, nil)
		p, s := clampPagination(c)
		if p != tc.page || s != tc.size {
			t.Fatalf("%q: got (%d,%d); want (%d,%d)", tc.q, p, s, tc.page, tc.size)
		}
	}
}
