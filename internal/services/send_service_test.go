package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/nightlife-crm/internal/domain"
	"github.com/tbourn/nightlife-crm/internal/repo"
)

type sendFixture struct {
	db   *gorm.DB
	gw   *fakeGateway
	svc  *SendService
	cust *domain.Customer
	now  time.Time
}

func newSendFixture(t *testing.T) *sendFixture {
	t.Helper()
	db := newSvcDB(t)
	mkStore(t, db, "s1")
	c := mkUser(t, db, "s1", "c1", domain.RoleCast)
	db.Model(c).Update("display_name", "Mio")
	mkUser(t, db, "s1", "c2", domain.RoleCast)
	mkUser(t, db, "s1", "m1", domain.RoleManager)
	mkChannel(t, db, "s1", "Ubot", "secret")

	castID := "c1"
	last := time.Date(2026, 10, 10, 13, 0, 0, 0, time.UTC)
	cust := mkCustomer(t, db, domain.Customer{
		StoreID: "s1", LineUserID: "U1", AssignedCastID: &castID,
		CallName: ptr("ゆうき"), LastVisitAt: &last,
	})
	gw := &fakeGateway{}
	return &sendFixture{
		db:   db,
		gw:   gw,
		cust: cust,
		now:  time.Date(2026, 10, 17, 15, 0, 0, 0, jst()),
		svc: &SendService{
			DB:              db,
			Gateways:        &fakeFactory{gw: gw},
			Log:             zerolog.Nop(),
			Location:        jst(),
			MaxMessageRunes: 20,
		},
	}
}

func (f *sendFixture) logs(t *testing.T) []domain.MessageLog {
	t.Helper()
	var out []domain.MessageLog
	if err := f.db.Order("sent_at").Find(&out).Error; err != nil {
		t.Fatalf("list logs: %v", err)
	}
	return out
}

func TestSend_Success(t *testing.T) {
	f := newSendFixture(t)
	ctx := context.Background()
	todo := &domain.Todo{StoreID: "s1", CustomerID: f.cust.ID, CastID: "c1", Type: domain.TodoFollowUp7, DueDate: f.now}
	if err := repo.CreateTodo(ctx, f.db, todo); err != nil {
		t.Fatalf("todo: %v", err)
	}

	res, err := f.svc.Send(ctx, castP("c1", "s1"), SendInput{CustomerID: f.cust.ID, Body: " また来てね ", TodoID: &todo.ID}, f.now)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Status != domain.SendSuccess {
		t.Fatalf("status = %s", res.Status)
	}
	if len(f.gw.pushes) != 1 || f.gw.pushes[0].To != "U1" || f.gw.pushes[0].Text != "また来てね" || f.gw.pushes[0].RetryKey != res.MessageLogID {
		t.Fatalf("unexpected push: %+v", f.gw.pushes)
	}

	logs := f.logs(t)
	if len(logs) != 1 || logs[0].Status != domain.SendSuccess || logs[0].APIResponse == "" || logs[0].CastID != "c1" {
		t.Fatalf("unexpected log: %+v", logs)
	}
	got, _ := repo.GetCustomer(ctx, f.db, "s1", f.cust.ID)
	if got.LastMessageSentAt == nil || !got.LastMessageSentAt.Equal(f.now) {
		t.Fatalf("last_message_sent_at not updated: %v", got.LastMessageSentAt)
	}
	td, _ := repo.GetTodo(ctx, f.db, "s1", todo.ID)
	if td.Status != domain.TodoCompleted || td.CompletedAt == nil {
		t.Fatalf("todo not completed: %+v", td)
	}
}

func TestSend_DeniedIsLoggedNotPushed(t *testing.T) {
	f := newSendFixture(t)
	late := time.Date(2026, 10, 17, 23, 0, 0, 0, jst())

	res, err := f.svc.Send(context.Background(), castP("c1", "s1"), SendInput{CustomerID: f.cust.ID, Body: "hi"}, late)
	var denied *DeniedError
	if !errors.As(err, &denied) || denied.Reason != DenyOutsideWindow {
		t.Fatalf("expected outside_window denial, got %v", err)
	}
	if res == nil || res.Status != domain.SendBlocked || denied.MessageLogID != res.MessageLogID {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(f.gw.pushes) != 0 {
		t.Fatalf("denied send must not reach the gateway")
	}
	logs := f.logs(t)
	if len(logs) != 1 || logs[0].Status != domain.SendBlocked || logs[0].DenyReason == nil || *logs[0].DenyReason != "outside_window" {
		t.Fatalf("unexpected log: %+v", logs)
	}
	got, _ := repo.GetCustomer(context.Background(), f.db, "s1", f.cust.ID)
	if got.LastMessageSentAt != nil {
		t.Fatalf("denied send must not touch last_message_sent_at")
	}
}

func TestSend_FrequencyLimitAfterSuccess(t *testing.T) {
	f := newSendFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Send(ctx, castP("c1", "s1"), SendInput{CustomerID: f.cust.ID, Body: "one"}, f.now); err != nil {
		t.Fatalf("first send: %v", err)
	}
	_, err := f.svc.Send(ctx, castP("c1", "s1"), SendInput{CustomerID: f.cust.ID, Body: "two"}, f.now.Add(2*time.Hour))
	var denied *DeniedError
	if !errors.As(err, &denied) || denied.Reason != DenyFrequencyLimit {
		t.Fatalf("expected frequency_limit, got %v", err)
	}
}

func TestSend_ProviderFailureLogged(t *testing.T) {
	f := newSendFixture(t)
	f.gw.pushErr = errors.New("429 from provider")

	res, err := f.svc.Send(context.Background(), castP("c1", "s1"), SendInput{CustomerID: f.cust.ID, Body: "hi"}, f.now)
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
	if res == nil || res.Status != domain.SendFailed || res.Error == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	logs := f.logs(t)
	if len(logs) != 1 || logs[0].Status != domain.SendFailed {
		t.Fatalf("unexpected log: %+v", logs)
	}
	got, _ := repo.GetCustomer(context.Background(), f.db, "s1", f.cust.ID)
	if got.LastMessageSentAt != nil {
		t.Fatalf("failed send must not touch last_message_sent_at")
	}
}

func TestSend_Validation(t *testing.T) {
	f := newSendFixture(t)
	ctx := context.Background()
	cases := []struct {
		name string
		p    domain.Principal
		in   SendInput
		want error
	}{
		{"other cast", castP("c2", "s1"), SendInput{CustomerID: f.cust.ID, Body: "hi"}, ErrForbidden},
		{"other store", managerP("m1", "s2"), SendInput{CustomerID: f.cust.ID, Body: "hi"}, ErrCustomerNotFound},
		{"empty", castP("c1", "s1"), SendInput{CustomerID: f.cust.ID, Body: "   "}, ErrEmptyMessage},
		{"too long", castP("c1", "s1"), SendInput{CustomerID: f.cust.ID, Body: "123456789012345678901"}, ErrTooLong},
		{"missing template", castP("c1", "s1"), SendInput{CustomerID: f.cust.ID, TemplateID: ptr("nope")}, ErrTemplateNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.Send(ctx, tc.p, tc.in, f.now); !errors.Is(err, tc.want) {
				t.Fatalf("got %v; want %v", err, tc.want)
			}
		})
	}
	// A manager may message any customer of the store.
	if _, err := f.svc.Send(ctx, managerP("m1", "s1"), SendInput{CustomerID: f.cust.ID, Body: "hi"}, f.now); err != nil {
		t.Fatalf("manager send: %v", err)
	}
}

func TestSend_NoChannel(t *testing.T) {
	f := newSendFixture(t)
	f.db.Model(&domain.LineChannel{}).Where("store_id = ?", "s1").Update("is_active", false)
	_, err := f.svc.Send(context.Background(), castP("c1", "s1"), SendInput{CustomerID: f.cust.ID, Body: "hi"}, f.now)
	if !errors.Is(err, ErrChannelNotConfigured) {
		t.Fatalf("expected ErrChannelNotConfigured, got %v", err)
	}
}

func TestDraft_RendersCustomerVars(t *testing.T) {
	f := newSendFixture(t)
	ctx := context.Background()
	store := &domain.Template{StoreID: "s1", Scope: domain.ScopeStore, Title: "t", Body: "{callName}さん {castName}@{storeName} {lastVisit} {unknown}", IsActive: true}
	own := &domain.Template{StoreID: "s1", Scope: domain.ScopeCast, OwnerCastID: ptr("c2"), Title: "mine", Body: "x", IsActive: true}
	for _, tpl := range []*domain.Template{store, own} {
		if err := repo.CreateTemplate(ctx, f.db, tpl); err != nil {
			t.Fatalf("template: %v", err)
		}
	}

	got, err := f.svc.Draft(ctx, castP("c1", "s1"), f.cust.ID, store.ID)
	if err != nil {
		t.Fatalf("Draft: %v", err)
	}
	if want := "ゆうきさん Mio@Club s1 2026-10-10 {unknown}"; got != want {
		t.Fatalf("draft = %q; want %q", got, want)
	}
	// Another cast's private template is invisible.
	if _, err := f.svc.Draft(ctx, castP("c1", "s1"), f.cust.ID, own.ID); !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
}

func TestDraft_FallsBackToDisplayName(t *testing.T) {
	f := newSendFixture(t)
	ctx := context.Background()
	f.db.Model(&domain.Customer{}).Where("id = ?", f.cust.ID).Updates(map[string]any{"call_name": nil, "line_display_name": "Yuki", "last_visit_at": nil})
	tpl := &domain.Template{StoreID: "s1", Title: "t", Body: "{callName} {lastVisit}", IsActive: true}
	if err := repo.CreateTemplate(ctx, f.db, tpl); err != nil {
		t.Fatalf("template: %v", err)
	}
	got, err := f.svc.Draft(ctx, managerP("m1", "s1"), f.cust.ID, tpl.ID)
	if err != nil || got != "Yuki {lastVisit}" {
		t.Fatalf("draft = %q, %v", got, err)
	}
}
