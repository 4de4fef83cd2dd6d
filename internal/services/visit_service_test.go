package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tbourn/nightlife-crm/internal/domain"
	"github.com/tbourn/nightlife-crm/internal/repo"
)

func TestVisitService_Record(t *testing.T) {
	db := newSvcDB(t)
	mkStore(t, db, "s1")
	mkUser(t, db, "s1", "c1", domain.RoleCast)
	mkUser(t, db, "s1", "c2", domain.RoleCast)
	castID := "c1"
	cust := mkCustomer(t, db, domain.Customer{StoreID: "s1", LineUserID: "U1", AssignedCastID: &castID})
	svc := &VisitService{DB: db}
	ctx := context.Background()
	now := time.Date(2026, 10, 17, 23, 0, 0, 0, time.UTC)

	spend := decimal.RequireFromString("35000.50")
	nom := domain.NominationMain
	v, err := svc.Record(ctx, castP("c1", "s1"), cust.ID, VisitInput{ApproxSpend: &spend, NominationType: &nom}, now)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !v.OccurredAt.Equal(now) || !v.ApproxSpend.Valid || !v.ApproxSpend.Decimal.Equal(spend) {
		t.Fatalf("unexpected visit: %+v", v)
	}
	got, _ := repo.GetCustomer(ctx, db, "s1", cust.ID)
	if got.LastVisitAt == nil || !got.LastVisitAt.Equal(now) {
		t.Fatalf("last_visit_at = %v", got.LastVisitAt)
	}

	// Backdated visits are recorded but never move last_visit_at backwards.
	if _, err := svc.Record(ctx, managerP("m", "s1"), cust.ID, VisitInput{OccurredAt: now.Add(-48 * time.Hour)}, now); err != nil {
		t.Fatalf("backdated: %v", err)
	}
	got, _ = repo.GetCustomer(ctx, db, "s1", cust.ID)
	if !got.LastVisitAt.Equal(now) {
		t.Fatalf("last_visit_at moved backwards: %v", got.LastVisitAt)
	}

	bad := domain.NominationType("vip")
	neg := decimal.NewFromInt(-1)
	cases := []struct {
		name string
		p    domain.Principal
		id   string
		in   VisitInput
		want error
	}{
		{"other cast", castP("c2", "s1"), cust.ID, VisitInput{}, ErrForbidden},
		{"unknown customer", managerP("m", "s1"), "nope", VisitInput{}, ErrCustomerNotFound},
		{"bad nomination", managerP("m", "s1"), cust.ID, VisitInput{NominationType: &bad}, ErrInvalidVisit},
		{"negative spend", managerP("m", "s1"), cust.ID, VisitInput{ApproxSpend: &neg}, ErrInvalidVisit},
		{"future", managerP("m", "s1"), cust.ID, VisitInput{OccurredAt: now.Add(time.Hour)}, ErrInvalidVisit},
	}
	for _, tc := range cases {
		if _, err := svc.Record(ctx, tc.p, tc.id, tc.in, now); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v; want %v", tc.name, err, tc.want)
		}
	}
}
