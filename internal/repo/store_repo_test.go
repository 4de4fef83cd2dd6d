package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/nightlife-crm/internal/domain"
)

func TestStores_UpsertGetList(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	s := &domain.Store{ID: "s1", Name: "Club A", AllowedSendingStartTime: "12:00", AllowedSendingEndTime: "22:30", MessagingFrequencyLimitHours: 24}
	if err := UpsertStore(ctx, db, s); err != nil {
		t.Fatalf("UpsertStore: %v", err)
	}
	s.Name = "Club A+"
	s.MessagingFrequencyLimitHours = 12
	if err := UpsertStore(ctx, db, s); err != nil {
		t.Fatalf("UpsertStore update: %v", err)
	}
	got, err := GetStore(ctx, db, "s1")
	if err != nil || got.Name != "Club A+" || got.MessagingFrequencyLimitHours != 12 {
		t.Fatalf("GetStore: %+v %v", got, err)
	}
	seedStore(t, db, "s0")
	all, err := ListStores(ctx, db)
	if err != nil || len(all) != 2 || all[0].ID != "s0" {
		t.Fatalf("ListStores: %+v %v", all, err)
	}
}

func TestUsers_UpsertByEmail(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedStore(t, db, "s1")

	u := &domain.User{StoreID: "s1", Email: " Mio@Example.com ", PasswordHash: "h1", DisplayName: "Mio", Role: domain.RoleCast, IsActive: true}
	if err := UpsertUser(ctx, db, u); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	firstID := u.ID
	u2 := &domain.User{StoreID: "s1", Email: "mio@example.com", PasswordHash: "h2", DisplayName: "Mio-chan", Role: domain.RoleCast, IsActive: true}
	if err := UpsertUser(ctx, db, u2); err != nil {
		t.Fatalf("UpsertUser update: %v", err)
	}
	if u2.ID != firstID {
		t.Fatalf("upsert should keep ID: %s vs %s", u2.ID, firstID)
	}
	got, err := GetUserByEmail(ctx, db, "MIO@example.com")
	if err != nil || got.DisplayName != "Mio-chan" || got.PasswordHash != "h2" {
		t.Fatalf("GetUserByEmail: %+v %v", got, err)
	}
	if _, err := GetUser(ctx, db, "s2", firstID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-store GetUser must miss, got %v", err)
	}
}

func TestLineChannels(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedStore(t, db, "s1")

	ch := &domain.LineChannel{StoreID: "s1", ChannelAccessToken: "tok", ChannelSecret: "sec", BotUserID: "Ubot", IsActive: true}
	if err := UpsertLineChannel(ctx, db, ch); err != nil {
		t.Fatalf("UpsertLineChannel: %v", err)
	}
	got, err := GetLineChannelByBotUserID(ctx, db, "Ubot")
	if err != nil || got.StoreID != "s1" || got.ChannelSecret != "sec" {
		t.Fatalf("GetLineChannelByBotUserID: %+v %v", got, err)
	}
	if _, err := GetActiveLineChannel(ctx, db, "s1"); err != nil {
		t.Fatalf("GetActiveLineChannel: %v", err)
	}

	ch.IsActive = false
	if err := UpsertLineChannel(ctx, db, ch); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := GetLineChannelByBotUserID(ctx, db, "Ubot"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("inactive channel should be missing, got %v", err)
	}
	if _, err := GetActiveLineChannel(ctx, db, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("inactive channel should be missing, got %v", err)
	}
}
