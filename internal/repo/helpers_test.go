package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/nightlife-crm/internal/domain"
)

// newTestDB opens a per-test in-memory database. With no arguments it runs
// the full AutoMigrate; otherwise only the given models are migrated.
func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	// Unique DB per test to avoid schema leaking across tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if len(migrate) == 0 {
		if err := AutoMigrate(db); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
		return db
	}
	if err := db.AutoMigrate(migrate...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedStore(t *testing.T, db *gorm.DB, id string) *domain.Store {
	t.Helper()
	s := &domain.Store{ID: id, Name: "Store " + id, AllowedSendingStartTime: "12:00", AllowedSendingEndTime: "22:30", MessagingFrequencyLimitHours: 24}
	if err := db.Create(s).Error; err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return s
}

func seedCast(t *testing.T, db *gorm.DB, storeID, id string) *domain.User {
	t.Helper()
	u := &domain.User{ID: id, StoreID: storeID, Email: id + "@example.com", PasswordHash: "x", DisplayName: "Cast " + id, Role: domain.RoleCast, IsActive: true}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("seed cast: %v", err)
	}
	return u
}

func seedCustomer(t *testing.T, db *gorm.DB, c domain.Customer) *domain.Customer {
	t.Helper()
	if err := CreateCustomer(context.Background(), db, &c); err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	return &c
}

func ptr[T any](v T) *T { return &v }

func utcDay(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}
