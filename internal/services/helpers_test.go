package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/nightlife-crm/internal/domain"
	"github.com/tbourn/nightlife-crm/internal/line"
	"github.com/tbourn/nightlife-crm/internal/repo"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func mkStore(t *testing.T, db *gorm.DB, id string) *domain.Store {
	t.Helper()
	s := &domain.Store{ID: id, Name: "Club " + id, AllowedSendingStartTime: "12:00", AllowedSendingEndTime: "22:30", MessagingFrequencyLimitHours: 24}
	if err := db.Create(s).Error; err != nil {
		t.Fatalf("create store: %v", err)
	}
	return s
}

func mkUser(t *testing.T, db *gorm.DB, storeID, id string, role domain.Role) *domain.User {
	t.Helper()
	u := &domain.User{ID: id, StoreID: storeID, Email: id + "@example.com", PasswordHash: "x", DisplayName: "Cast " + id, Role: role, IsActive: true}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func mkCustomer(t *testing.T, db *gorm.DB, c domain.Customer) *domain.Customer {
	t.Helper()
	if err := repo.CreateCustomer(context.Background(), db, &c); err != nil {
		t.Fatalf("create customer: %v", err)
	}
	return &c
}

func mkChannel(t *testing.T, db *gorm.DB, storeID, botUserID, secret string) *domain.LineChannel {
	t.Helper()
	ch := &domain.LineChannel{ID: uuid.NewString(), StoreID: storeID, ChannelAccessToken: "token", ChannelSecret: secret, BotUserID: botUserID, IsActive: true}
	if err := db.Create(ch).Error; err != nil {
		t.Fatalf("create channel: %v", err)
	}
	return ch
}

func ptr[T any](v T) *T { return &v }

func castP(id, store string) domain.Principal {
	return domain.Principal{UserID: id, StoreID: store, Role: domain.RoleCast}
}

func managerP(id, store string) domain.Principal {
	return domain.Principal{UserID: id, StoreID: store, Role: domain.RoleManager}
}

// ---------- fakes ----------

type pushCall struct{ To, Text, RetryKey string }

type fakeGateway struct {
	mu       sync.Mutex
	pushes   []pushCall
	replies  []string
	pushErr  error
	profile  *line.Profile
	profErr  error
	replyErr error
}

func (g *fakeGateway) PushText(_ context.Context, to, text, retryKey string) (*line.PushResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pushes = append(g.pushes, pushCall{to, text, retryKey})
	if g.pushErr != nil {
		return nil, g.pushErr
	}
	return &line.PushResult{Response: `{"sentMessages":[{"id":"1"}]}`}, nil
}

func (g *fakeGateway) ReplyText(_ context.Context, _ string, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.replies = append(g.replies, text)
	return g.replyErr
}

func (g *fakeGateway) GetProfile(_ context.Context, userID string) (*line.Profile, error) {
	if g.profErr != nil {
		return nil, g.profErr
	}
	if g.profile != nil {
		return g.profile, nil
	}
	return &line.Profile{UserID: userID}, nil
}

type fakeFactory struct {
	gw  *fakeGateway
	err error
}

func (f *fakeFactory) ForChannel(line.Credentials) (line.Gateway, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.gw, nil
}

type published struct {
	Key   string
	Event any
}

type fakePublisher struct {
	mu   sync.Mutex
	got  []published
	fail bool
}

func (p *fakePublisher) Publish(_ context.Context, key string, ev any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker down")
	}
	p.got = append(p.got, published{key, ev})
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func jst() *time.Location { return time.FixedZone("JST", 9*3600) }
