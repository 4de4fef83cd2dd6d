// Package repo – message templates, outbound message logs and inbound
// messages.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/nightlife-crm/internal/domain"
)

// GetTemplate fetches an active template scoped to a store.
func GetTemplate(ctx context.Context, db *gorm.DB, storeID, id string) (*domain.Template, error) {
	var t domain.Template
	err := db.WithContext(ctx).
		First(&t, "id = ? AND store_id = ? AND is_active = ?", id, storeID, true).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTemplate inserts a template.
func CreateTemplate(ctx context.Context, db *gorm.DB, t *domain.Template) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return db.WithContext(ctx).Create(t).Error
}

// UpsertTemplate inserts or updates a template keyed by ID.
func UpsertTemplate(ctx context.Context, db *gorm.DB, t *domain.Template) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"store_id", "scope", "owner_cast_id", "type", "title", "body", "is_active", "updated_at",
		}),
	}).Create(t).Error
}

// CreateMessageLog records an outbound attempt.
func CreateMessageLog(ctx context.Context, db *gorm.DB, l *domain.MessageLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.SentAt.IsZero() {
		l.SentAt = time.Now()
	}
	l.SentAt = l.SentAt.UTC()
	return db.WithContext(ctx).Create(l).Error
}

// GetMessageLog fetches a message log scoped to a store.
func GetMessageLog(ctx context.Context, db *gorm.DB, storeID, id string) (*domain.MessageLog, error) {
	var l domain.MessageLog
	if err := db.WithContext(ctx).First(&l, "id = ? AND store_id = ?", id, storeID).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

// CreateInboundMessage stores a received message.
func CreateInboundMessage(ctx context.Context, db *gorm.DB, m *domain.InboundMessage) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.ReceivedAt = m.ReceivedAt.UTC()
	return db.WithContext(ctx).Create(m).Error
}
