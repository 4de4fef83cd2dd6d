// Package repo – tenant lookups.
//
// Stores, staff users and LINE channels are read far more often than they are
// written; the write helpers here exist for provisioning (cmd/seed).
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/nightlife-crm/internal/domain"
)

// GetStore fetches a store by ID.
func GetStore(ctx context.Context, db *gorm.DB, id string) (*domain.Store, error) {
	var s domain.Store
	if err := db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// ListStores returns every store ordered by ID for deterministic cycles.
func ListStores(ctx context.Context, db *gorm.DB) ([]domain.Store, error) {
	var out []domain.Store
	err := db.WithContext(ctx).Order("id ASC").Find(&out).Error
	return out, err
}

// UpsertStore inserts or updates a store keyed by ID.
func UpsertStore(ctx context.Context, db *gorm.DB, s *domain.Store) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "allowed_sending_start_time", "allowed_sending_end_time",
			"messaging_frequency_limit_hours", "updated_at",
		}),
	}).Create(s).Error
}

// GetUser fetches a staff member scoped to a store.
func GetUser(ctx context.Context, db *gorm.DB, storeID, id string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).First(&u, "id = ? AND store_id = ?", id, storeID).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByEmail fetches a staff member by login email (case-insensitive).
func GetUserByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error) {
	var u domain.User
	email = strings.ToLower(strings.TrimSpace(email))
	if err := db.WithContext(ctx).First(&u, "email = ?", email).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// UpsertUser inserts or updates a staff member keyed by email.
func UpsertUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	existing, err := GetUserByEmail(ctx, db, u.Email)
	switch {
	case errors.Is(err, ErrNotFound):
		if u.ID == "" {
			u.ID = uuid.NewString()
		}
		return mapCreateErr(db.WithContext(ctx).Create(u).Error)
	case err != nil:
		return err
	}
	u.ID = existing.ID
	return db.WithContext(ctx).Model(existing).Updates(map[string]any{
		"store_id":      u.StoreID,
		"password_hash": u.PasswordHash,
		"display_name":  u.DisplayName,
		"role":          u.Role,
		"is_active":     u.IsActive,
		"updated_at":    time.Now().UTC(),
	}).Error
}

// GetLineChannelByBotUserID resolves the channel a webhook payload was sent
// to. Inactive channels are treated as missing.
func GetLineChannelByBotUserID(ctx context.Context, db *gorm.DB, botUserID string) (*domain.LineChannel, error) {
	var ch domain.LineChannel
	err := db.WithContext(ctx).
		Where("bot_user_id = ? AND is_active = ?", botUserID, true).
		First(&ch).Error
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// GetActiveLineChannel returns the store's active channel.
func GetActiveLineChannel(ctx context.Context, db *gorm.DB, storeID string) (*domain.LineChannel, error) {
	var ch domain.LineChannel
	err := db.WithContext(ctx).
		Where("store_id = ? AND is_active = ?", storeID, true).
		Order("created_at ASC").
		First(&ch).Error
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// UpsertLineChannel inserts or updates a channel keyed by bot user ID.
func UpsertLineChannel(ctx context.Context, db *gorm.DB, ch *domain.LineChannel) error {
	if ch.ID == "" {
		ch.ID = uuid.NewString()
	}
	active := ch.IsActive
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "bot_user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"store_id", "channel_access_token", "channel_secret", "is_active", "updated_at",
		}),
	}).Create(ch).Error
	if err != nil || active {
		return err
	}
	ch.IsActive = false
	return db.WithContext(ctx).Model(&domain.LineChannel{}).
		Where("bot_user_id = ?", ch.BotUserID).
		Update("is_active", false).Error
}
