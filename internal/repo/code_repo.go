// Package repo – registration codes.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/nightlife-crm/internal/domain"
)

// FindCodeForRedemption returns the code row a guest most plausibly meant:
// an unused one if any exists for that value, otherwise the newest.
func FindCodeForRedemption(ctx context.Context, db *gorm.DB, storeID, code string) (*domain.RegistrationCode, error) {
	var rc domain.RegistrationCode
	err := db.WithContext(ctx).
		Where("store_id = ? AND code = ?", storeID, code).
		Order("CASE WHEN used_at IS NULL THEN 0 ELSE 1 END, created_at DESC").
		First(&rc).Error
	if err != nil {
		return nil, err
	}
	return &rc, nil
}

// CodeIsLive reports whether an unused, unexpired code with this value
// already exists in the store.
func CodeIsLive(ctx context.Context, db *gorm.DB, storeID, code string, now time.Time) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.RegistrationCode{}).
		Where("store_id = ? AND code = ? AND used_at IS NULL AND expires_at >= ?", storeID, code, now.UTC()).
		Count(&n).Error
	return n > 0, err
}

// CreateCode inserts a registration code.
func CreateCode(ctx context.Context, db *gorm.DB, rc *domain.RegistrationCode) error {
	if rc.ID == "" {
		rc.ID = uuid.NewString()
	}
	rc.ExpiresAt = rc.ExpiresAt.UTC()
	rc.CreatedAt = time.Now().UTC()
	return db.WithContext(ctx).Create(rc).Error
}

// ListActiveCodes returns a cast's unused, unexpired codes, newest first.
func ListActiveCodes(ctx context.Context, db *gorm.DB, storeID, castID string, now time.Time) ([]domain.RegistrationCode, error) {
	var out []domain.RegistrationCode
	err := db.WithContext(ctx).
		Where("store_id = ? AND cast_id = ? AND used_at IS NULL AND expires_at >= ?", storeID, castID, now.UTC()).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

// ConsumeCode marks a code used by customerID at at. The update is
// conditional on the code being unused and unexpired at at (expires_at is
// inclusive); it reports false when another redemption got there first or the
// code lapsed in between.
func ConsumeCode(ctx context.Context, db *gorm.DB, codeID, customerID string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Model(&domain.RegistrationCode{}).
		Where("id = ? AND used_at IS NULL AND expires_at >= ?", codeID, at.UTC()).
		Updates(map[string]any{"used_at": at.UTC(), "used_by_customer_id": customerID})
	return res.RowsAffected == 1, res.Error
}
