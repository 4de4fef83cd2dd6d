// Package repo – customers and visits.
//
// All timestamps are written and compared in UTC so that range predicates
// behave the same on SQLite (text timestamps) and PostgreSQL.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/nightlife-crm/internal/domain"
)

// GetCustomer fetches a customer scoped to a store.
func GetCustomer(ctx context.Context, db *gorm.DB, storeID, id string) (*domain.Customer, error) {
	var c domain.Customer
	if err := db.WithContext(ctx).First(&c, "id = ? AND store_id = ?", id, storeID).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// FindCustomerByLineUser looks up a customer by its (store, LINE user) key.
func FindCustomerByLineUser(ctx context.Context, db *gorm.DB, storeID, lineUserID string) (*domain.Customer, error) {
	var c domain.Customer
	err := db.WithContext(ctx).
		Where("store_id = ? AND line_user_id = ?", storeID, lineUserID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateCustomer inserts a customer, assigning an ID when empty. A second
// customer for the same (store, LINE user) yields ErrDuplicate.
func CreateCustomer(ctx context.Context, db *gorm.DB, c *domain.Customer) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.MessagingStatus == "" {
		c.MessagingStatus = domain.StatusActive
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	return mapCreateErr(db.WithContext(ctx).Create(c).Error)
}

// AssignCustomerCast points a customer at a cast.
func AssignCustomerCast(ctx context.Context, db *gorm.DB, customerID, castID string) error {
	res := db.WithContext(ctx).Model(&domain.Customer{}).
		Where("id = ?", customerID).
		Updates(map[string]any{"assigned_cast_id": castID, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetCustomerStatusByLineUser updates the messaging status of the customer
// with the given LINE identity. It reports whether a customer was updated.
func SetCustomerStatusByLineUser(ctx context.Context, db *gorm.DB, storeID, lineUserID string, st domain.MessagingStatus) (bool, error) {
	res := db.WithContext(ctx).Model(&domain.Customer{}).
		Where("store_id = ? AND line_user_id = ?", storeID, lineUserID).
		Updates(map[string]any{"messaging_status": st, "updated_at": time.Now().UTC()})
	return res.RowsAffected > 0, res.Error
}

// TouchLastMessageSent records a successful outbound message at sentAt.
func TouchLastMessageSent(ctx context.Context, db *gorm.DB, customerID string, sentAt time.Time) error {
	return db.WithContext(ctx).Model(&domain.Customer{}).
		Where("id = ?", customerID).
		Updates(map[string]any{"last_message_sent_at": sentAt.UTC(), "updated_at": time.Now().UTC()}).Error
}

// ListFollowUpCandidates returns active customers of a store that have an
// assigned cast and whose last visit falls in [from, to).
func ListFollowUpCandidates(ctx context.Context, db *gorm.DB, storeID string, from, to time.Time) ([]domain.Customer, error) {
	var out []domain.Customer
	err := db.WithContext(ctx).
		Where("store_id = ? AND messaging_status = ? AND assigned_cast_id IS NOT NULL", storeID, domain.StatusActive).
		Where("last_visit_at >= ? AND last_visit_at < ?", from.UTC(), to.UTC()).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// CreateVisit inserts an immutable visit and moves the customer's
// last_visit_at forward (never backwards).
func CreateVisit(ctx context.Context, db *gorm.DB, v *domain.Visit) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	v.OccurredAt = v.OccurredAt.UTC()
	v.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(v).Error; err != nil {
		return err
	}
	return db.WithContext(ctx).Model(&domain.Customer{}).
		Where("id = ? AND (last_visit_at IS NULL OR last_visit_at < ?)", v.CustomerID, v.OccurredAt).
		Updates(map[string]any{"last_visit_at": v.OccurredAt, "updated_at": time.Now().UTC()}).Error
}
