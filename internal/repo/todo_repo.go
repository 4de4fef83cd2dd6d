// Package repo – todos and generation rules.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/nightlife-crm/internal/domain"
)

// TodoFilter narrows ListTodosPage. Empty fields are ignored.
type TodoFilter struct {
	StoreID string
	CastID  string
	Status  domain.TodoStatus
}

func (f TodoFilter) apply(q *gorm.DB) *gorm.DB {
	q = q.Where("store_id = ?", f.StoreID)
	if f.CastID != "" {
		q = q.Where("cast_id = ?", f.CastID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	return q
}

// HasOpenTodo reports whether the customer already has a pending or
// in_progress todo of the given type.
func HasOpenTodo(ctx context.Context, db *gorm.DB, customerID string, typ domain.TodoType) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Todo{}).
		Where("customer_id = ? AND type = ? AND status IN ?", customerID, typ, domain.OpenTodoStatuses).
		Count(&n).Error
	return n > 0, err
}

// CreateTodo inserts a todo. Hitting the open-todo partial unique index
// returns ErrDuplicate.
func CreateTodo(ctx context.Context, db *gorm.DB, t *domain.Todo) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = domain.TodoPending
	}
	t.DueDate = t.DueDate.UTC()
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	return mapCreateErr(db.WithContext(ctx).Create(t).Error)
}

// GetTodo fetches a todo scoped to a store.
func GetTodo(ctx context.Context, db *gorm.DB, storeID, id string) (*domain.Todo, error) {
	var t domain.Todo
	if err := db.WithContext(ctx).First(&t, "id = ? AND store_id = ?", id, storeID).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// CountTodos returns the number of todos matching f.
func CountTodos(ctx context.Context, db *gorm.DB, f TodoFilter) (int64, error) {
	var n int64
	err := f.apply(db.WithContext(ctx).Model(&domain.Todo{})).Count(&n).Error
	return n, err
}

// ListTodosPage returns todos matching f, oldest due first.
func ListTodosPage(ctx context.Context, db *gorm.DB, f TodoFilter, offset, limit int) ([]domain.Todo, error) {
	var out []domain.Todo
	err := f.apply(db.WithContext(ctx).Model(&domain.Todo{})).
		Order("due_date ASC, id ASC").
		Offset(offset).Limit(limit).
		Find(&out).Error
	return out, err
}

// TransitionTodo moves a todo from one status to another. The update only
// applies if the row is still in from, so concurrent transitions cannot both
// win. It reports whether the row changed.
func TransitionTodo(ctx context.Context, db *gorm.DB, id string, from, to domain.TodoStatus, at time.Time) (bool, error) {
	updates := map[string]any{"status": to, "updated_at": time.Now().UTC()}
	if to == domain.TodoCompleted {
		updates["completed_at"] = at.UTC()
	}
	res := db.WithContext(ctx).Model(&domain.Todo{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

// ListEnabledRules returns a store's enabled generation rules.
func ListEnabledRules(ctx context.Context, db *gorm.DB, storeID string) ([]domain.TodoGenerationRule, error) {
	var out []domain.TodoGenerationRule
	err := db.WithContext(ctx).
		Where("store_id = ? AND is_enabled = ?", storeID, true).
		Order("rule_type ASC").
		Find(&out).Error
	return out, err
}

// UpsertRule inserts or updates a rule keyed by (store, rule type).
func UpsertRule(ctx context.Context, db *gorm.DB, r *domain.TodoGenerationRule) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	enabled := r.IsEnabled
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "store_id"}, {Name: "rule_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_enabled", "days_after_last_visit", "cron_schedule", "updated_at"}),
	}).Create(r).Error
	if err != nil || enabled {
		return err
	}
	// is_enabled has a column default, so gorm inserted true for false.
	r.IsEnabled = false
	return db.WithContext(ctx).Model(&domain.TodoGenerationRule{}).
		Where("store_id = ? AND rule_type = ?", r.StoreID, r.RuleType).
		Update("is_enabled", false).Error
}
