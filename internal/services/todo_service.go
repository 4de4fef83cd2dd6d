// Package services – TodoService
//
// TodoService exposes follow-up todos to staff. Casts only see and update
// their own todos; managers see the whole store. Status changes only move
// forward and terminal states are final.

package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/nightlife-crm/internal/domain"
	"github.com/tbourn/nightlife-crm/internal/repo"
	"github.com/tbourn/nightlife-crm/internal/utils"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// todoTransitions lists the statuses reachable from each non-terminal one.
var todoTransitions = map[domain.TodoStatus][]domain.TodoStatus{
	domain.TodoPending:    {domain.TodoInProgress, domain.TodoCompleted, domain.TodoSkipped},
	domain.TodoInProgress: {domain.TodoCompleted, domain.TodoSkipped},
}

// CanTransition reports whether a todo may move from one status to another.
func CanTransition(from, to domain.TodoStatus) bool {
	for _, s := range todoTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TodoService lists and updates todos.
type TodoService struct {
	DB *gorm.DB
}

// Filter returns the list filter p is allowed to use.
func (s *TodoService) Filter(p domain.Principal, status domain.TodoStatus) repo.TodoFilter {
	f := repo.TodoFilter{StoreID: p.StoreID, Status: status}
	if !p.IsManager() {
		f.CastID = p.UserID
	}
	return f
}

// ListPage returns todos visible to p, oldest due first, and the total count.
func (s *TodoService) ListPage(ctx context.Context, p domain.Principal, status domain.TodoStatus, page, pageSize int) ([]domain.Todo, int64, error) {
	tr := otel.Tracer("services/TodoService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("store.id", p.StoreID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if status != "" && !status.Valid() {
		return nil, 0, ErrInvalidStatus
	}
	page, pageSize = utils.ClampPage(page, pageSize)

	f := s.Filter(p, status)
	total, err := repo.CountTodos(ctx, s.DB, f)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Todo{}, 0, nil
	}
	items, err := repo.ListTodosPage(ctx, s.DB, f, utils.Offset(page, pageSize), pageSize)
	return items, total, err
}

// Stats returns the count and latest update time of todos visible to p,
// used for list ETags.
func (s *TodoService) Stats(ctx context.Context, p domain.Principal, status domain.TodoStatus) (int64, *time.Time, error) {
	return repo.TodosStats(ctx, s.DB, s.Filter(p, status))
}

// UpdateStatus moves a todo to status.
func (s *TodoService) UpdateStatus(ctx context.Context, p domain.Principal, id string, status domain.TodoStatus, now time.Time) (*domain.Todo, error) {
	tr := otel.Tracer("services/TodoService")
	ctx, span := tr.Start(ctx, "UpdateStatus",
		trace.WithAttributes(
			attribute.String("todo.id", id),
			attribute.String("status", string(status)),
		),
	)
	defer span.End()

	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	t, err := repo.GetTodo(ctx, s.DB, p.StoreID, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrTodoNotFound
		}
		return nil, err
	}
	if !p.IsManager() && t.CastID != p.UserID {
		return nil, ErrForbidden
	}
	if !CanTransition(t.Status, status) {
		return nil, ErrInvalidTransition
	}

	ok, err := repo.TransitionTodo(ctx, s.DB, t.ID, t.Status, status, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Someone else moved it first.
		return nil, ErrInvalidTransition
	}
	return repo.GetTodo(ctx, s.DB, p.StoreID, id)
}
