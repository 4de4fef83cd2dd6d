package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/nightlife-crm/internal/domain"
)

// ListTodosResponse wraps a page of todos and pagination information.
type ListTodosResponse struct {
	Todos      []domain.Todo `json:"todos"`
	Pagination Pagination    `json:"pagination"`
}

// UpdateTodoRequest is the JSON payload for a status transition.
type UpdateTodoRequest struct {
	Status domain.TodoStatus `json:"status" binding:"required" example:"completed"`
}

// ListTodos godoc
// @ID          listTodos
// @Summary     List follow-up todos (paginated)
// @Description Casts see their own todos, managers the whole store. Oldest due first.
// @Description Supports weak ETag via If-None-Match and may return 304.
// @Tags        Todos
// @Produce     json
// @Security    BearerAuth
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       status         query   string  false "Filter by status"  Enums(pending, in_progress, completed, skipped)
// @Param       page           query   int     false "Page number"       minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"    minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListTodosResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /todos [get]
func (h *Handlers) ListTodos(c *gin.Context) {
	p, okP := principal(c)
	if !okP {
		return
	}
	ctx := c.Request.Context()
	status := domain.TodoStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown status")
		return
	}
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if count, maxTS, err := h.todos.Stats(ctx, p, status); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixNano()
		}
		etag := fmt.Sprintf(`W/"todos:%s:%s:%s:%d:%d"`, p.StoreID, p.UserID, status, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.todos.ListPage(ctx, p, status, page, pageSize)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, ListTodosResponse{Todos: items, Pagination: newPagination(page, pageSize, total)})
}

// UpdateTodo godoc
// @ID          updateTodo
// @Summary     Change a todo's status
// @Description Allowed: pending → in_progress|completed|skipped, in_progress → completed|skipped.
// @Description Completed and skipped are final.
// @Tags        Todos
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       id    path  string                      true  "Todo ID"  format(uuid)
// @Param       body  body  handlers.UpdateTodoRequest  true  "New status"
//
// @Success     200  {object} domain.Todo
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Not the caller's todo"
// @Failure     404  {object} handlers.ErrorResponse "Todo not found"
// @Failure     409  {object} handlers.ErrorResponse "Transition not allowed"
// @Router      /todos/{id} [patch]
func (h *Handlers) UpdateTodo(c *gin.Context) {
	p, okP := principal(c)
	if !okP {
		return
	}
	var req UpdateTodoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "status required")
		return
	}
	t, err := h.todos.UpdateStatus(c.Request.Context(), p, c.Param("id"), req.Status, h.now())
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, t)
}
