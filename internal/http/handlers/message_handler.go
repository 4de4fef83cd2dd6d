// Outbound message handlers.
//
//   - POST /messages/send   (guarded send; Idempotency-Key supported)
//   - POST /messages/draft  (render a template without sending)
//
// Idempotency:
// Every send that produced a message log (delivered, denied or failed) is
// recorded under (user, route, key). A retry with the same key replays the
// recorded outcome from the log and sets `Idempotency-Replayed: true`; LINE is
// not called again.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/nightlife-crm/internal/domain"
	"github.com/tbourn/nightlife-crm/internal/http/middleware"
	"github.com/tbourn/nightlife-crm/internal/repo"
	"github.com/tbourn/nightlife-crm/internal/services"
)

// SendMessageRequest is the JSON payload for sending a LINE message.
// Body may be empty when TemplateID is set.
type SendMessageRequest struct {
	CustomerID string  `json:"customer_id" binding:"required" example:"5f0c7a52-0f7e-4bb1-9d0e-0d6c3c1b7a10"`
	Body       string  `json:"body"                           example:"昨日はありがとうございました！"`
	TemplateID *string `json:"template_id,omitempty"`
	TodoID     *string `json:"todo_id,omitempty"`
}

// DraftMessageRequest is the JSON payload for rendering a template.
type DraftMessageRequest struct {
	CustomerID string `json:"customer_id" binding:"required"`
	TemplateID string `json:"template_id" binding:"required"`
}

// DraftMessageResponse carries the rendered body.
type DraftMessageResponse struct {
	Body string `json:"body" example:"ゆきさん、昨日はありがとうございました！ミカ"`
}

// SendMessage godoc
// @ID          sendMessage
// @Summary     Send a LINE message to a customer
// @Description Checks the sending guardrails (messaging status, store window, frequency limit),
// @Description pushes the message and records a message log. Denials are logged and answered
// @Description with the reason as code: 422 for blocked_or_unfollowed and outside_window,
// @Description 429 for frequency_limit.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.SendMessageRequest  true  "Message"
//
// @Success     200  {object}  services.SendResult
// @Failure     400  {object}  handlers.ErrorResponse   "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse   "Customer not assigned to caller"
// @Failure     404  {object}  handlers.ErrorResponse   "Customer or template not found"
// @Failure     409  {object}  handlers.ErrorResponse   "No active LINE channel"
// @Failure     422  {object}  handlers.DeniedResponse  "Denied by guardrail"
// @Failure     429  {object}  handlers.DeniedResponse  "Frequency limit"
// @Failure     502  {object}  handlers.ErrorResponse   "LINE delivery failed"
// @Router      /messages/send [post]
func (h *Handlers) SendMessage(c *gin.Context) {
	p, okP := principal(c)
	if !okP {
		return
	}
	ctx := c.Request.Context()

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "customer_id required")
		return
	}

	// Idempotency (replay path).
	idemKey, _ := middleware.GetIdempotencyKey(c)
	scope := middleware.IdempotencyScope(c)
	if idemKey != "" && h.db != nil {
		if rec, err := repo.GetIdempotency(ctx, h.db, p.UserID, scope, idemKey, h.now().UTC()); err == nil {
			if prev, err := repo.GetMessageLog(ctx, h.db, p.StoreID, rec.MessageLogID); err == nil {
				c.Header("Idempotency-Replayed", "true")
				h.replaySend(c, rec.Status, prev)
				return
			}
		}
	}

	in := services.SendInput{
		CustomerID: strings.TrimSpace(req.CustomerID),
		Body:       req.Body,
		TemplateID: req.TemplateID,
		TodoID:     req.TodoID,
	}
	res, err := h.send.Send(ctx, p, in, h.now())

	status := http.StatusOK
	var denied *services.DeniedError
	switch {
	case err == nil:
	case errors.As(err, &denied):
		status = deniedStatus(denied.Reason)
	case errors.Is(err, services.ErrDeliveryFailed) && res != nil:
		status = http.StatusBadGateway
	default:
		failService(c, err)
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" && h.db != nil && res != nil {
		_, _ = repo.CreateIdempotency(ctx, h.db, p.UserID, scope, idemKey, res.MessageLogID, status, h.idemTTL)
	}

	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// replaySend answers with the outcome recorded in a previous message log.
func (h *Handlers) replaySend(c *gin.Context, status int, l *domain.MessageLog) {
	switch l.Status {
	case domain.SendBlocked:
		reason := services.DenyReason("")
		if l.DenyReason != nil {
			reason = services.DenyReason(*l.DenyReason)
		}
		failDenied(c, &services.DeniedError{Reason: reason, MessageLogID: l.ID})
	case domain.SendFailed:
		fail(c, http.StatusBadGateway, ErrCodeDeliveryFailed, services.ErrDeliveryFailed.Error())
	default:
		if status == 0 {
			status = http.StatusOK
		}
		ok(c, status, services.SendResult{MessageLogID: l.ID, Status: l.Status})
	}
}

// DraftMessage godoc
// @ID          draftMessage
// @Summary     Render a message template for a customer
// @Description Substitutes {callName}, {castName}, {lastVisit} and {storeName}; unknown or
// @Description missing placeholders are left as-is.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.DraftMessageRequest  true  "Customer and template"
//
// @Success     200  {object}  handlers.DraftMessageResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Customer not assigned to caller"
// @Failure     404  {object}  handlers.ErrorResponse  "Customer or template not found"
// @Router      /messages/draft [post]
func (h *Handlers) DraftMessage(c *gin.Context) {
	p, okP := principal(c)
	if !okP {
		return
	}
	var req DraftMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "customer_id and template_id required")
		return
	}
	body, err := h.send.Draft(c.Request.Context(), p, req.CustomerID, req.TemplateID)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, DraftMessageResponse{Body: body})
}
