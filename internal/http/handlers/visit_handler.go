package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/tbourn/nightlife-crm/internal/domain"
	"github.com/tbourn/nightlife-crm/internal/services"
)

// RecordVisitRequest is the JSON payload for recording a visit. Omitted
// OccurredAt means now.
type RecordVisitRequest struct {
	OccurredAt     *time.Time             `json:"occurred_at,omitempty"     example:"2025-01-15T21:30:00+09:00"`
	ApproxSpend    *decimal.Decimal       `json:"approx_spend,omitempty"    swaggertype:"string" example:"35000"`
	NominationType *domain.NominationType `json:"nomination_type,omitempty" example:"main"`
	Memo           *string                `json:"memo,omitempty"            example:"誕生日の前祝い"`
}

// RecordVisit godoc
// @ID          recordVisit
// @Summary     Record a customer visit
// @Description Appends a visit and moves the customer's last visit forward. Casts may only
// @Description record visits for customers assigned to them.
// @Tags        Customers
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       id    path  string                       true  "Customer ID"  format(uuid)
// @Param       body  body  handlers.RecordVisitRequest  true  "Visit"
//
// @Success     201  {object} domain.Visit
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Customer not assigned to caller"
// @Failure     404  {object} handlers.ErrorResponse "Customer not found"
// @Router      /customers/{id}/visits [post]
func (h *Handlers) RecordVisit(c *gin.Context) {
	p, okP := principal(c)
	if !okP {
		return
	}
	var req RecordVisitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	in := services.VisitInput{
		ApproxSpend:    req.ApproxSpend,
		NominationType: req.NominationType,
		Memo:           req.Memo,
	}
	if req.OccurredAt != nil {
		in.OccurredAt = *req.OccurredAt
	}
	v, err := h.visits.Record(c.Request.Context(), p, c.Param("id"), in, h.now())
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusCreated, v)
}
