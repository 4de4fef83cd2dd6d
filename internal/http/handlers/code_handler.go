package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/nightlife-crm/internal/domain"
)

// IssueCodeRequest optionally sets the code's expiry. Omitted means the end
// of the current day.
type IssueCodeRequest struct {
	ExpiresAt *time.Time `json:"expires_at,omitempty" example:"2025-01-15T23:59:59+09:00"`
}

// ListCodesResponse lists live registration codes.
type ListCodesResponse struct {
	Codes []domain.RegistrationCode `json:"codes"`
}

// IssueCode godoc
// @ID          issueCode
// @Summary     Issue a registration code
// @Description Creates a one-time code the customer sends to the store's LINE account to be
// @Description linked to the calling staff member.
// @Tags        RegistrationCodes
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.IssueCodeRequest  false  "Expiry"
//
// @Success     201  {object} domain.RegistrationCode
// @Failure     400  {object} handlers.ErrorResponse "Expiry in the past"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /registration-codes [post]
func (h *Handlers) IssueCode(c *gin.Context) {
	p, okP := principal(c)
	if !okP {
		return
	}
	var req IssueCodeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}
	rc, err := h.codes.Issue(c.Request.Context(), p, req.ExpiresAt, h.now())
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusCreated, rc)
}

// ListActiveCodes godoc
// @ID          listActiveCodes
// @Summary     List live registration codes
// @Description Unused, unexpired codes issued by the caller.
// @Tags        RegistrationCodes
// @Produce     json
// @Security    BearerAuth
//
// @Success     200  {object} handlers.ListCodesResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /registration-codes/active [get]
func (h *Handlers) ListActiveCodes(c *gin.Context) {
	p, okP := principal(c)
	if !okP {
		return
	}
	codes, err := h.codes.ListActive(c.Request.Context(), p, h.now())
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, ListCodesResponse{Codes: codes})
}
