package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/nightlife-crm/internal/services"
)

// RunGeneration godoc
// @ID          runGeneration
// @Summary     Run todo generation for the caller's store now
// @Description Runs the scheduler's rules for the manager's own store only. Other stores
// @Description are neither run nor reported. Rule failures are listed per rule; the call
// @Description fails when the store's rules could not load or every rule failed.
// @Tags        Admin
// @Produce     json
// @Security    BearerAuth
//
// @Success     200  {object} services.StoreResult
// @Failure     403  {object} handlers.ErrorResponse "Manager role required"
// @Failure     404  {object} handlers.ErrorResponse "Store not found"
// @Failure     409  {object} handlers.ErrorResponse "Generation is already running"
// @Failure     500  {object} handlers.ErrorResponse "Generation failed for the store"
// @Router      /admin/generation/run [post]
func (h *Handlers) RunGeneration(c *gin.Context) {
	p, okP := principal(c)
	if !okP {
		return
	}
	res, err := h.generator.RunStore(c.Request.Context(), p.StoreID, h.now())
	if err != nil {
		if errors.Is(err, services.ErrStoreGenerationFailed) {
			fail(c, http.StatusInternalServerError, ErrCodeGenerationFailed, err.Error())
			return
		}
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}
