package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/nightlife-crm/internal/domain"
)

// LoginRequest is the JSON payload for staff login.
type LoginRequest struct {
	Email    string `json:"email"    binding:"required" example:"mika@club-aurora.jp"`
	Password string `json:"password" binding:"required" example:"s3cret-pass"`
}

// LoginResponse carries the access token and the staff member it is for.
type LoginResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type" example:"Bearer"`
	ExpiresAt   time.Time   `json:"expires_at"`
	User        domain.User `json:"user"`
}

// Login godoc
// @ID          login
// @Summary     Staff login
// @Description Exchanges email and password for a bearer token scoped to the staff member's store.
// @Tags        Auth
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.LoginRequest  true  "Credentials"
//
// @Success     200  {object}  handlers.LoginResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Invalid credentials"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /auth/login [post]
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "email and password required")
		return
	}
	tok, u, err := h.auth.Login(c.Request.Context(), strings.TrimSpace(req.Email), req.Password, h.now())
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, LoginResponse{
		AccessToken: tok.Token,
		TokenType:   "Bearer",
		ExpiresAt:   tok.ExpiresAt,
		User:        *u,
	})
}
