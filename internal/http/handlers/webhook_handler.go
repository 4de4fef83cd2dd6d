package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/nightlife-crm/internal/http/middleware"
	"github.com/tbourn/nightlife-crm/internal/services"
)

// HeaderLineSignature carries the base64 HMAC-SHA256 of the webhook body.
const HeaderLineSignature = "X-Line-Signature"

// WebhookAck is the body returned for an accepted webhook delivery.
type WebhookAck struct {
	Status string `json:"status" example:"ok"`
}

// LineWebhook godoc
// @ID          lineWebhook
// @Summary     Receive LINE webhook events
// @Description Verifies the X-Line-Signature of the raw body against the channel secret of the
// @Description destination bot, then processes follow/unfollow, registration codes and messages.
// @Description Per-event failures are logged and do not fail the delivery.
// @Tags        Webhook
// @Accept      json
// @Produce     json
//
// @Param       X-Line-Signature  header  string  true  "Base64 HMAC-SHA256 of the body"
//
// @Success     200  {object}  handlers.WebhookAck
// @Failure     400  {object}  handlers.ErrorResponse  "Malformed payload"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or invalid signature"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown destination"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /webhook/line [post]
func (h *Handlers) LineWebhook(c *gin.Context) {
	sig := strings.TrimSpace(c.GetHeader(HeaderLineSignature))
	if sig == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing "+HeaderLineSignature)
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable body")
		return
	}

	rep, err := h.webhook.HandleWebhook(c.Request.Context(), body, sig, h.now())
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidSignature):
			fail(c, http.StatusUnauthorized, ErrCodeInvalidSignature, "signature mismatch")
		case errors.Is(err, services.ErrChannelNotConfigured):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "unknown destination")
		default:
			failService(c, err)
		}
		return
	}

	middleware.LoggerFrom(c).Info().
		Str("store_id", rep.StoreID).
		Int("processed", rep.Processed).
		Int("redeemed", rep.Redeemed).
		Int("stored", rep.Stored).
		Int("failed", rep.Failed).
		Msg("webhook handled")
	ok(c, http.StatusOK, WebhookAck{Status: "ok"})
}
