package api

import (
	"context"
	"io"
	"net/http"

	"github.com/Domenick1991/airticket/internal/domain"
	"github.com/Domenick1991/airticket/internal/provider"
	"github.com/Domenick1991/airticket/internal/service/reconcile"
	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 1 << 20

type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, body []byte, signature string) (*reconcile.Outcome, error)
}

type WebhookHandler struct {
	processor WebhookProcessor
}

func NewWebhookHandler(processor WebhookProcessor) *WebhookHandler {
	return &WebhookHandler{processor: processor}
}

func (h *WebhookHandler) Register(router *gin.RouterGroup) {
	router.POST("/payments", h.payment)
}

// payment acknowledges only after reconciliation has finished. Any non-2xx
// answer makes the provider redeliver, which is safe.
func (h *WebhookHandler) payment(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		respondError(c, &domain.ValidationError{Field: "body", Message: "unreadable or too large"})
		return
	}

	outcome, err := h.processor.HandleWebhook(c.Request.Context(), body, c.GetHeader(provider.SignatureHeader))
	if err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{"received": true, "duplicate": outcome.Duplicate}
	if outcome.Booking != nil {
		resp["booking_status"] = outcome.Booking.Status
	}
	c.JSON(http.StatusOK, resp)
}
