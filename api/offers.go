package api

import (
	"context"
	"net/http"
	"time"

	"github.com/Domenick1991/airticket/internal/domain"
	"github.com/Domenick1991/airticket/internal/service/pricing"
	"github.com/gin-gonic/gin"
)

type Quoter interface {
	Quote(ctx context.Context, offerID string) (*domain.Quote, error)
}

// OfferHandler lets clients re-price an offer before checkout.
type OfferHandler struct {
	quoter Quoter
}

type quoteResponse struct {
	OfferID   string `json:"offer_id"`
	Amount    int64  `json:"amount"`
	Price     string `json:"price"`
	Currency  string `json:"currency"`
	Available bool   `json:"available"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

func NewOfferHandler(quoter Quoter) *OfferHandler {
	return &OfferHandler{quoter: quoter}
}

func (h *OfferHandler) Register(router *gin.RouterGroup) {
	router.GET("/:id/quote", h.quote)
}

func (h *OfferHandler) quote(c *gin.Context) {
	quote, err := h.quoter.Quote(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	resp := quoteResponse{
		OfferID:   quote.OfferID,
		Amount:    quote.AmountMinor,
		Price:     pricing.MajorUnits(quote.AmountMinor, quote.Currency).String(),
		Currency:  quote.Currency,
		Available: quote.Available,
	}
	if !quote.ExpiresAt.IsZero() {
		resp.ExpiresAt = quote.ExpiresAt.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}
