package api

import (
	"net/http"

	"github.com/Domenick1991/airticket/internal/audit"
	"github.com/Domenick1991/airticket/internal/service/booking"
	"github.com/gin-gonic/gin"
)

type AdminHandler struct {
	service booking.BookingUseCase
}

func NewAdminHandler(service booking.BookingUseCase) *AdminHandler {
	return &AdminHandler{service: service}
}

// Register expects the group to be guarded by the admin role.
func (h *AdminHandler) Register(router *gin.RouterGroup) {
	router.GET("/bookings/attention", h.attention)
	router.POST("/bookings/:id/refund", h.refund)
	router.GET("/bookings/:id/audit", h.auditTrail)
}

func (h *AdminHandler) attention(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		badRequest(c, "limit must be a number")
		return
	}
	bookings, err := h.service.NeedingAttention(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": newBookingResponses(bookings)})
}

func (h *AdminHandler) refund(c *gin.Context) {
	b, err := h.service.Refund(c.Request.Context(), c.Param("id"), viewerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newBookingResponse(b))
}

func (h *AdminHandler) auditTrail(c *gin.Context) {
	entries, err := h.service.AuditTrail(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
