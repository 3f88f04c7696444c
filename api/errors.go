package api

import (
	"errors"
	"net/http"

	"github.com/Domenick1991/airticket/internal/domain"
	"github.com/gin-gonic/gin"
)

var kindStatus = map[domain.ErrorKind]int{
	domain.KindValidation:       http.StatusBadRequest,
	domain.KindInvalidOffer:     http.StatusUnprocessableEntity,
	domain.KindExternalProvider: http.StatusBadGateway,
	domain.KindNotFound:         http.StatusNotFound,
	domain.KindConflict:         http.StatusConflict,
	domain.KindAuthenticity:     http.StatusUnauthorized,
	domain.KindForbidden:        http.StatusForbidden,
	domain.KindInternal:         http.StatusInternalServerError,
}

type errorResponse struct {
	Error     string            `json:"error"`
	Kind      domain.ErrorKind  `json:"kind"`
	BookingID string            `json:"booking_id,omitempty"`
	Offer     *offerErrorDetail `json:"offer,omitempty"`
}

type offerErrorDetail struct {
	Reason  string `json:"reason"`
	Quoted  int64  `json:"quoted_amount,omitempty"`
	Claimed int64  `json:"claimed_amount,omitempty"`
}

func statusFor(kind domain.ErrorKind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// newErrorResponse never exposes the text of an internal error.
func newErrorResponse(err error) (int, errorResponse) {
	kind := domain.KindOf(err)
	resp := errorResponse{Error: err.Error(), Kind: kind}
	if kind == domain.KindInternal {
		resp.Error = "internal error"
	}

	var offerErr *domain.InvalidOfferError
	if errors.As(err, &offerErr) {
		resp.Offer = &offerErrorDetail{Reason: offerErr.Reason, Quoted: offerErr.Quoted, Claimed: offerErr.Claimed}
	}
	return statusFor(kind), resp
}

func respondError(c *gin.Context, err error) {
	status, resp := newErrorResponse(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, resp)
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: message, Kind: domain.KindValidation})
}
