package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/Domenick1991/airticket/internal/auth"
	"github.com/Domenick1991/airticket/internal/domain"
	"github.com/Domenick1991/airticket/internal/service/booking"
	"github.com/Domenick1991/airticket/internal/service/pricing"
	"github.com/gin-gonic/gin"
)

const dateLayout = "2006-01-02"

type BookingHandler struct {
	service booking.BookingUseCase
}

// checkoutRequest carries the request-shape rules as binding tags. Rules that
// need the departure date or the caller identity stay in the booking service.
type checkoutRequest struct {
	Origin        string             `json:"origin" binding:"required,len=3,uppercase,alpha"`
	Destination   string             `json:"destination" binding:"required,len=3,uppercase,alpha,nefield=Origin"`
	DepartureDate string             `json:"departure_date" binding:"required,datetime=2006-01-02"`
	ReturnDate    string             `json:"return_date" binding:"omitempty,datetime=2006-01-02"`
	Adults        int                `json:"adults" binding:"min=1"`
	Children      int                `json:"children" binding:"min=0"`
	Infants       int                `json:"infants" binding:"min=0,ltefield=Adults"`
	CabinClass    string             `json:"cabin_class" binding:"omitempty,oneof=economy premium_economy business first"`
	OfferID       string             `json:"offer_id" binding:"required"`
	Offer         json.RawMessage    `json:"offer"`
	Amount        int64              `json:"amount" binding:"min=0"`
	Currency      string             `json:"currency" binding:"required,len=3,uppercase,alpha"`
	Passengers    []passengerRequest `json:"passengers" binding:"required,min=1,dive"`
	Contact       contactRequest     `json:"contact"`
}

type passengerRequest struct {
	Type      string          `json:"type" binding:"required,oneof=adult child infant"`
	FirstName string          `json:"first_name" binding:"required"`
	LastName  string          `json:"last_name" binding:"required"`
	BirthDate string          `json:"birth_date" binding:"required,datetime=2006-01-02"`
	Gender    string          `json:"gender"`
	Document  documentRequest `json:"document"`
}

type documentRequest struct {
	Type           string `json:"type" binding:"omitempty,oneof=passport national_id"`
	Number         string `json:"number"`
	IssuingCountry string `json:"issuing_country" binding:"omitempty,len=2,uppercase,alpha"`
	ExpiresOn      string `json:"expires_on" binding:"omitempty,datetime=2006-01-02"`
}

type contactRequest struct {
	Email string `json:"email" binding:"omitempty,email"`
	Phone string `json:"phone" binding:"omitempty,max=32"`
}

type checkoutResponse struct {
	BookingID   string `json:"booking_id"`
	Status      string `json:"status"`
	CheckoutURL string `json:"checkout_url"`
	PaymentRef  string `json:"payment_ref"`
	LockedPrice string `json:"locked_price"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	ExpiresAt   string `json:"expires_at"`
}

type bookingResponse struct {
	ID            string             `json:"id"`
	Status        string             `json:"status"`
	StatusText    string             `json:"status_text"`
	CancelReason  string             `json:"cancel_reason,omitempty"`
	Origin        string             `json:"origin"`
	Destination   string             `json:"destination"`
	DepartureDate string             `json:"departure_date"`
	ReturnDate    string             `json:"return_date,omitempty"`
	Adults        int                `json:"adults"`
	Children      int                `json:"children"`
	Infants       int                `json:"infants"`
	CabinClass    string             `json:"cabin_class"`
	OfferID       string             `json:"offer_id"`
	Amount        int64              `json:"amount"`
	Price         string             `json:"price"`
	Currency      string             `json:"currency"`
	Passengers    []domain.Passenger `json:"passengers"`
	Contact       domain.Contact     `json:"contact"`
	PaymentRef    string             `json:"payment_ref,omitempty"`
	CheckoutURL   string             `json:"checkout_url,omitempty"`
	TicketRef     string             `json:"ticket_ref,omitempty"`
	ErrorMessage  string             `json:"error_message,omitempty"`
	ExpiresAt     string             `json:"expires_at"`
	CreatedAt     string             `json:"created_at"`
	UpdatedAt     string             `json:"updated_at"`
	PaidAt        string             `json:"paid_at,omitempty"`
	CompletedAt   string             `json:"completed_at,omitempty"`
}

func NewBookingHandler(service booking.BookingUseCase) *BookingHandler {
	return &BookingHandler{service: service}
}

// Register mounts the customer routes. Auth middleware is applied by the
// caller; list additionally rejects anonymous callers.
func (h *BookingHandler) Register(router *gin.RouterGroup, checkoutMiddleware ...gin.HandlerFunc) {
	router.POST("", append(checkoutMiddleware, h.checkout)...)
	router.GET("", h.list)
	router.GET("/:id", h.get)
	router.POST("/:id/verify-payment", h.verifyPayment)
	router.POST("/:id/payment-link", h.retryPaymentLink)
	router.DELETE("/:id", h.cancel)
}

func (h *BookingHandler) checkout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	input, err := req.toInput()
	if err != nil {
		respondError(c, err)
		return
	}
	input.Viewer = viewerFrom(c)

	result, err := h.service.Checkout(c.Request.Context(), input)
	if err != nil {
		status, resp := newErrorResponse(err)
		if result != nil && result.Booking != nil {
			// the booking exists; the client retries the link for it
			resp.BookingID = result.Booking.ID
		}
		c.JSON(status, resp)
		return
	}

	c.JSON(http.StatusCreated, newCheckoutResponse(result))
}

func (h *BookingHandler) list(c *gin.Context) {
	filter := booking.ListFilter{Status: domain.BookingStatus(c.Query("status"))}
	var err error
	if filter.Limit, err = queryInt(c, "limit"); err != nil {
		badRequest(c, "limit must be a number")
		return
	}
	if filter.Offset, err = queryInt(c, "offset"); err != nil {
		badRequest(c, "offset must be a number")
		return
	}

	bookings, err := h.service.List(c.Request.Context(), viewerFrom(c), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": newBookingResponses(bookings)})
}

func (h *BookingHandler) get(c *gin.Context) {
	b, err := h.service.Get(c.Request.Context(), c.Param("id"), viewerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newBookingResponse(b))
}

func (h *BookingHandler) verifyPayment(c *gin.Context) {
	b, err := h.service.VerifyPayment(c.Request.Context(), c.Param("id"), viewerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newBookingResponse(b))
}

func (h *BookingHandler) retryPaymentLink(c *gin.Context) {
	result, err := h.service.RetryPaymentLink(c.Request.Context(), c.Param("id"), viewerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCheckoutResponse(result))
}

func (h *BookingHandler) cancel(c *gin.Context) {
	b, err := h.service.Cancel(c.Request.Context(), c.Param("id"), viewerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newBookingResponse(b))
}

func (r checkoutRequest) toInput() (booking.CheckoutInput, error) {
	input := booking.CheckoutInput{
		Origin:      r.Origin,
		Destination: r.Destination,
		Adults:      r.Adults,
		Children:    r.Children,
		Infants:     r.Infants,
		CabinClass:  domain.CabinClass(r.CabinClass),
		OfferID:     r.OfferID,
		Offer:       r.Offer,
		AmountMinor: r.Amount,
		Currency:    r.Currency,
		Passengers:  make([]domain.Passenger, 0, len(r.Passengers)),
		Contact:     domain.Contact{Email: r.Contact.Email, Phone: r.Contact.Phone},
	}
	for _, p := range r.Passengers {
		input.Passengers = append(input.Passengers, p.toDomain())
	}

	departure, err := time.Parse(dateLayout, r.DepartureDate)
	if err != nil {
		return input, &domain.ValidationError{Field: "departure_date", Message: "must be YYYY-MM-DD"}
	}
	input.DepartureDate = departure

	if r.ReturnDate != "" {
		ret, err := time.Parse(dateLayout, r.ReturnDate)
		if err != nil {
			return input, &domain.ValidationError{Field: "return_date", Message: "must be YYYY-MM-DD"}
		}
		input.ReturnDate = &ret
	}
	return input, nil
}

func (p passengerRequest) toDomain() domain.Passenger {
	return domain.Passenger{
		Type:      domain.PassengerType(p.Type),
		FirstName: p.FirstName,
		LastName:  p.LastName,
		BirthDate: p.BirthDate,
		Gender:    p.Gender,
		Document: domain.Document{
			Type:           domain.DocumentType(p.Document.Type),
			Number:         p.Document.Number,
			IssuingCountry: p.Document.IssuingCountry,
			ExpiresOn:      p.Document.ExpiresOn,
		},
	}
}

func viewerFrom(c *gin.Context) booking.Viewer {
	claims, ok := auth.ClaimsFrom(c)
	if !ok {
		return booking.Viewer{}
	}
	return booking.Viewer{UserID: claims.UserID, Email: claims.Email, Admin: claims.HasRole(auth.RoleAdmin)}
}

func queryInt(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func newCheckoutResponse(r *booking.CheckoutResult) checkoutResponse {
	return checkoutResponse{
		BookingID:   r.Booking.ID,
		Status:      string(r.Booking.Status),
		CheckoutURL: r.CheckoutURL,
		PaymentRef:  r.PaymentRef,
		LockedPrice: r.LockedPrice.String(),
		Amount:      r.Booking.AmountMinor,
		Currency:    r.Booking.Currency,
		ExpiresAt:   r.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

func newBookingResponses(bookings []domain.Booking) []bookingResponse {
	out := make([]bookingResponse, 0, len(bookings))
	for i := range bookings {
		out = append(out, newBookingResponse(&bookings[i]))
	}
	return out
}

func newBookingResponse(b *domain.Booking) bookingResponse {
	resp := bookingResponse{
		ID:            b.ID,
		Status:        string(b.Status),
		StatusText:    b.Status.DisplayText(),
		CancelReason:  string(b.CancelReason),
		Origin:        b.Origin,
		Destination:   b.Destination,
		DepartureDate: formatDate(b.DepartureDate),
		Adults:        b.Adults,
		Children:      b.Children,
		Infants:       b.Infants,
		CabinClass:    string(b.CabinClass),
		OfferID:       b.OfferID,
		Amount:        b.AmountMinor,
		Price:         pricing.MajorUnits(b.AmountMinor, b.Currency).String(),
		Currency:      b.Currency,
		Passengers:    b.Passengers,
		Contact:       b.Contact,
		PaymentRef:    b.PaymentRef,
		CheckoutURL:   b.CheckoutURL,
		TicketRef:     b.TicketRef,
		ErrorMessage:  b.ErrorMessage,
		ExpiresAt:     formatTime(&b.ExpiresAt),
		CreatedAt:     formatTime(&b.CreatedAt),
		UpdatedAt:     formatTime(&b.UpdatedAt),
		PaidAt:        formatTime(b.PaidAt),
		CompletedAt:   formatTime(b.CompletedAt),
	}
	if b.ReturnDate != nil {
		resp.ReturnDate = formatDate(*b.ReturnDate)
	}
	if resp.Passengers == nil {
		resp.Passengers = []domain.Passenger{}
	}
	return resp
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
