package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Domenick1991/airticket/internal/audit"
	"github.com/Domenick1991/airticket/internal/auth"
	"github.com/Domenick1991/airticket/internal/domain"
	"github.com/Domenick1991/airticket/internal/service/booking"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-jwt-secret-key-for-testing-purposes"

// MockBookingUseCase is a mock implementation of booking.BookingUseCase
type MockBookingUseCase struct {
	mock.Mock
}

func (m *MockBookingUseCase) Checkout(ctx context.Context, input booking.CheckoutInput) (*booking.CheckoutResult, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*booking.CheckoutResult), args.Error(1)
}

func (m *MockBookingUseCase) Get(ctx context.Context, id string, viewer booking.Viewer) (*domain.Booking, error) {
	args := m.Called(ctx, id, viewer)
	return bookingOrNil(args.Get(0)), args.Error(1)
}

func (m *MockBookingUseCase) List(ctx context.Context, viewer booking.Viewer, filter booking.ListFilter) ([]domain.Booking, error) {
	args := m.Called(ctx, viewer, filter)
	return args.Get(0).([]domain.Booking), args.Error(1)
}

func (m *MockBookingUseCase) VerifyPayment(ctx context.Context, id string, viewer booking.Viewer) (*domain.Booking, error) {
	args := m.Called(ctx, id, viewer)
	return bookingOrNil(args.Get(0)), args.Error(1)
}

func (m *MockBookingUseCase) RetryPaymentLink(ctx context.Context, id string, viewer booking.Viewer) (*booking.CheckoutResult, error) {
	args := m.Called(ctx, id, viewer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*booking.CheckoutResult), args.Error(1)
}

func (m *MockBookingUseCase) Cancel(ctx context.Context, id string, viewer booking.Viewer) (*domain.Booking, error) {
	args := m.Called(ctx, id, viewer)
	return bookingOrNil(args.Get(0)), args.Error(1)
}

func (m *MockBookingUseCase) Refund(ctx context.Context, id string, viewer booking.Viewer) (*domain.Booking, error) {
	args := m.Called(ctx, id, viewer)
	return bookingOrNil(args.Get(0)), args.Error(1)
}

func (m *MockBookingUseCase) NeedingAttention(ctx context.Context, limit int) ([]domain.Booking, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]domain.Booking), args.Error(1)
}

func (m *MockBookingUseCase) AuditTrail(ctx context.Context, id string) ([]audit.Entry, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]audit.Entry), args.Error(1)
}

func (m *MockBookingUseCase) ExpirePendingBookings(ctx context.Context) ([]domain.Booking, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.Booking), args.Error(1)
}

func (m *MockBookingUseCase) CompleteDepartedBookings(ctx context.Context) ([]domain.Booking, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.Booking), args.Error(1)
}

func bookingOrNil(v any) *domain.Booking {
	if v == nil {
		return nil
	}
	return v.(*domain.Booking)
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func pendingBooking() *domain.Booking {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	return &domain.Booking{
		ID:            "bk-1",
		Origin:        "JFK",
		Destination:   "LHR",
		DepartureDate: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		Adults:        1,
		CabinClass:    domain.CabinEconomy,
		OfferID:       "OFF123",
		AmountMinor:   50000,
		Currency:      "USD",
		Contact:       domain.Contact{Email: "ada@example.com"},
		PaymentRef:    "ord_1",
		CheckoutURL:   "https://pay.example/ord_1",
		Status:        domain.BookingStatusPending,
		ExpiresAt:     now.Add(30 * time.Minute),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func newTestContext(method, target string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, target, bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	return c, w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

const checkoutBody = `{
	"origin": "JFK", "destination": "LHR", "departure_date": "2026-07-01",
	"adults": 1, "offer_id": "OFF123", "amount": 50000, "currency": "USD",
	"passengers": [{"type": "adult", "first_name": "Ada", "last_name": "Lovelace", "birth_date": "1990-01-01"}],
	"contact": {"email": "ada@example.com"}
}`

// checkoutBodyWith returns checkoutBody with top-level fields overridden.
func checkoutBodyWith(t *testing.T, overrides map[string]any) []byte {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(checkoutBody), &body))
	for k, v := range overrides {
		body[k] = v
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return raw
}

func TestBookingHandler_checkout(t *testing.T) {
	mockService := &MockBookingUseCase{}
	handler := NewBookingHandler(mockService)

	c, w := newTestContext(http.MethodPost, "/api/v1/bookings", []byte(checkoutBody))

	b := pendingBooking()
	mockService.On("Checkout", mock.Anything, mock.MatchedBy(func(in booking.CheckoutInput) bool {
		return in.OfferID == "OFF123" && in.AmountMinor == 50000 &&
			in.DepartureDate.Equal(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)) &&
			len(in.Passengers) == 1 && in.Viewer == booking.Viewer{}
	})).Return(&booking.CheckoutResult{
		Booking:     b,
		CheckoutURL: b.CheckoutURL,
		PaymentRef:  b.PaymentRef,
		LockedPrice: decimal.New(50000, -2),
		ExpiresAt:   b.ExpiresAt,
	}, nil)

	handler.checkout(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	var response checkoutResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "bk-1", response.BookingID)
	assert.Equal(t, "https://pay.example/ord_1", response.CheckoutURL)
	assert.Equal(t, "ord_1", response.PaymentRef)
	assert.Equal(t, "500", response.LockedPrice)
	assert.Equal(t, "2026-06-01T12:30:00Z", response.ExpiresAt)
	mockService.AssertExpectations(t)
}

func TestBookingHandler_checkout_BadDate(t *testing.T) {
	mockService := &MockBookingUseCase{}
	handler := NewBookingHandler(mockService)
	c, w := newTestContext(http.MethodPost, "/api/v1/bookings", []byte(`{"departure_date":"01/07/2026"}`))

	handler.checkout(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, domain.KindValidation, resp.Kind)
	mockService.AssertNotCalled(t, "Checkout", mock.Anything, mock.Anything)
}

func TestBookingHandler_checkout_RequestShape(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]any
		wantField string
	}{
		{name: "lowercase origin", overrides: map[string]any{"origin": "jfk"}, wantField: "Origin"},
		{name: "origin too long", overrides: map[string]any{"origin": "JFKX"}, wantField: "Origin"},
		{name: "same origin and destination", overrides: map[string]any{"destination": "JFK"}, wantField: "Destination"},
		{name: "missing departure", overrides: map[string]any{"departure_date": ""}, wantField: "DepartureDate"},
		{name: "no adults", overrides: map[string]any{"adults": 0}, wantField: "Adults"},
		{name: "more infants than adults", overrides: map[string]any{"infants": 2}, wantField: "Infants"},
		{name: "unknown cabin", overrides: map[string]any{"cabin_class": "suite"}, wantField: "CabinClass"},
		{name: "missing offer", overrides: map[string]any{"offer_id": ""}, wantField: "OfferID"},
		{name: "bad currency", overrides: map[string]any{"currency": "US"}, wantField: "Currency"},
		{name: "bad email", overrides: map[string]any{"contact": map[string]any{"email": "not-an-address"}}, wantField: "Email"},
		{name: "no passengers", overrides: map[string]any{"passengers": []any{}}, wantField: "Passengers"},
		{
			name: "unknown passenger type",
			overrides: map[string]any{"passengers": []any{
				map[string]any{"type": "senior", "first_name": "Ada", "last_name": "Lovelace", "birth_date": "1950-01-01"},
			}},
			wantField: "Type",
		},
		{
			name: "passenger without surname",
			overrides: map[string]any{"passengers": []any{
				map[string]any{"type": "adult", "first_name": "Ada", "birth_date": "1990-01-01"},
			}},
			wantField: "LastName",
		},
		{
			name: "bad document country",
			overrides: map[string]any{"passengers": []any{
				map[string]any{"type": "adult", "first_name": "Ada", "last_name": "Lovelace", "birth_date": "1990-01-01",
					"document": map[string]any{"type": "passport", "number": "X1", "issuing_country": "GBR"}},
			}},
			wantField: "IssuingCountry",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := &MockBookingUseCase{}
			handler := NewBookingHandler(mockService)
			c, w := newTestContext(http.MethodPost, "/api/v1/bookings", checkoutBodyWith(t, tt.overrides))

			handler.checkout(c)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, domain.KindValidation, resp.Kind)
			assert.Contains(t, resp.Error, "'"+tt.wantField+"'")
			mockService.AssertNotCalled(t, "Checkout", mock.Anything, mock.Anything)
		})
	}
}

func TestBookingHandler_checkout_MalformedJSON(t *testing.T) {
	handler := NewBookingHandler(&MockBookingUseCase{})
	c, w := newTestContext(http.MethodPost, "/api/v1/bookings", []byte(`{`))

	handler.checkout(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBookingHandler_checkout_Errors(t *testing.T) {
	tests := []struct {
		name       string
		result     *booking.CheckoutResult
		err        error
		wantStatus int
		wantKind   domain.ErrorKind
		wantID     string
	}{
		{
			name:       "price changed",
			err:        &domain.InvalidOfferError{OfferID: "OFF123", Reason: domain.OfferReasonAmountMismatch, Quoted: 51000, Claimed: 50000},
			wantStatus: http.StatusUnprocessableEntity,
			wantKind:   domain.KindInvalidOffer,
		},
		{
			name:       "payment provider down after booking stored",
			result:     &booking.CheckoutResult{Booking: pendingBooking()},
			err:        &domain.ExternalProviderError{Provider: "payment", Message: "unavailable", StatusCode: 503},
			wantStatus: http.StatusBadGateway,
			wantKind:   domain.KindExternalProvider,
			wantID:     "bk-1",
		},
		{
			name:       "validation",
			err:        &domain.ValidationError{Field: "adults", Message: "at least one adult is required"},
			wantStatus: http.StatusBadRequest,
			wantKind:   domain.KindValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := &MockBookingUseCase{}
			handler := NewBookingHandler(mockService)
			c, w := newTestContext(http.MethodPost, "/api/v1/bookings", []byte(checkoutBody))
			mockService.On("Checkout", mock.Anything, mock.Anything).Return(tt.result, tt.err)

			handler.checkout(c)

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, tt.wantKind, resp.Kind)
			assert.Equal(t, tt.wantID, resp.BookingID)
		})
	}
}

func TestBookingHandler_get(t *testing.T) {
	mockService := &MockBookingUseCase{}
	handler := NewBookingHandler(mockService)
	c, w := newTestContext(http.MethodGet, "/api/v1/bookings/bk-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "bk-1"}}

	b := pendingBooking()
	b.Status = domain.BookingStatusPaid
	b.ErrorMessage = "ticket issuance failed: timeout"
	mockService.On("Get", mock.Anything, "bk-1", booking.Viewer{}).Return(b, nil)

	handler.get(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var response bookingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "paid", response.Status)
	assert.Equal(t, "payment received, ticket pending", response.StatusText)
	assert.Equal(t, "500", response.Price)
	assert.Equal(t, "2026-07-01", response.DepartureDate)
	assert.Equal(t, "ticket issuance failed: timeout", response.ErrorMessage)
	assert.Empty(t, response.TicketRef)
}

func TestBookingHandler_get_Errors(t *testing.T) {
	tests := map[string]struct {
		err  error
		code int
	}{
		"not found": {domain.ErrNotFound, http.StatusNotFound},
		"forbidden": {domain.ErrForbidden, http.StatusForbidden},
		"internal":  {assert.AnError, http.StatusInternalServerError},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			mockService := &MockBookingUseCase{}
			handler := NewBookingHandler(mockService)
			c, w := newTestContext(http.MethodGet, "/api/v1/bookings/bk-1", nil)
			c.Params = gin.Params{{Key: "id", Value: "bk-1"}}
			mockService.On("Get", mock.Anything, "bk-1", mock.Anything).Return(nil, tt.err)

			handler.get(c)

			assert.Equal(t, tt.code, w.Code)
			if tt.code == http.StatusInternalServerError {
				assert.Equal(t, "internal error", decodeError(t, w).Error)
			}
		})
	}
}

func TestBookingHandler_verifyPayment(t *testing.T) {
	mockService := &MockBookingUseCase{}
	handler := NewBookingHandler(mockService)
	c, w := newTestContext(http.MethodPost, "/api/v1/bookings/bk-1/verify-payment", nil)
	c.Params = gin.Params{{Key: "id", Value: "bk-1"}}

	b := pendingBooking()
	b.Status = domain.BookingStatusConfirmed
	b.TicketRef = "TKT-1"
	mockService.On("VerifyPayment", mock.Anything, "bk-1", booking.Viewer{}).Return(b, nil)

	handler.verifyPayment(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var response bookingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "confirmed", response.Status)
	assert.Equal(t, "TKT-1", response.TicketRef)
}

func TestBookingHandler_cancel_Conflict(t *testing.T) {
	mockService := &MockBookingUseCase{}
	handler := NewBookingHandler(mockService)
	c, w := newTestContext(http.MethodDelete, "/api/v1/bookings/bk-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "bk-1"}}
	mockService.On("Cancel", mock.Anything, "bk-1", mock.Anything).Return(nil, domain.ErrConflict)

	handler.cancel(c)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, domain.KindConflict, decodeError(t, w).Kind)
}

func TestRouter_AuthScoping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	verifier := auth.NewVerifier(testSecret, "airticket-auth")
	mockService := &MockBookingUseCase{}
	router := NewRouter(RouterConfig{
		Bookings: mockService,
		Webhooks: &MockWebhookProcessor{},
		Verifier: verifier,
		Log:      quietLogger(),
	})

	userToken, err := verifier.Sign("user-1", "ada@example.com", []string{"user"}, time.Hour)
	require.NoError(t, err)
	adminToken, err := verifier.Sign("ops-1", "ops@example.com", []string{auth.RoleAdmin}, time.Hour)
	require.NoError(t, err)

	mockService.On("List", mock.Anything, booking.Viewer{UserID: "user-1", Email: "ada@example.com"}, booking.ListFilter{Status: "paid", Limit: 10}).
		Return([]domain.Booking{*pendingBooking()}, nil)
	mockService.On("NeedingAttention", mock.Anything, 0).Return([]domain.Booking{}, nil)

	do := func(method, path, token string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(method, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		router.ServeHTTP(w, req)
		return w
	}

	w := do(http.MethodGet, "/api/v1/bookings?status=paid&limit=10", userToken)
	assert.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Bookings []bookingResponse `json:"bookings"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	assert.Len(t, listed.Bookings, 1)

	assert.Equal(t, http.StatusBadRequest, do(http.MethodGet, "/api/v1/bookings?limit=ten", userToken).Code)
	assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/api/v1/bookings", "forged").Code)
	assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/api/v1/admin/bookings/attention", "").Code)
	assert.Equal(t, http.StatusForbidden, do(http.MethodGet, "/api/v1/admin/bookings/attention", userToken).Code)
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/api/v1/admin/bookings/attention", adminToken).Code)
}

func TestAdminHandler_refund(t *testing.T) {
	mockService := &MockBookingUseCase{}
	handler := NewAdminHandler(mockService)
	c, w := newTestContext(http.MethodPost, "/api/v1/admin/bookings/bk-1/refund", nil)
	c.Params = gin.Params{{Key: "id", Value: "bk-1"}}
	c.Set("auth.claims", &auth.Claims{UserID: "ops-1", Roles: []string{auth.RoleAdmin}})

	b := pendingBooking()
	b.Status = domain.BookingStatusRefunded
	mockService.On("Refund", mock.Anything, "bk-1", booking.Viewer{UserID: "ops-1", Admin: true}).Return(b, nil)

	handler.refund(c)

	assert.Equal(t, http.StatusOK, w.Code)
	mockService.AssertExpectations(t)
}

func TestAdminHandler_auditTrail(t *testing.T) {
	mockService := &MockBookingUseCase{}
	handler := NewAdminHandler(mockService)
	c, w := newTestContext(http.MethodGet, "/api/v1/admin/bookings/bk-1/audit", nil)
	c.Params = gin.Params{{Key: "id", Value: "bk-1"}}
	mockService.On("AuditTrail", mock.Anything, "bk-1").Return(nil, nil)

	handler.auditTrail(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"entries":[]}`, w.Body.String())
}
