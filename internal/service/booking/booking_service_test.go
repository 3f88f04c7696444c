package booking

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Domenick1991/airticket/internal/audit"
	"github.com/Domenick1991/airticket/internal/domain"
	"github.com/Domenick1991/airticket/internal/kafka"
	"github.com/Domenick1991/airticket/internal/repository"
	"github.com/Domenick1991/airticket/internal/service/payment"
	"github.com/Domenick1991/airticket/internal/service/pricing"
	"github.com/Domenick1991/airticket/internal/service/reconcile"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Mocks

type MockGate struct {
	mock.Mock
}

func (m *MockGate) Validate(ctx context.Context, claim pricing.Claim) (*domain.Quote, error) {
	args := m.Called(ctx, claim)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Quote), args.Error(1)
}

type MockLinkIssuer struct {
	mock.Mock
}

func (m *MockLinkIssuer) CreateLink(ctx context.Context, b *domain.Booking) (*payment.Link, error) {
	args := m.Called(ctx, b)
	if fn, ok := args.Get(0).(func(context.Context, *domain.Booking) *payment.Link); ok {
		return fn(ctx, b), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Link), args.Error(1)
}

type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) PollStatus(ctx context.Context, bookingID string) (*reconcile.Outcome, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reconcile.Outcome), args.Error(1)
}

func (m *MockReconciler) Reconcile(ctx context.Context, b *domain.Booking, source reconcile.Source) (*reconcile.Outcome, error) {
	args := m.Called(ctx, b.ID, source)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reconcile.Outcome), args.Error(1)
}

type MockAuditReader struct {
	mock.Mock
}

func (m *MockAuditReader) List(ctx context.Context, bookingID string) ([]audit.Entry, error) {
	args := m.Called(ctx, bookingID)
	return args.Get(0).([]audit.Entry), args.Error(1)
}

type recordingSink struct {
	mu     sync.Mutex
	events []kafka.BookingEvent
}

func (s *recordingSink) Notify(_ context.Context, e kafka.BookingEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) types() []kafka.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]kafka.EventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingAuditor struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *recordingAuditor) Record(_ context.Context, e audit.Entry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
}

// Fixture

type fixture struct {
	service    *BookingService
	repo       *repository.MemoryBookingRepository
	gate       *MockGate
	links      *MockLinkIssuer
	reconciler *MockReconciler
	sink       *recordingSink
	auditor    *recordingAuditor
	now        time.Time
}

func setup(t *testing.T, opts ...BookingServiceOption) *fixture {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	f := &fixture{
		repo:       repository.NewMemoryBookingRepository(),
		gate:       new(MockGate),
		links:      new(MockLinkIssuer),
		reconciler: new(MockReconciler),
		sink:       &recordingSink{},
		auditor:    &recordingAuditor{},
		now:        time.Now(),
	}
	opts = append([]BookingServiceOption{
		WithReconciler(f.reconciler),
		WithClock(func() time.Time { return f.now }),
	}, opts...)
	f.service = NewBookingService(f.repo, f.gate, f.links, f.sink, f.auditor, 30*time.Minute, log, opts...)
	return f
}

func checkoutInput() CheckoutInput {
	return CheckoutInput{
		Origin:        "JFK",
		Destination:   "LHR",
		DepartureDate: time.Now().AddDate(0, 1, 0),
		Adults:        1,
		CabinClass:    domain.CabinEconomy,
		OfferID:       "OFF123",
		AmountMinor:   50000,
		Currency:      "USD",
		Passengers: []domain.Passenger{{
			Type:      domain.PassengerAdult,
			FirstName: "Ada",
			LastName:  "Lovelace",
			BirthDate: "1990-01-01",
			Document: domain.Document{
				Type:           domain.DocumentPassport,
				Number:         "X1234567",
				IssuingCountry: "GB",
			},
		}},
		Contact: domain.Contact{Email: "ada@example.com", Phone: "+441234567"},
	}
}

func (f *fixture) acceptOffer() {
	f.gate.On("Validate", mock.Anything, pricing.Claim{OfferID: "OFF123", AmountMinor: 50000, Currency: "USD"}).
		Return(&domain.Quote{OfferID: "OFF123", AmountMinor: 50000, Currency: "USD", Available: true}, nil)
}

func (f *fixture) issueLinks() {
	f.links.On("CreateLink", mock.Anything, mock.AnythingOfType("*domain.Booking")).
		Return(func(_ context.Context, b *domain.Booking) *payment.Link {
			_, _ = f.repo.AttachPaymentReference(context.Background(), b.ID, "ord_"+b.ID, "https://pay.example/"+b.ID)
			return &payment.Link{URL: "https://pay.example/" + b.ID, PaymentRef: "ord_" + b.ID}
		}, nil)
}

// seed stores a booking directly in the given status.
func (f *fixture) seed(t *testing.T, ownerID string, status domain.BookingStatus) *domain.Booking {
	t.Helper()
	ctx := context.Background()
	b := &domain.Booking{
		OwnerID:       ownerID,
		OfferID:       "OFF123",
		AmountMinor:   50000,
		Currency:      "USD",
		DepartureDate: f.now.AddDate(0, 0, 7),
		ExpiresAt:     f.now.Add(30 * time.Minute),
		Contact:       domain.Contact{Email: "ada@example.com"},
	}
	require.NoError(t, f.repo.CreatePending(ctx, b))
	switch status {
	case domain.BookingStatusPaid:
		_, _, _ = f.repo.AdvanceToPaid(ctx, b.ID)
	case domain.BookingStatusConfirmed:
		_, _, _ = f.repo.AdvanceToPaid(ctx, b.ID)
		_, _ = f.repo.AttachTicketReference(ctx, b.ID, "TKT-"+b.ID)
	case domain.BookingStatusCancelled:
		_, _ = f.repo.Cancel(ctx, b.ID, domain.CancelReasonUser)
	}
	got, err := f.repo.Get(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, status, got.Status)
	return got
}

// Checkout

func TestBookingService_Checkout_Success(t *testing.T) {
	f := setup(t)
	f.acceptOffer()
	f.issueLinks()

	result, err := f.service.Checkout(context.Background(), checkoutInput())
	require.NoError(t, err)

	assert.NotEmpty(t, result.Booking.ID)
	assert.Equal(t, "https://pay.example/"+result.Booking.ID, result.CheckoutURL)
	assert.Equal(t, "ord_"+result.Booking.ID, result.PaymentRef)
	assert.Equal(t, "500.00", result.LockedPrice.StringFixed(2))
	assert.WithinDuration(t, f.now.Add(30*time.Minute), result.ExpiresAt, time.Second)

	stored, err := f.repo.Get(context.Background(), result.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusPending, stored.Status)
	assert.Equal(t, "JFK", stored.Origin)
	assert.Equal(t, "USD", stored.Currency)
	assert.Equal(t, domain.IdempotencyKeyFor(stored.ID), stored.IdempotencyKey)
	assert.Contains(t, f.sink.types(), kafka.EventBookingCreated)
	require.Len(t, f.auditor.entries, 1)
	assert.Equal(t, audit.ActionBookingCreated, f.auditor.entries[0].Action)
}

func TestBookingService_Checkout_LocksQuotedPrice(t *testing.T) {
	f := setup(t)
	f.gate.On("Validate", mock.Anything, mock.Anything).
		Return(&domain.Quote{OfferID: "OFF123", AmountMinor: 49990, Currency: "USD", Available: true}, nil)
	f.issueLinks()

	result, err := f.service.Checkout(context.Background(), checkoutInput())
	require.NoError(t, err)

	assert.Equal(t, int64(49990), result.Booking.AmountMinor)
	assert.Equal(t, "499.90", result.LockedPrice.StringFixed(2))
}

func TestBookingService_Checkout_ValidationErrors(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(in *CheckoutInput)
		field  string
	}{
		{"no departure", func(in *CheckoutInput) { in.DepartureDate = time.Time{} }, "departure_date"},
		{"no adults", func(in *CheckoutInput) { in.Adults = 0 }, "adults"},
		{"too many infants", func(in *CheckoutInput) { in.Infants = 2 }, "infants"},
		{"return before departure", func(in *CheckoutInput) {
			ret := in.DepartureDate.AddDate(0, 0, -1)
			in.ReturnDate = &ret
		}, "return_date"},
		{"missing email", func(in *CheckoutInput) { in.Contact.Email = "" }, "contact.email"},
		{"passenger count mismatch", func(in *CheckoutInput) { in.Children = 1 }, "passengers"},
		{"passenger without name", func(in *CheckoutInput) { in.Passengers[0].FirstName = "" }, "passengers.first_name"},
		{"adult too young on departure", func(in *CheckoutInput) { in.Passengers[0].BirthDate = in.DepartureDate.AddDate(-5, 0, 0).Format("2006-01-02") }, "passengers.type"},
		{"document expires before departure", func(in *CheckoutInput) {
			in.Passengers[0].Document.ExpiresOn = in.DepartureDate.AddDate(0, 0, -1).Format("2006-01-02")
		}, "passengers.document.expires_on"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := setup(t)
			in := checkoutInput()
			tc.modify(&in)

			result, err := f.service.Checkout(context.Background(), in)
			assert.Nil(t, result)
			var validation *domain.ValidationError
			require.ErrorAs(t, err, &validation)
			assert.Equal(t, tc.field, validation.Field)
			f.gate.AssertNotCalled(t, "Validate", mock.Anything, mock.Anything)
		})
	}
}

func TestBookingService_Checkout_ContactFromViewer(t *testing.T) {
	f := setup(t)
	f.acceptOffer()
	f.issueLinks()

	in := checkoutInput()
	in.Contact.Email = ""
	in.Viewer = Viewer{UserID: "user-1", Email: "user@example.com"}

	result, err := f.service.Checkout(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", result.Booking.Contact.Email)
	assert.Equal(t, "user-1", result.Booking.OwnerID)
}

func TestBookingService_Checkout_RejectedOfferStoresNothing(t *testing.T) {
	f := setup(t)
	f.gate.On("Validate", mock.Anything, mock.Anything).
		Return(nil, &domain.InvalidOfferError{OfferID: "OFF123", Reason: domain.OfferReasonAmountMismatch, Quoted: 51000, Claimed: 50000})

	result, err := f.service.Checkout(context.Background(), checkoutInput())
	assert.Nil(t, result)
	assert.Equal(t, domain.KindInvalidOffer, domain.KindOf(err))

	all, err := f.repo.List(context.Background(), repository.BookingFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
	f.links.AssertNotCalled(t, "CreateLink", mock.Anything, mock.Anything)
}

func TestBookingService_Checkout_LinkFailureKeepsBookingPending(t *testing.T) {
	f := setup(t)
	f.acceptOffer()
	f.links.On("CreateLink", mock.Anything, mock.Anything).
		Return(nil, &domain.ExternalProviderError{Provider: "payment", Message: "unavailable", StatusCode: 503}).Once()

	result, err := f.service.Checkout(context.Background(), checkoutInput())
	assert.Equal(t, domain.KindExternalProvider, domain.KindOf(err))
	require.NotNil(t, result)
	assert.Empty(t, result.CheckoutURL)

	stored, err := f.repo.Get(context.Background(), result.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusPending, stored.Status)
	assert.Empty(t, stored.PaymentRef)

	f.issueLinks()
	retried, err := f.service.RetryPaymentLink(context.Background(), stored.ID, Viewer{})
	require.NoError(t, err)
	assert.Equal(t, "ord_"+stored.ID, retried.PaymentRef)
}

// Read access

func TestBookingService_Get_Scoping(t *testing.T) {
	f := setup(t)
	owned := f.seed(t, "user-1", domain.BookingStatusPending)
	guest := f.seed(t, "", domain.BookingStatusPending)
	ctx := context.Background()

	_, err := f.service.Get(ctx, owned.ID, Viewer{UserID: "user-1"})
	assert.NoError(t, err)

	_, err = f.service.Get(ctx, owned.ID, Viewer{UserID: "user-2"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.service.Get(ctx, owned.ID, Viewer{})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.service.Get(ctx, owned.ID, Viewer{UserID: "ops", Admin: true})
	assert.NoError(t, err)

	_, err = f.service.Get(ctx, guest.ID, Viewer{})
	assert.NoError(t, err)

	_, err = f.service.Get(ctx, "missing", Viewer{Admin: true})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBookingService_List_Scoping(t *testing.T) {
	f := setup(t)
	f.seed(t, "user-1", domain.BookingStatusPending)
	f.seed(t, "user-1", domain.BookingStatusPaid)
	f.seed(t, "user-2", domain.BookingStatusPending)
	ctx := context.Background()

	own, err := f.service.List(ctx, Viewer{UserID: "user-1"}, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, own, 2)

	all, err := f.service.List(ctx, Viewer{UserID: "ops", Admin: true}, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	pending, err := f.service.List(ctx, Viewer{Admin: true}, ListFilter{Status: domain.BookingStatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	_, err = f.service.List(ctx, Viewer{}, ListFilter{})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.service.List(ctx, Viewer{UserID: "user-1"}, ListFilter{Status: "lost"})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestBookingService_VerifyPayment(t *testing.T) {
	f := setup(t)
	b := f.seed(t, "user-1", domain.BookingStatusPending)
	confirmed := *b
	confirmed.Status = domain.BookingStatusConfirmed
	f.reconciler.On("PollStatus", mock.Anything, b.ID).Return(&reconcile.Outcome{Booking: &confirmed}, nil).Once()

	got, err := f.service.VerifyPayment(context.Background(), b.ID, Viewer{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusConfirmed, got.Status)

	_, err = f.service.VerifyPayment(context.Background(), b.ID, Viewer{UserID: "user-2"})
	assert.ErrorIs(t, err, domain.ErrForbidden)
	f.reconciler.AssertNumberOfCalls(t, "PollStatus", 1)
}

// Cancel and refund

func TestBookingService_Cancel_Success(t *testing.T) {
	f := setup(t)
	b := f.seed(t, "user-1", domain.BookingStatusPending)

	got, err := f.service.Cancel(context.Background(), b.ID, Viewer{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusCancelled, got.Status)
	assert.Equal(t, domain.CancelReasonUser, got.CancelReason)
	assert.Contains(t, f.sink.types(), kafka.EventBookingCancelled)
}

func TestBookingService_Cancel_AlreadyCancelled(t *testing.T) {
	f := setup(t)
	b := f.seed(t, "user-1", domain.BookingStatusCancelled)

	got, err := f.service.Cancel(context.Background(), b.ID, Viewer{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusCancelled, got.Status)
	assert.Empty(t, f.sink.types())
}

func TestBookingService_Cancel_PaidIsConflict(t *testing.T) {
	f := setup(t)
	b := f.seed(t, "user-1", domain.BookingStatusPaid)

	_, err := f.service.Cancel(context.Background(), b.ID, Viewer{UserID: "user-1"})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestBookingService_Cancel_OtherOwner(t *testing.T) {
	f := setup(t)
	b := f.seed(t, "user-1", domain.BookingStatusPending)

	_, err := f.service.Cancel(context.Background(), b.ID, Viewer{UserID: "user-2"})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestBookingService_Refund(t *testing.T) {
	f := setup(t)
	confirmed := f.seed(t, "user-1", domain.BookingStatusConfirmed)
	pending := f.seed(t, "user-1", domain.BookingStatusPending)
	admin := Viewer{UserID: "ops", Admin: true}
	ctx := context.Background()

	_, err := f.service.Refund(ctx, confirmed.ID, Viewer{UserID: "user-1"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	got, err := f.service.Refund(ctx, confirmed.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusRefunded, got.Status)

	again, err := f.service.Refund(ctx, confirmed.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusRefunded, again.Status)

	_, err = f.service.Refund(ctx, pending.ID, admin)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

// Admin reads

func TestBookingService_NeedingAttention(t *testing.T) {
	f := setup(t)
	stuck := f.seed(t, "", domain.BookingStatusPaid)
	require.NoError(t, f.repo.MarkProcessingError(context.Background(), stuck.ID, "ticket issuance failed: timeout"))
	f.seed(t, "", domain.BookingStatusPaid)

	got, err := f.service.NeedingAttention(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, stuck.ID, got[0].ID)
}

func TestBookingService_AuditTrail(t *testing.T) {
	reader := new(MockAuditReader)
	f := setup(t, WithAuditReader(reader))
	b := f.seed(t, "", domain.BookingStatusPending)
	reader.On("List", mock.Anything, b.ID).Return([]audit.Entry{{BookingID: b.ID, Action: audit.ActionBookingCreated}}, nil)

	entries, err := f.service.AuditTrail(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = f.service.AuditTrail(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// Sweeps

func TestBookingService_ExpirePendingBookings(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	unlinked := f.seed(t, "", domain.BookingStatusPending)
	paidLate := f.seed(t, "", domain.BookingStatusPending)
	unreachable := f.seed(t, "", domain.BookingStatusPending)
	unpaid := f.seed(t, "", domain.BookingStatusPending)
	for _, b := range []*domain.Booking{paidLate, unreachable, unpaid} {
		_, err := f.repo.AttachPaymentReference(ctx, b.ID, "ord_"+b.ID, "https://pay.example")
		require.NoError(t, err)
	}

	f.now = f.now.Add(31 * time.Minute)

	paidSnapshot := *paidLate
	paidSnapshot.Status = domain.BookingStatusPaid
	f.reconciler.On("Reconcile", mock.Anything, paidLate.ID, reconcile.SourceSweep).
		Return(&reconcile.Outcome{Booking: &paidSnapshot, Advanced: true}, nil)
	f.reconciler.On("Reconcile", mock.Anything, unreachable.ID, reconcile.SourceSweep).
		Return(nil, &domain.ExternalProviderError{Provider: "payment", Message: "timeout"})
	f.reconciler.On("Reconcile", mock.Anything, unpaid.ID, reconcile.SourceSweep).
		Return(&reconcile.Outcome{Booking: unpaid}, nil)

	expired, err := f.service.ExpirePendingBookings(ctx)
	require.NoError(t, err)

	ids := make([]string, 0, len(expired))
	for _, b := range expired {
		ids = append(ids, b.ID)
		assert.Equal(t, domain.CancelReasonExpired, b.CancelReason)
	}
	assert.ElementsMatch(t, []string{unlinked.ID, unpaid.ID}, ids)

	left, err := f.repo.Get(ctx, unreachable.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusPending, left.Status, "unknown payment status keeps the booking for the next run")
	f.reconciler.AssertNotCalled(t, "Reconcile", mock.Anything, unlinked.ID, mock.Anything)
}

func TestBookingService_ExpirePendingBookings_NothingDue(t *testing.T) {
	f := setup(t)
	f.seed(t, "", domain.BookingStatusPending)

	expired, err := f.service.ExpirePendingBookings(context.Background())
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestBookingService_CompleteDepartedBookings(t *testing.T) {
	f := setup(t)
	departed := f.seed(t, "", domain.BookingStatusConfirmed)
	f.seed(t, "", domain.BookingStatusPaid)

	f.now = f.now.AddDate(0, 0, 8)
	completed, err := f.service.CompleteDepartedBookings(context.Background())
	require.NoError(t, err)

	require.Len(t, completed, 1)
	assert.Equal(t, departed.ID, completed[0].ID)
	assert.Equal(t, domain.BookingStatusCompleted, completed[0].Status)
	assert.NotNil(t, completed[0].CompletedAt)
	assert.Contains(t, f.sink.types(), kafka.EventBookingCompleted)
}

func TestBookingService_SweepStoreError(t *testing.T) {
	f := setup(t)
	f.service.bookings = failingRepository{f.repo}

	_, err := f.service.ExpirePendingBookings(context.Background())
	assert.Error(t, err)
}

type failingRepository struct {
	*repository.MemoryBookingRepository
}

func (failingRepository) ListExpiredPending(context.Context, time.Time, int) ([]domain.Booking, error) {
	return nil, errors.New("connection refused")
}
