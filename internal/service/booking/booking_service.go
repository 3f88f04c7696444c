package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Domenick1991/airticket/internal/audit"
	"github.com/Domenick1991/airticket/internal/domain"
	"github.com/Domenick1991/airticket/internal/kafka"
	"github.com/Domenick1991/airticket/internal/metrics"
	"github.com/Domenick1991/airticket/internal/notify"
	"github.com/Domenick1991/airticket/internal/repository"
	"github.com/Domenick1991/airticket/internal/service/payment"
	"github.com/Domenick1991/airticket/internal/service/pricing"
	"github.com/Domenick1991/airticket/internal/service/reconcile"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type BookingUseCase interface {
	Checkout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error)
	Get(ctx context.Context, id string, viewer Viewer) (*domain.Booking, error)
	List(ctx context.Context, viewer Viewer, filter ListFilter) ([]domain.Booking, error)
	VerifyPayment(ctx context.Context, id string, viewer Viewer) (*domain.Booking, error)
	RetryPaymentLink(ctx context.Context, id string, viewer Viewer) (*CheckoutResult, error)
	Cancel(ctx context.Context, id string, viewer Viewer) (*domain.Booking, error)
	Refund(ctx context.Context, id string, viewer Viewer) (*domain.Booking, error)
	NeedingAttention(ctx context.Context, limit int) ([]domain.Booking, error)
	AuditTrail(ctx context.Context, id string) ([]audit.Entry, error)
	ExpirePendingBookings(ctx context.Context) ([]domain.Booking, error)
	CompleteDepartedBookings(ctx context.Context) ([]domain.Booking, error)
}

type PriceGate interface {
	Validate(ctx context.Context, claim pricing.Claim) (*domain.Quote, error)
}

type LinkIssuer interface {
	CreateLink(ctx context.Context, b *domain.Booking) (*payment.Link, error)
}

type Reconciler interface {
	PollStatus(ctx context.Context, bookingID string) (*reconcile.Outcome, error)
	Reconcile(ctx context.Context, b *domain.Booking, source reconcile.Source) (*reconcile.Outcome, error)
}

type Auditor interface {
	Record(ctx context.Context, entry audit.Entry)
}

type AuditReader interface {
	List(ctx context.Context, bookingID string) ([]audit.Entry, error)
}

// Viewer is the caller on whose behalf a booking is read or changed. An empty
// UserID is an anonymous guest.
type Viewer struct {
	UserID string
	Email  string
	Admin  bool
}

type ListFilter struct {
	Status domain.BookingStatus
	Limit  int
	Offset int
}

type CheckoutInput struct {
	Origin        string
	Destination   string
	DepartureDate time.Time
	ReturnDate    *time.Time
	Adults        int
	Children      int
	Infants       int
	CabinClass    domain.CabinClass
	OfferID       string
	Offer         json.RawMessage
	AmountMinor   int64
	Currency      string
	Passengers    []domain.Passenger
	Contact       domain.Contact
	Viewer        Viewer
}

type CheckoutResult struct {
	Booking     *domain.Booking
	CheckoutURL string
	PaymentRef  string
	LockedPrice decimal.Decimal
	ExpiresAt   time.Time
}

type BookingService struct {
	bookings    repository.BookingRepository
	gate        PriceGate
	links       LinkIssuer
	reconciler  Reconciler
	notifier    notify.Sink
	auditor     Auditor
	auditReader AuditReader
	pendingTTL  time.Duration
	sweepBatch  int
	now         func() time.Time
	log         logrus.FieldLogger
}

type BookingServiceOption func(*BookingService)

// WithReconciler lets the expiry sweep settle bookings with the payment
// provider before cancelling them, and enables VerifyPayment.
func WithReconciler(r Reconciler) BookingServiceOption {
	return func(s *BookingService) {
		s.reconciler = r
	}
}

func WithAuditReader(r AuditReader) BookingServiceOption {
	return func(s *BookingService) {
		s.auditReader = r
	}
}

func WithSweepBatch(n int) BookingServiceOption {
	return func(s *BookingService) {
		if n > 0 {
			s.sweepBatch = n
		}
	}
}

func WithClock(now func() time.Time) BookingServiceOption {
	return func(s *BookingService) {
		s.now = now
	}
}

func NewBookingService(
	bookings repository.BookingRepository,
	gate PriceGate,
	links LinkIssuer,
	notifier notify.Sink,
	auditor Auditor,
	pendingTTL time.Duration,
	log logrus.FieldLogger,
	opts ...BookingServiceOption,
) *BookingService {
	service := &BookingService{
		bookings:   bookings,
		gate:       gate,
		links:      links,
		notifier:   notifier,
		auditor:    auditor,
		pendingTTL: pendingTTL,
		sweepBatch: 100,
		now:        time.Now,
		log:        log,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// Checkout validates the request, re-prices the offer, stores a pending
// booking and issues its payment link. When the link cannot be created the
// booking is still returned in the result together with the error, so the
// caller can retry the link for the same booking.
func (s *BookingService) Checkout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error) {
	if err := validateCheckout(&input); err != nil {
		metrics.CheckoutTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	quote, err := s.gate.Validate(ctx, pricing.Claim{
		OfferID:     input.OfferID,
		AmountMinor: input.AmountMinor,
		Currency:    input.Currency,
	})
	if err != nil {
		metrics.CheckoutTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	contact := input.Contact
	if contact.Email == "" {
		contact.Email = input.Viewer.Email
	}
	booking := &domain.Booking{
		OwnerID:       input.Viewer.UserID,
		Origin:        input.Origin,
		Destination:   input.Destination,
		DepartureDate: input.DepartureDate,
		ReturnDate:    input.ReturnDate,
		Adults:        input.Adults,
		Children:      input.Children,
		Infants:       input.Infants,
		CabinClass:    input.CabinClass,
		OfferID:       input.OfferID,
		Offer:         input.Offer,
		AmountMinor:   quote.AmountMinor,
		Currency:      strings.ToUpper(quote.Currency),
		Passengers:    input.Passengers,
		Contact:       contact,
		ExpiresAt:     s.now().Add(s.pendingTTL),
	}
	if err := s.bookings.CreatePending(ctx, booking); err != nil {
		metrics.CheckoutTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("create booking: %w", err)
	}

	log := s.log.WithFields(logrus.Fields{"booking_id": booking.ID, "offer_id": booking.OfferID})
	log.WithField("amount", booking.AmountMinor).Info("booking created")
	s.auditor.Record(ctx, audit.Entry{
		BookingID: booking.ID,
		Action:    audit.ActionBookingCreated,
		Source:    "checkout",
		ActorID:   input.Viewer.UserID,
		ToStatus:  string(domain.BookingStatusPending),
	}.WithDetails(map[string]any{"offer_id": booking.OfferID, "amount": booking.AmountMinor, "currency": booking.Currency}))
	s.notify(ctx, kafka.EventBookingCreated, booking, "")

	result := s.result(booking)
	link, err := s.links.CreateLink(ctx, booking)
	if err != nil {
		metrics.CheckoutTotal.WithLabelValues("link_failed").Inc()
		return result, err
	}
	result.CheckoutURL = link.URL
	result.PaymentRef = link.PaymentRef

	metrics.CheckoutTotal.WithLabelValues("ok").Inc()
	return result, nil
}

func (s *BookingService) Get(ctx context.Context, id string, viewer Viewer) (*domain.Booking, error) {
	b, err := s.bookings.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(b, viewer) {
		return nil, fmt.Errorf("booking %s: %w", id, domain.ErrForbidden)
	}
	return b, nil
}

// List returns the viewer's own bookings, or every booking for an admin.
func (s *BookingService) List(ctx context.Context, viewer Viewer, filter ListFilter) ([]domain.Booking, error) {
	if viewer.UserID == "" && !viewer.Admin {
		return nil, domain.ErrForbidden
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, &domain.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", filter.Status)}
	}
	query := repository.BookingFilter{Status: filter.Status, Limit: filter.Limit, Offset: filter.Offset}
	if !viewer.Admin {
		query.OwnerID = viewer.UserID
	}
	return s.bookings.List(ctx, query)
}

// VerifyPayment is the caller-driven reconciliation path.
func (s *BookingService) VerifyPayment(ctx context.Context, id string, viewer Viewer) (*domain.Booking, error) {
	b, err := s.Get(ctx, id, viewer)
	if err != nil {
		return nil, err
	}
	if s.reconciler == nil {
		return b, nil
	}
	outcome, err := s.reconciler.PollStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	return outcome.Booking, nil
}

func (s *BookingService) RetryPaymentLink(ctx context.Context, id string, viewer Viewer) (*CheckoutResult, error) {
	b, err := s.Get(ctx, id, viewer)
	if err != nil {
		return nil, err
	}
	link, err := s.links.CreateLink(ctx, b)
	if err != nil {
		return nil, err
	}
	result := s.result(b)
	result.CheckoutURL = link.URL
	result.PaymentRef = link.PaymentRef
	return result, nil
}

// Cancel closes a pending booking on the owner's request. Cancelling an
// already cancelled booking returns it unchanged.
func (s *BookingService) Cancel(ctx context.Context, id string, viewer Viewer) (*domain.Booking, error) {
	current, err := s.Get(ctx, id, viewer)
	if err != nil {
		return nil, err
	}
	if current.Status == domain.BookingStatusCancelled {
		return current, nil
	}

	cancelled, err := s.bookings.Cancel(ctx, id, domain.CancelReasonUser)
	if err != nil {
		return nil, err
	}
	updated, err := s.bookings.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !cancelled {
		if updated.Status == domain.BookingStatusCancelled {
			return updated, nil
		}
		return nil, fmt.Errorf("booking %s is %s and cannot be cancelled: %w", id, updated.Status, domain.ErrConflict)
	}

	s.log.WithFields(logrus.Fields{"booking_id": id, "user_id": viewer.UserID}).Info("booking cancelled by customer")
	s.auditor.Record(ctx, audit.Entry{
		BookingID:  id,
		Action:     audit.ActionBookingCancelled,
		Source:     "customer",
		ActorID:    viewer.UserID,
		FromStatus: string(domain.BookingStatusPending),
		ToStatus:   string(domain.BookingStatusCancelled),
	}.WithDetails(map[string]any{"reason": domain.CancelReasonUser}))
	s.notify(ctx, kafka.EventBookingCancelled, updated, "")
	return updated, nil
}

// Refund records that an operator refunded a paid or confirmed booking. The
// money movement itself happens outside this system.
func (s *BookingService) Refund(ctx context.Context, id string, viewer Viewer) (*domain.Booking, error) {
	if !viewer.Admin {
		return nil, domain.ErrForbidden
	}
	before, err := s.bookings.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if before.Status == domain.BookingStatusRefunded {
		return before, nil
	}

	refunded, err := s.bookings.MarkRefunded(ctx, id)
	if err != nil {
		return nil, err
	}
	if !refunded {
		return nil, fmt.Errorf("booking %s is %s and cannot be refunded: %w", id, before.Status, domain.ErrConflict)
	}
	updated, err := s.bookings.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"booking_id": id, "admin_id": viewer.UserID}).Info("booking refunded")
	s.auditor.Record(ctx, audit.Entry{
		BookingID:  id,
		Action:     audit.ActionBookingRefunded,
		Source:     "admin",
		ActorID:    viewer.UserID,
		FromStatus: string(before.Status),
		ToStatus:   string(domain.BookingStatusRefunded),
	})
	s.notify(ctx, kafka.EventBookingRefunded, updated, "")
	return updated, nil
}

// NeedingAttention lists paid bookings whose ticket issuance failed.
func (s *BookingService) NeedingAttention(ctx context.Context, limit int) ([]domain.Booking, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.bookings.ListNeedingAttention(ctx, limit)
}

func (s *BookingService) AuditTrail(ctx context.Context, id string) ([]audit.Entry, error) {
	if _, err := s.bookings.Get(ctx, id); err != nil {
		return nil, err
	}
	if s.auditReader == nil {
		return []audit.Entry{}, nil
	}
	return s.auditReader.List(ctx, id)
}

// ExpirePendingBookings cancels pending bookings past their payment window.
// A booking with a payment link is reconciled first: if the provider reports
// it paid, it advances instead of being cancelled. A booking whose payment
// status cannot be read is left for the next run.
func (s *BookingService) ExpirePendingBookings(ctx context.Context) ([]domain.Booking, error) {
	now := s.now()
	candidates, err := s.bookings.ListExpiredPending(ctx, now, s.sweepBatch)
	if err != nil {
		return nil, err
	}

	var expired []domain.Booking
	for i := range candidates {
		b := &candidates[i]
		log := s.log.WithFields(logrus.Fields{"booking_id": b.ID, "payment_ref": b.PaymentRef})

		if b.PaymentRef != "" && s.reconciler != nil {
			outcome, err := s.reconciler.Reconcile(ctx, b, reconcile.SourceSweep)
			if err != nil {
				log.WithError(err).Warn("could not reconcile expiring booking, will retry")
				continue
			}
			if outcome.Booking.Status != domain.BookingStatusPending {
				continue
			}
		}

		cancelled, err := s.bookings.Cancel(ctx, b.ID, domain.CancelReasonExpired)
		if err != nil {
			return expired, err
		}
		if !cancelled {
			continue
		}

		b.Status = domain.BookingStatusCancelled
		b.CancelReason = domain.CancelReasonExpired
		metrics.SweepTransitions.WithLabelValues("expiry").Inc()
		log.Info("pending booking expired")
		s.auditor.Record(ctx, audit.Entry{
			BookingID:  b.ID,
			Action:     audit.ActionBookingCancelled,
			Source:     string(reconcile.SourceSweep),
			FromStatus: string(domain.BookingStatusPending),
			ToStatus:   string(domain.BookingStatusCancelled),
		}.WithDetails(map[string]any{"reason": domain.CancelReasonExpired}))
		s.notify(ctx, kafka.EventBookingCancelled, b, "payment window expired")
		expired = append(expired, *b)
	}
	return expired, nil
}

// CompleteDepartedBookings moves confirmed bookings whose departure date has
// passed to completed.
func (s *BookingService) CompleteDepartedBookings(ctx context.Context) ([]domain.Booking, error) {
	completed, err := s.bookings.CompleteDepartedBefore(ctx, s.now())
	if err != nil {
		return nil, err
	}
	for i := range completed {
		b := &completed[i]
		metrics.SweepTransitions.WithLabelValues("completion").Inc()
		s.auditor.Record(ctx, audit.Entry{
			BookingID:  b.ID,
			Action:     audit.ActionBookingCompleted,
			Source:     string(reconcile.SourceSweep),
			FromStatus: string(domain.BookingStatusConfirmed),
			ToStatus:   string(domain.BookingStatusCompleted),
		})
		s.notify(ctx, kafka.EventBookingCompleted, b, "")
	}
	if len(completed) > 0 {
		s.log.WithField("count", len(completed)).Info("bookings completed")
	}
	return completed, nil
}

func (s *BookingService) result(b *domain.Booking) *CheckoutResult {
	return &CheckoutResult{
		Booking:     b,
		CheckoutURL: b.CheckoutURL,
		PaymentRef:  b.PaymentRef,
		LockedPrice: pricing.MajorUnits(b.AmountMinor, b.Currency),
		ExpiresAt:   b.ExpiresAt,
	}
}

func (s *BookingService) notify(ctx context.Context, eventType kafka.EventType, b *domain.Booking, message string) {
	s.notifier.Notify(ctx, kafka.BookingEvent{
		Type:       eventType,
		BookingID:  b.ID,
		Status:     string(b.Status),
		Email:      b.Contact.Email,
		Severity:   kafka.SeverityInfo,
		Message:    message,
		PaymentRef: b.PaymentRef,
		TicketRef:  b.TicketRef,
	})
}

// canView allows admins, the owner, and anyone holding the id of a guest
// booking.
func canView(b *domain.Booking, viewer Viewer) bool {
	return viewer.Admin || b.OwnerID == "" || b.IsOwnedBy(viewer.UserID)
}

// validateCheckout applies the rules that depend on the departure date or on
// the caller. Field formats are enforced by the request binding.
func validateCheckout(in *CheckoutInput) error {
	if in.CabinClass == "" {
		in.CabinClass = domain.CabinEconomy
	}
	if in.DepartureDate.IsZero() {
		return &domain.ValidationError{Field: "departure_date", Message: "is required"}
	}
	if in.ReturnDate != nil && in.ReturnDate.Before(in.DepartureDate) {
		return &domain.ValidationError{Field: "return_date", Message: "is before departure"}
	}
	if in.Adults < 1 {
		return &domain.ValidationError{Field: "adults", Message: "at least one adult is required"}
	}
	if in.Infants > in.Adults {
		return &domain.ValidationError{Field: "infants", Message: "each infant needs an accompanying adult"}
	}
	if in.Contact.Email == "" && in.Viewer.Email == "" {
		return &domain.ValidationError{Field: "contact.email", Message: "is required"}
	}

	adults, children, infants := domain.CountByType(in.Passengers)
	if len(in.Passengers) != in.Adults+in.Children+in.Infants ||
		adults != in.Adults || children != in.Children || infants != in.Infants {
		return &domain.ValidationError{Field: "passengers", Message: "do not match the declared passenger counts"}
	}
	for _, p := range in.Passengers {
		if err := p.Validate(in.DepartureDate); err != nil {
			return err
		}
	}
	return nil
}

var _ BookingUseCase = (*BookingService)(nil)
