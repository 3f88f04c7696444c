package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Domenick1991/airticket/internal/audit"
	"github.com/Domenick1991/airticket/internal/domain"
	"github.com/Domenick1991/airticket/internal/kafka"
	"github.com/Domenick1991/airticket/internal/metrics"
	"github.com/Domenick1991/airticket/internal/notify"
	"github.com/Domenick1991/airticket/internal/provider"
	"github.com/Domenick1991/airticket/internal/repository"
	"github.com/Domenick1991/airticket/internal/service/ticketing"
	"github.com/sirupsen/logrus"
)

type PaymentStatusSource interface {
	GetOrder(ctx context.Context, orderID string) (*provider.PaymentOrder, error)
}

type TicketIssuer interface {
	Issue(ctx context.Context, b *domain.Booking) (*ticketing.Result, error)
}

type WebhookVerifier interface {
	Verify(body []byte, header string) error
}

// EventMarker remembers webhook events that were fully processed.
type EventMarker interface {
	WebhookProcessed(ctx context.Context, eventID string) (bool, error)
	MarkWebhookProcessed(ctx context.Context, eventID string, ttl time.Duration) error
}

type Auditor interface {
	Record(ctx context.Context, entry audit.Entry)
}

type Source string

const (
	SourceWebhook Source = "webhook"
	SourcePoll    Source = "poll"
	SourceSweep   Source = "sweep"
)

// Anomaly kinds raised to operators.
const (
	AnomalyLatePayment     = "late_payment"
	AnomalyAmountMismatch  = "amount_mismatch"
	AnomalyPaymentOnClosed = "payment_on_closed_booking"
)

// Outcome describes what one reconciliation run did. Duplicate is set when a
// webhook event had already been processed and nothing was done.
type Outcome struct {
	Booking     *domain.Booking
	Advanced    bool
	LatePayment bool
	Anomaly     string
	Ticket      *ticketing.Result
	Duplicate   bool
}

type Reconciler struct {
	bookings  repository.BookingRepository
	payments  PaymentStatusSource
	tickets   TicketIssuer
	verifier  WebhookVerifier
	marker    EventMarker
	markerTTL time.Duration
	notifier  notify.Sink
	auditor   Auditor
	log       logrus.FieldLogger
}

type Option func(*Reconciler)

func WithEventMarker(marker EventMarker, ttl time.Duration) Option {
	return func(r *Reconciler) {
		r.marker = marker
		r.markerTTL = ttl
	}
}

func NewReconciler(
	bookings repository.BookingRepository,
	payments PaymentStatusSource,
	tickets TicketIssuer,
	verifier WebhookVerifier,
	notifier notify.Sink,
	auditor Auditor,
	log logrus.FieldLogger,
	opts ...Option,
) *Reconciler {
	r := &Reconciler{
		bookings: bookings,
		payments: payments,
		tickets:  tickets,
		verifier: verifier,
		notifier: notifier,
		auditor:  auditor,
		log:      log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleWebhook authenticates a payment provider delivery and reconciles the
// booking it references. Nothing is read or written before the signature
// checks out.
func (r *Reconciler) HandleWebhook(ctx context.Context, body []byte, signature string) (*Outcome, error) {
	if err := r.verifier.Verify(body, signature); err != nil {
		metrics.WebhookRejectedTotal.Inc()
		r.log.WithError(err).WithField("security_event", true).Warn("rejected payment webhook")
		return nil, err
	}

	event, err := provider.ParseWebhookEvent(body)
	if err != nil {
		return nil, err
	}
	log := r.log.WithFields(logrus.Fields{"event_id": event.ID, "event_type": event.Type, "payment_ref": event.Data.OrderID})

	if r.marker != nil && event.ID != "" {
		seen, err := r.marker.WebhookProcessed(ctx, event.ID)
		if err != nil {
			log.WithError(err).Warn("webhook marker lookup failed")
		} else if seen {
			log.Debug("webhook event already processed")
			metrics.ReconcileTotal.WithLabelValues(string(SourceWebhook), "duplicate").Inc()
			return &Outcome{Duplicate: true}, nil
		}
	}

	outcome, err := r.HandleEvent(ctx, event.Data.OrderID)
	if err != nil {
		return nil, err
	}

	if r.marker != nil && event.ID != "" {
		if err := r.marker.MarkWebhookProcessed(ctx, event.ID, r.markerTTL); err != nil {
			log.WithError(err).Warn("failed to mark webhook processed")
		}
	}
	return outcome, nil
}

// HandleEvent reconciles the booking linked to an external payment order.
func (r *Reconciler) HandleEvent(ctx context.Context, orderRef string) (*Outcome, error) {
	b, err := r.bookings.GetByPaymentRef(ctx, orderRef)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			r.log.WithField("payment_ref", orderRef).Warn("payment event for unknown order")
		}
		return nil, err
	}
	return r.Reconcile(ctx, b, SourceWebhook)
}

// PollStatus is the caller-driven path. It runs the same reconciliation as a
// webhook and is safe to run concurrently with one.
func (r *Reconciler) PollStatus(ctx context.Context, bookingID string) (*Outcome, error) {
	b, err := r.bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	return r.Reconcile(ctx, b, SourcePoll)
}

// Reconcile aligns one booking with the payment provider. All state changes
// go through the store's conditional writes; the booking passed in is only a
// snapshot.
func (r *Reconciler) Reconcile(ctx context.Context, b *domain.Booking, source Source) (*Outcome, error) {
	log := r.log.WithFields(logrus.Fields{
		"booking_id":  b.ID,
		"payment_ref": b.PaymentRef,
		"source":      source,
	})
	outcome := &Outcome{Booking: b}

	switch b.Status {
	case domain.BookingStatusPaid:
		// payment is settled, only a missing ticket can be outstanding
		return r.finish(ctx, outcome, source, "noop")
	case domain.BookingStatusConfirmed, domain.BookingStatusCompleted, domain.BookingStatusRefunded:
		metrics.ReconcileTotal.WithLabelValues(string(source), "noop").Inc()
		return outcome, nil
	}
	if b.PaymentRef == "" {
		metrics.ReconcileTotal.WithLabelValues(string(source), "no_link").Inc()
		return outcome, nil
	}

	order, err := r.payments.GetOrder(ctx, b.PaymentRef)
	if err != nil {
		metrics.ReconcileTotal.WithLabelValues(string(source), "provider_error").Inc()
		return nil, err
	}

	switch {
	case order.Status.IsPaid():
		return r.settle(ctx, log, outcome, order, source)
	case order.Status.IsUnsuccessful():
		return r.fail(ctx, log, outcome, order, source)
	default:
		metrics.ReconcileTotal.WithLabelValues(string(source), "pending").Inc()
		return outcome, nil
	}
}

func (r *Reconciler) settle(ctx context.Context, log logrus.FieldLogger, outcome *Outcome, order *provider.PaymentOrder, source Source) (*Outcome, error) {
	b := outcome.Booking

	if order.Amount != b.AmountMinor || !strings.EqualFold(order.Currency, b.Currency) {
		outcome.Anomaly = AnomalyAmountMismatch
		r.anomaly(ctx, log, b, AnomalyAmountMismatch, fmt.Sprintf(
			"provider reports %d %s paid, booking expects %d %s", order.Amount, order.Currency, b.AmountMinor, b.Currency))
		metrics.ReconcileTotal.WithLabelValues(string(source), "anomaly").Inc()
		return outcome, nil
	}

	closedByUser := b.Status == domain.BookingStatusCancelled && b.CancelReason != domain.CancelReasonExpired
	if closedByUser || b.Status == domain.BookingStatusFailed {
		outcome.Anomaly = AnomalyPaymentOnClosed
		r.anomaly(ctx, log, b, AnomalyPaymentOnClosed, fmt.Sprintf(
			"payment received for %s booking, refund required", b.Status))
		metrics.ReconcileTotal.WithLabelValues(string(source), "anomaly").Inc()
		return outcome, nil
	}

	from, advanced, err := r.bookings.AdvanceToPaid(ctx, b.ID)
	if err != nil {
		return nil, fmt.Errorf("advance to paid: %w", err)
	}
	if !advanced {
		// lost the race or a duplicate delivery; only a missing ticket matters now
		return r.finish(ctx, outcome, source, "noop")
	}

	outcome.Advanced = true
	log.Info("payment confirmed")
	r.auditor.Record(ctx, audit.Entry{
		BookingID:  b.ID,
		Action:     audit.ActionPaymentConfirmed,
		Source:     string(source),
		FromStatus: string(from),
		ToStatus:   string(domain.BookingStatusPaid),
	}.WithDetails(map[string]any{"payment_ref": b.PaymentRef, "amount": order.Amount, "currency": order.Currency}))
	r.notifier.Notify(ctx, kafka.BookingEvent{
		Type:       kafka.EventBookingPaid,
		BookingID:  b.ID,
		Status:     string(domain.BookingStatusPaid),
		Email:      b.Contact.Email,
		Severity:   kafka.SeverityInfo,
		PaymentRef: b.PaymentRef,
	})

	// from comes from the write itself, so an expiry that landed after b was read still counts
	if from == domain.BookingStatusCancelled {
		outcome.LatePayment = true
		outcome.Anomaly = AnomalyLatePayment
		r.anomaly(ctx, log, b, AnomalyLatePayment, "payment arrived after the booking expired; booking revived as paid")
	}
	return r.finish(ctx, outcome, source, "advanced")
}

func (r *Reconciler) fail(ctx context.Context, log logrus.FieldLogger, outcome *Outcome, order *provider.PaymentOrder, source Source) (*Outcome, error) {
	b := outcome.Booking
	if b.Status != domain.BookingStatusPending {
		metrics.ReconcileTotal.WithLabelValues(string(source), "noop").Inc()
		return outcome, nil
	}

	message := "payment " + string(order.Status)
	failed, err := r.bookings.MarkFailed(ctx, b.ID, message)
	if err != nil {
		return nil, fmt.Errorf("mark failed: %w", err)
	}
	if failed {
		log.WithField("payment_status", order.Status).Info("payment did not complete")
		r.auditor.Record(ctx, audit.Entry{
			BookingID:  b.ID,
			Action:     audit.ActionPaymentFailed,
			Source:     string(source),
			FromStatus: string(domain.BookingStatusPending),
			ToStatus:   string(domain.BookingStatusFailed),
		}.WithDetails(map[string]any{"payment_status": order.Status}))
		r.notifier.Notify(ctx, kafka.BookingEvent{
			Type:       kafka.EventBookingFailed,
			BookingID:  b.ID,
			Status:     string(domain.BookingStatusFailed),
			Email:      b.Contact.Email,
			Severity:   kafka.SeverityInfo,
			Message:    message,
			PaymentRef: b.PaymentRef,
		})
	}
	return r.refresh(ctx, outcome, source, "failed")
}

// finish reloads the booking and issues the ticket if payment is settled but
// no ticket is attached, which also retries an earlier failed issuance.
func (r *Reconciler) finish(ctx context.Context, outcome *Outcome, source Source, result string) (*Outcome, error) {
	current, err := r.bookings.Get(ctx, outcome.Booking.ID)
	if err != nil {
		return nil, err
	}
	outcome.Booking = current

	if current.NeedsTicket() {
		ticket, err := r.tickets.Issue(ctx, current)
		if err != nil {
			return nil, err
		}
		outcome.Ticket = ticket
		if result == "noop" {
			result = "ticket_retry"
		}
	}
	return r.refresh(ctx, outcome, source, result)
}

func (r *Reconciler) refresh(ctx context.Context, outcome *Outcome, source Source, result string) (*Outcome, error) {
	metrics.ReconcileTotal.WithLabelValues(string(source), result).Inc()
	current, err := r.bookings.Get(ctx, outcome.Booking.ID)
	if err != nil {
		return nil, err
	}
	outcome.Booking = current
	return outcome, nil
}

func (r *Reconciler) anomaly(ctx context.Context, log logrus.FieldLogger, b *domain.Booking, kind, message string) {
	metrics.AnomalyTotal.WithLabelValues(kind).Inc()
	log.WithField("anomaly", kind).Error(message)

	r.auditor.Record(ctx, audit.Entry{
		BookingID:  b.ID,
		Action:     audit.ActionPaymentAnomaly,
		FromStatus: string(b.Status),
	}.WithDetails(map[string]any{"kind": kind, "message": message}))
	r.notifier.Notify(ctx, kafka.BookingEvent{
		Type:       kafka.EventPaymentAnomaly,
		BookingID:  b.ID,
		Status:     string(b.Status),
		Severity:   kafka.SeverityCritical,
		Message:    message,
		PaymentRef: b.PaymentRef,
	})
}
