package ticketing

import (
	"context"
	"fmt"
	"time"

	"github.com/Domenick1991/airticket/internal/audit"
	"github.com/Domenick1991/airticket/internal/domain"
	"github.com/Domenick1991/airticket/internal/kafka"
	"github.com/Domenick1991/airticket/internal/metrics"
	"github.com/Domenick1991/airticket/internal/notify"
	"github.com/Domenick1991/airticket/internal/provider"
	"github.com/Domenick1991/airticket/internal/repository"
	"github.com/sirupsen/logrus"
)

type Provider interface {
	CreateOrder(ctx context.Context, idempotencyKey string, req provider.TicketOrderRequest) (*provider.TicketOrder, error)
}

type Auditor interface {
	Record(ctx context.Context, entry audit.Entry)
}

type Outcome string

// Outcomes of Issue. A duplicate means the provider issued a ticket but
// another caller attached theirs first, so the booking keeps the first one.
const (
	OutcomeIssued        Outcome = "issued"
	OutcomeAlreadyIssued Outcome = "already_issued"
	OutcomeInProgress    Outcome = "in_progress"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeFailed        Outcome = "failed"
)

type Result struct {
	Outcome   Outcome
	TicketRef string
	Message   string
}

type Issuer struct {
	provider Provider
	bookings repository.BookingRepository
	notifier notify.Sink
	auditor  Auditor
	lease    time.Duration
	log      logrus.FieldLogger
}

func NewIssuer(p Provider, bookings repository.BookingRepository, notifier notify.Sink, auditor Auditor, lease time.Duration, log logrus.FieldLogger) *Issuer {
	return &Issuer{provider: p, bookings: bookings, notifier: notifier, auditor: auditor, lease: lease, log: log}
}

// Issue obtains a ticket for a paid booking. Provider failures are not
// returned: they are recorded on the booking, which stays paid, and reported
// to operators. Only store errors are returned.
func (i *Issuer) Issue(ctx context.Context, b *domain.Booking) (*Result, error) {
	log := i.log.WithFields(logrus.Fields{"booking_id": b.ID, "payment_ref": b.PaymentRef})

	claimed, err := i.bookings.ClaimTicketing(ctx, b.ID, i.lease)
	if err != nil {
		return nil, fmt.Errorf("claim ticketing: %w", err)
	}
	if !claimed {
		current, err := i.bookings.Get(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		if current.TicketRef != "" {
			return &Result{Outcome: OutcomeAlreadyIssued, TicketRef: current.TicketRef}, nil
		}
		log.Debug("ticketing already claimed by another caller")
		return &Result{Outcome: OutcomeInProgress}, nil
	}

	// the payment is settled, so the outcome is persisted even if the caller goes away
	storeCtx := context.WithoutCancel(ctx)

	if len(b.Passengers) == 0 {
		return i.fail(storeCtx, log, b, "passenger details are missing")
	}

	order, err := i.provider.CreateOrder(ctx, domain.TicketingKeyFor(b.ID), provider.TicketOrderRequest{
		OfferID:    b.OfferID,
		Reference:  b.ID,
		Passengers: b.Passengers,
		Contact:    b.Contact,
	})
	if err != nil {
		return i.fail(storeCtx, log, b, err.Error())
	}

	attached, err := i.bookings.AttachTicketReference(storeCtx, b.ID, order.OrderID)
	if err != nil {
		log.WithError(err).WithField("ticket_ref", order.OrderID).Error("ticket issued but could not be attached")
		return nil, fmt.Errorf("attach ticket reference: %w", err)
	}
	if !attached {
		return i.duplicate(storeCtx, log, b, order.OrderID)
	}

	metrics.TicketIssueTotal.WithLabelValues(string(OutcomeIssued)).Inc()
	log.WithFields(logrus.Fields{"ticket_ref": order.OrderID, "pnr": order.PNR}).Info("ticket issued")

	i.auditor.Record(storeCtx, audit.Entry{
		BookingID:  b.ID,
		Action:     audit.ActionTicketIssued,
		FromStatus: string(domain.BookingStatusPaid),
		ToStatus:   string(domain.BookingStatusConfirmed),
	}.WithDetails(map[string]any{"ticket_ref": order.OrderID, "pnr": order.PNR}))
	i.notifier.Notify(storeCtx, kafka.BookingEvent{
		Type:       kafka.EventBookingConfirmed,
		BookingID:  b.ID,
		Status:     string(domain.BookingStatusConfirmed),
		Email:      b.Contact.Email,
		Severity:   kafka.SeverityInfo,
		PaymentRef: b.PaymentRef,
		TicketRef:  order.OrderID,
	})

	b.TicketRef = order.OrderID
	b.Status = domain.BookingStatusConfirmed
	b.ErrorMessage = ""
	return &Result{Outcome: OutcomeIssued, TicketRef: order.OrderID}, nil
}

func (i *Issuer) fail(ctx context.Context, log logrus.FieldLogger, b *domain.Booking, reason string) (*Result, error) {
	message := "ticket issuance failed: " + reason
	if err := i.bookings.MarkProcessingError(ctx, b.ID, message); err != nil {
		return nil, fmt.Errorf("record ticketing failure: %w", err)
	}

	metrics.TicketIssueTotal.WithLabelValues(string(OutcomeFailed)).Inc()
	log.WithField("reason", reason).Error("payment received but ticket issuance failed")

	i.auditor.Record(ctx, audit.Entry{
		BookingID: b.ID,
		Action:    audit.ActionTicketFailed,
		ToStatus:  string(domain.BookingStatusPaid),
	}.WithDetails(map[string]any{"error": reason}))
	i.notifier.Notify(ctx, kafka.BookingEvent{
		Type:       kafka.EventTicketingFailed,
		BookingID:  b.ID,
		Status:     string(domain.BookingStatusPaid),
		Severity:   kafka.SeverityCritical,
		Message:    message,
		PaymentRef: b.PaymentRef,
	})

	b.ErrorMessage = message
	return &Result{Outcome: OutcomeFailed, Message: message}, nil
}

func (i *Issuer) duplicate(ctx context.Context, log logrus.FieldLogger, b *domain.Booking, orphan string) (*Result, error) {
	current, err := i.bookings.Get(ctx, b.ID)
	if err != nil {
		return nil, err
	}

	metrics.TicketIssueTotal.WithLabelValues(string(OutcomeDuplicate)).Inc()
	log.WithFields(logrus.Fields{
		"ticket_ref":    current.TicketRef,
		"orphan_ticket": orphan,
	}).Warn("duplicate ticket discarded, booking keeps the first attached ticket")

	i.auditor.Record(ctx, audit.Entry{
		BookingID: b.ID,
		Action:    audit.ActionDuplicateTicket,
	}.WithDetails(map[string]any{"kept": current.TicketRef, "discarded": orphan}))
	message := "duplicate ticket " + orphan + " issued, booking keeps " + current.TicketRef
	if current.TicketRef == "" {
		message = "ticket " + orphan + " issued but booking is now " + string(current.Status)
	}
	i.notifier.Notify(ctx, kafka.BookingEvent{
		Type:      kafka.EventPaymentAnomaly,
		BookingID: b.ID,
		Status:    string(current.Status),
		Severity:  kafka.SeverityWarning,
		Message:   message,
		TicketRef: current.TicketRef,
	})
	return &Result{Outcome: OutcomeDuplicate, TicketRef: current.TicketRef}, nil
}
