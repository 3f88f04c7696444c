package payment

import (
	"context"
	"fmt"

	"github.com/Domenick1991/airticket/internal/audit"
	"github.com/Domenick1991/airticket/internal/domain"
	"github.com/Domenick1991/airticket/internal/provider"
	"github.com/Domenick1991/airticket/internal/repository"
	"github.com/sirupsen/logrus"
)

type Provider interface {
	CreateLink(ctx context.Context, idempotencyKey string, req provider.PaymentLinkRequest) (*provider.PaymentLink, error)
}

type Auditor interface {
	Record(ctx context.Context, entry audit.Entry)
}

type Link struct {
	URL        string
	PaymentRef string
}

type LinkIssuer struct {
	provider  Provider
	bookings  repository.BookingRepository
	auditor   Auditor
	returnURL string
	log       logrus.FieldLogger
}

func NewLinkIssuer(p Provider, bookings repository.BookingRepository, auditor Auditor, returnURL string, log logrus.FieldLogger) *LinkIssuer {
	return &LinkIssuer{provider: p, bookings: bookings, auditor: auditor, returnURL: returnURL, log: log}
}

// CreateLink returns the hosted payment page of a pending booking, creating it
// on first use. The provider sees the same idempotency key on every attempt,
// so retries collapse into one link. On provider failure nothing is persisted.
func (i *LinkIssuer) CreateLink(ctx context.Context, b *domain.Booking) (*Link, error) {
	if b.Status != domain.BookingStatusPending {
		return nil, fmt.Errorf("booking %s is %s: %w", b.ID, b.Status, domain.ErrConflict)
	}
	if b.PaymentRef != "" && b.CheckoutURL != "" {
		return &Link{URL: b.CheckoutURL, PaymentRef: b.PaymentRef}, nil
	}

	link, err := i.provider.CreateLink(ctx, domain.IdempotencyKeyFor(b.ID), i.request(b))
	if err != nil {
		i.log.WithError(err).WithField("booking_id", b.ID).Warn("payment link creation failed")
		return nil, err
	}

	attached, err := i.bookings.AttachPaymentReference(ctx, b.ID, link.OrderID, link.URL)
	if err != nil {
		return nil, fmt.Errorf("attach payment reference: %w", err)
	}
	if !attached {
		i.log.WithFields(logrus.Fields{
			"booking_id":  b.ID,
			"payment_ref": link.OrderID,
		}).Warn("booking no longer accepts this payment link")
		return nil, fmt.Errorf("booking %s no longer accepts a payment link: %w", b.ID, domain.ErrConflict)
	}

	b.PaymentRef = link.OrderID
	b.CheckoutURL = link.URL
	i.auditor.Record(ctx, audit.Entry{
		BookingID: b.ID,
		Action:    audit.ActionPaymentLinkIssued,
		ToStatus:  string(b.Status),
	}.WithDetails(map[string]any{"payment_ref": link.OrderID}))

	i.log.WithFields(logrus.Fields{
		"booking_id":  b.ID,
		"payment_ref": link.OrderID,
	}).Info("payment link issued")
	return &Link{URL: link.URL, PaymentRef: link.OrderID}, nil
}

func (i *LinkIssuer) request(b *domain.Booking) provider.PaymentLinkRequest {
	return provider.PaymentLinkRequest{
		Reference: b.ID,
		Amount:    b.AmountMinor,
		Currency:  b.Currency,
		Description: fmt.Sprintf("Flight %s-%s on %s, %d passenger(s)",
			b.Origin, b.Destination, b.DepartureDate.Format("2006-01-02"), b.PassengerCount()),
		Customer:  provider.PaymentCustomer{Email: b.Contact.Email, Phone: b.Contact.Phone},
		ReturnURL: i.returnURL,
		ExpiresAt: b.ExpiresAt,
	}
}
