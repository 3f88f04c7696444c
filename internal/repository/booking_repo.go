package repository

import (
	"context"
	"time"

	"github.com/Domenick1991/airticket/internal/domain"
)

// BookingRepository is the durable booking store. Every method returning a
// bool is a conditional write: false means the precondition did not hold and
// nothing changed.
type BookingRepository interface {
	CreatePending(ctx context.Context, booking *domain.Booking) error
	Get(ctx context.Context, id string) (*domain.Booking, error)
	GetByPaymentRef(ctx context.Context, paymentRef string) (*domain.Booking, error)
	List(ctx context.Context, filter BookingFilter) ([]domain.Booking, error)

	// AttachPaymentReference succeeds for a pending booking with no payment
	// reference, or one already holding the same reference.
	AttachPaymentReference(ctx context.Context, id, paymentRef, checkoutURL string) (bool, error)
	// AdvanceToPaid moves a pending booking, or one cancelled by expiry, to paid.
	// from is the status the booking left, set only when ok is true.
	AdvanceToPaid(ctx context.Context, id string) (from domain.BookingStatus, ok bool, err error)
	MarkFailed(ctx context.Context, id, message string) (bool, error)
	Cancel(ctx context.Context, id string, reason domain.CancelReason) (bool, error)
	MarkRefunded(ctx context.Context, id string) (bool, error)

	// ClaimTicketing grants the caller exclusive use of the ticketing provider
	// for a paid, unticketed booking until the lease runs out.
	ClaimTicketing(ctx context.Context, id string, lease time.Duration) (bool, error)
	// AttachTicketReference succeeds only once, for a paid booking, and moves
	// it to confirmed.
	AttachTicketReference(ctx context.Context, id, ticketRef string) (bool, error)
	// MarkProcessingError records a ticketing failure and releases the claim.
	MarkProcessingError(ctx context.Context, id, message string) error

	ListExpiredPending(ctx context.Context, deadline time.Time, limit int) ([]domain.Booking, error)
	CompleteDepartedBefore(ctx context.Context, cutoff time.Time) ([]domain.Booking, error)
	ListNeedingAttention(ctx context.Context, limit int) ([]domain.Booking, error)
}

type BookingFilter struct {
	OwnerID string
	Status  domain.BookingStatus
	Limit   int
	Offset  int
}

const defaultListLimit = 50

func (f BookingFilter) limit() int {
	if f.Limit <= 0 || f.Limit > 500 {
		return defaultListLimit
	}
	return f.Limit
}
