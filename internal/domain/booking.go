package domain

import (
	"encoding/json"
	"time"
)

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusPaid      BookingStatus = "paid"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusFailed    BookingStatus = "failed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusRefunded  BookingStatus = "refunded"
	BookingStatusCompleted BookingStatus = "completed"
)

// transitions lists every legal edge of the booking lifecycle.
var transitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:   {BookingStatusPaid, BookingStatusFailed, BookingStatusCancelled},
	BookingStatusPaid:      {BookingStatusConfirmed, BookingStatusRefunded},
	BookingStatusConfirmed: {BookingStatusCompleted, BookingStatusRefunded},
}

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingStatusPending, BookingStatusPaid, BookingStatusConfirmed, BookingStatusFailed,
		BookingStatusCancelled, BookingStatusRefunded, BookingStatusCompleted:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is a legal successor of s. The one
// exception to the table, reviving an expired booking on late payment, is
// handled by the store and is not a regular edge.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s BookingStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// DisplayText is what the customer sees for each status.
func (s BookingStatus) DisplayText() string {
	switch s {
	case BookingStatusPending:
		return "awaiting payment"
	case BookingStatusPaid:
		return "payment received, ticket pending"
	case BookingStatusConfirmed:
		return "ticket issued"
	case BookingStatusCompleted:
		return "trip completed"
	case BookingStatusFailed:
		return "payment failed"
	case BookingStatusCancelled:
		return "cancelled"
	case BookingStatusRefunded:
		return "refunded"
	default:
		return string(s)
	}
}

type CancelReason string

const (
	CancelReasonNone    CancelReason = ""
	CancelReasonUser    CancelReason = "user"
	CancelReasonExpired CancelReason = "expired"
)

type CabinClass string

const (
	CabinEconomy        CabinClass = "economy"
	CabinPremiumEconomy CabinClass = "premium_economy"
	CabinBusiness       CabinClass = "business"
	CabinFirst          CabinClass = "first"
)

func (c CabinClass) Valid() bool {
	switch c {
	case CabinEconomy, CabinPremiumEconomy, CabinBusiness, CabinFirst:
		return true
	}
	return false
}

type Contact struct {
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type Booking struct {
	ID             string
	OwnerID        string
	IdempotencyKey string

	Origin        string
	Destination   string
	DepartureDate time.Time
	ReturnDate    *time.Time
	Adults        int
	Children      int
	Infants       int
	CabinClass    CabinClass
	OfferID       string
	Offer         json.RawMessage
	AmountMinor   int64
	Currency      string

	Passengers []Passenger
	Contact    Contact

	PaymentRef  string
	CheckoutURL string
	TicketRef   string

	Status       BookingStatus
	CancelReason CancelReason
	ErrorMessage string

	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	PaidAt      *time.Time
	CompletedAt *time.Time
}

// IdempotencyKeyFor derives the payment-link idempotency key of a booking.
// It depends on the booking id only so every retry sends the same key.
func IdempotencyKeyFor(bookingID string) string {
	return "booking:" + bookingID
}

// TicketingKeyFor is the idempotency key sent to the ticketing provider.
func TicketingKeyFor(bookingID string) string {
	return "ticket:" + bookingID
}

func (b *Booking) PassengerCount() int {
	return b.Adults + b.Children + b.Infants
}

// IsExpired reports whether a pending booking is past its payment window.
func (b *Booking) IsExpired(now time.Time) bool {
	return b.Status == BookingStatusPending && !b.ExpiresAt.After(now)
}

// NeedsTicket is true for a paid booking that still lacks a ticket reference.
func (b *Booking) NeedsTicket() bool {
	return b.Status == BookingStatusPaid && b.TicketRef == ""
}

// IsOwnedBy reports whether the booking belongs to the given user. Guest
// bookings have no owner.
func (b *Booking) IsOwnedBy(userID string) bool {
	return b.OwnerID != "" && b.OwnerID == userID
}
