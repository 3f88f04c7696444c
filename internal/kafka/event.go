package kafka

import "time"

type EventType string

const (
	EventBookingCreated   EventType = "booking.created"
	EventBookingPaid      EventType = "booking.paid"
	EventBookingConfirmed EventType = "booking.confirmed"
	EventBookingFailed    EventType = "booking.failed"
	EventBookingCancelled EventType = "booking.cancelled"
	EventBookingRefunded  EventType = "booking.refunded"
	EventBookingCompleted EventType = "booking.completed"
	EventTicketingFailed  EventType = "ticketing.failed"
	EventPaymentAnomaly   EventType = "payment.anomaly"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// BookingEvent is the message published for customer notifications and
// operator alerts.
type BookingEvent struct {
	Type       EventType `json:"type"`
	BookingID  string    `json:"booking_id"`
	Status     string    `json:"status"`
	Email      string    `json:"email,omitempty"`
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message,omitempty"`
	PaymentRef string    `json:"payment_ref,omitempty"`
	TicketRef  string    `json:"ticket_ref,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// IsOperatorAlert reports whether the event needs operator attention rather
// than a customer mail.
func (e BookingEvent) IsOperatorAlert() bool {
	return e.Severity != SeverityInfo
}
