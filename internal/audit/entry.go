package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Action string

const (
	ActionBookingCreated    Action = "booking_created"
	ActionPaymentLinkIssued Action = "payment_link_issued"
	ActionPaymentConfirmed  Action = "payment_confirmed"
	ActionPaymentFailed     Action = "payment_failed"
	ActionTicketIssued      Action = "ticket_issued"
	ActionTicketFailed      Action = "ticket_failed"
	ActionDuplicateTicket   Action = "duplicate_ticket_discarded"
	ActionBookingCancelled  Action = "booking_cancelled"
	ActionBookingRefunded   Action = "booking_refunded"
	ActionBookingCompleted  Action = "booking_completed"
	ActionPaymentAnomaly    Action = "payment_anomaly"
	ActionWebhookRejected   Action = "webhook_rejected"
)

// Entry is one immutable audit record.
type Entry struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	BookingID  string          `json:"booking_id" db:"booking_id"`
	Action     Action          `json:"action" db:"action"`
	Source     string          `json:"source" db:"source"`
	ActorID    string          `json:"actor_id,omitempty" db:"actor_id"`
	FromStatus string          `json:"from_status,omitempty" db:"from_status"`
	ToStatus   string          `json:"to_status,omitempty" db:"to_status"`
	Details    json.RawMessage `json:"details,omitempty" db:"details"`
	IPAddress  string          `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent  string          `json:"user_agent,omitempty" db:"user_agent"`
	Device     string          `json:"device,omitempty" db:"device"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// WithDetails attaches a JSON object of extra fields. Marshal failures drop
// the details rather than the entry.
func (e Entry) WithDetails(details map[string]any) Entry {
	if raw, err := json.Marshal(details); err == nil {
		e.Details = raw
	}
	return e
}
