package email

import (
	"bytes"
	"context"
	"errors"
	"text/template"

	"github.com/Domenick1991/airticket/internal/kafka"
	"github.com/sirupsen/logrus"
)

var ErrNoRecipient = errors.New("event has no recipient address")

var subjects = map[kafka.EventType]string{
	kafka.EventBookingCreated:   "Complete your payment for booking {{.BookingID}}",
	kafka.EventBookingPaid:      "Payment received for booking {{.BookingID}}",
	kafka.EventBookingConfirmed: "Your ticket {{.TicketRef}} is issued",
	kafka.EventBookingFailed:    "Payment for booking {{.BookingID}} failed",
	kafka.EventBookingCancelled: "Booking {{.BookingID}} was cancelled",
	kafka.EventBookingRefunded:  "Booking {{.BookingID}} was refunded",
	kafka.EventBookingCompleted: "Thanks for flying with us",
}

var body = template.Must(template.New("body").Parse(
	`Booking {{.BookingID}} is now {{.Status}}.
{{- if .PaymentRef}}
Payment reference: {{.PaymentRef}}{{end}}
{{- if .TicketRef}}
Ticket reference: {{.TicketRef}}{{end}}
{{- if .Message}}
{{.Message}}{{end}}
`))

type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender renders customer mails. Delivery is a structured log line until an
// SMTP relay is configured.
type Sender struct {
	subjects map[kafka.EventType]*template.Template
	log      logrus.FieldLogger
}

func NewSender(log logrus.FieldLogger) *Sender {
	s := &Sender{subjects: make(map[kafka.EventType]*template.Template, len(subjects)), log: log}
	for eventType, text := range subjects {
		s.subjects[eventType] = template.Must(template.New(string(eventType)).Parse(text))
	}
	return s
}

// Compose reports false for events that are not mailed to customers.
func (s *Sender) Compose(event kafka.BookingEvent) (*Message, bool, error) {
	subject, ok := s.subjects[event.Type]
	if !ok || event.IsOperatorAlert() {
		return nil, false, nil
	}
	if event.Email == "" {
		return nil, false, ErrNoRecipient
	}

	var subj, text bytes.Buffer
	if err := subject.Execute(&subj, event); err != nil {
		return nil, false, err
	}
	if err := body.Execute(&text, event); err != nil {
		return nil, false, err
	}
	return &Message{To: event.Email, Subject: subj.String(), Body: text.String()}, true, nil
}

func (s *Sender) Send(ctx context.Context, event kafka.BookingEvent) error {
	msg, ok, err := s.Compose(event)
	if err != nil || !ok {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"to":         msg.To,
		"subject":    msg.Subject,
		"booking_id": event.BookingID,
		"event":      event.Type,
	}).Info("email sent")
	return ctx.Err()
}
