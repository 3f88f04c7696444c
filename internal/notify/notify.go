package notify

import (
	"context"
	"time"

	"github.com/Domenick1991/airticket/internal/kafka"
	"github.com/sirupsen/logrus"
)

// Sink receives booking events. Implementations must not block the caller for
// long and must never report failure back into the booking pipeline.
type Sink interface {
	Notify(ctx context.Context, event kafka.BookingEvent)
}

type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload any) error
}

// KafkaSink publishes every event to the booking events topic and operator
// alerts additionally to the alert topic.
type KafkaSink struct {
	publisher   Publisher
	eventsTopic string
	alertTopic  string
	log         logrus.FieldLogger
	timeout     time.Duration
}

func NewKafkaSink(publisher Publisher, eventsTopic, alertTopic string, log logrus.FieldLogger) *KafkaSink {
	return &KafkaSink{
		publisher:   publisher,
		eventsTopic: eventsTopic,
		alertTopic:  alertTopic,
		log:         log,
		timeout:     5 * time.Second,
	}
}

func (s *KafkaSink) Notify(ctx context.Context, event kafka.BookingEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	logEvent(s.log, event)

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if s.eventsTopic != "" {
		s.publish(pubCtx, s.eventsTopic, event)
	}
	if s.alertTopic != "" && event.IsOperatorAlert() {
		s.publish(pubCtx, s.alertTopic, event)
	}
}

func (s *KafkaSink) publish(ctx context.Context, topic string, event kafka.BookingEvent) {
	if err := s.publisher.Publish(ctx, topic, event.BookingID, event); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"topic":      topic,
			"booking_id": event.BookingID,
			"event":      event.Type,
		}).Warn("failed to publish booking event")
	}
}

// LogSink only logs. It is used when no broker is configured.
type LogSink struct {
	log logrus.FieldLogger
}

func NewLogSink(log logrus.FieldLogger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Notify(_ context.Context, event kafka.BookingEvent) {
	logEvent(s.log, event)
}

func logEvent(log logrus.FieldLogger, event kafka.BookingEvent) {
	entry := log.WithFields(logrus.Fields{
		"booking_id":  event.BookingID,
		"event":       event.Type,
		"status":      event.Status,
		"payment_ref": event.PaymentRef,
		"ticket_ref":  event.TicketRef,
	})
	switch event.Severity {
	case kafka.SeverityCritical:
		entry.Error(event.Message)
	case kafka.SeverityWarning:
		entry.Warn(event.Message)
	default:
		entry.Info("booking event")
	}
}

var (
	_ Sink = (*KafkaSink)(nil)
	_ Sink = (*LogSink)(nil)
)
