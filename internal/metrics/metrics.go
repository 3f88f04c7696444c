package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airticket_checkout_total",
			Help: "Checkout requests by outcome",
		},
		[]string{"outcome"},
	)

	PriceValidationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airticket_price_validation_total",
			Help: "Offer re-pricing results",
		},
		[]string{"result"},
	)

	ReconcileTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airticket_reconcile_total",
			Help: "Reconciliation runs by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	WebhookRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "airticket_webhook_rejected_total",
			Help: "Webhook deliveries rejected by the signature check",
		},
	)

	TicketIssueTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airticket_ticket_issue_total",
			Help: "Ticket issuance attempts by outcome",
		},
		[]string{"outcome"},
	)

	AnomalyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airticket_payment_anomaly_total",
			Help: "Operator-visible payment anomalies",
		},
		[]string{"kind"},
	)

	SweepTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airticket_sweep_transitions_total",
			Help: "Bookings moved by background sweeps",
		},
		[]string{"sweep"},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "airticket_provider_request_duration_seconds",
			Help:    "Latency of calls to external providers",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "operation", "status"},
	)
)
