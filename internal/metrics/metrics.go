package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BookingTransitions counts status changes by source and target status.
	BookingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rentals",
			Name:      "booking_transitions_total",
			Help:      "The total number of booking status transitions",
		},
		[]string{"from", "to"},
	)

	BookingConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rentals",
			Name:      "booking_conflicts_total",
			Help:      "The total number of booking operations rejected by a conflict",
		},
		[]string{"operation"},
	)

	RefundsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rentals",
			Name:      "refunds_issued_total",
			Help:      "The total number of refunds issued on cancellation",
		},
		[]string{"payment_status"},
	)

	// WebhookEvents counts webhook deliveries by event type and outcome
	// (processed, duplicate, ignored, failed).
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rentals",
			Name:      "webhook_events_total",
			Help:      "The total number of payment webhook deliveries",
		},
		[]string{"event_type", "outcome"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rentals",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
