// Package metrics defines the hub's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Inbound gateway
	InboundTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaypoint_inbound_webhooks_total",
			Help: "Total inbound webhook requests by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	InboundBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relaypoint_inbound_bytes_total",
			Help: "Total bytes of inbound webhook payloads accepted",
		},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaypoint_rate_limit_hits_total",
			Help: "Requests rejected by the rate limiter, by API key id",
		},
		[]string{"key_id"},
	)

	// Outbound delivery
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaypoint_deliveries_total",
			Help: "Outbound delivery attempts by target and outcome",
		},
		[]string{"target", "outcome"},
	)

	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relaypoint_delivery_duration_seconds",
			Help:    "Duration of outbound delivery calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"target"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relaypoint_breaker_open",
			Help: "1 when the circuit breaker for a target is open",
		},
		[]string{"target"},
	)

	BreakerShortCircuits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaypoint_breaker_short_circuits_total",
			Help: "Deliveries short-circuited by an open breaker",
		},
		[]string{"target"},
	)

	// Queues and retries
	QueuePublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaypoint_queue_published_total",
			Help: "Delivery tasks published per queue",
		},
		[]string{"queue"},
	)

	RetriesSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relaypoint_retries_swept_total",
			Help: "Events re-enqueued by the retry scheduler",
		},
	)

	DeadLettersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relaypoint_dead_letters_total",
			Help: "Events moved to the dead letter store",
		},
	)
)
