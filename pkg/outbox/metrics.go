package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_events_published_total",
			Help: "Total number of outbox events relayed to Kafka",
		},
		[]string{"event_type"},
	)

	publishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_publish_failures_total",
			Help: "Total number of failed outbox publish attempts",
		},
		[]string{"event_type"},
	)

	pendingEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_pending_events",
			Help: "Unpublished outbox events found by the last relay poll",
		},
	)

	stuckEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_stuck_events",
			Help: "Unpublished outbox events that exhausted their retries",
		},
	)
)
