package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Consumer results, the "result" label of kafka_consumer_messages_total.
const (
	resultReceived     = "received"
	resultCommitted    = "committed"
	resultAcked        = "acked_after_failure"
	resultRedelivered  = "redelivered"
	resultDeadLettered = "dead_lettered"
	resultUndecodable  = "undecodable"
)

var (
	consumerMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_messages_total",
			Help: "Kafka messages seen by a consumer, by what happened to them",
		},
		[]string{"topic", "consumer_group", "result"},
	)

	consumerHandleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_consumer_handle_duration_seconds",
			Help:    "Duration of one handler invocation",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"topic", "consumer_group"},
	)

	// Zero unless the consumer is withholding a commit while it redelivers.
	consumerStuckAge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_oldest_unacked_age_seconds",
			Help: "Age in seconds of the message whose commit is being withheld",
		},
		[]string{"topic", "consumer_group"},
	)

	duplicateEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_duplicate_events_total",
			Help: "Events skipped because their event_id was already handled",
		},
		[]string{"event_type"},
	)

	dlqPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_dlq_published_total",
			Help: "Messages copied to a dead-letter topic",
		},
		[]string{"source_topic", "consumer_group"},
	)

	producerMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_producer_messages_total",
			Help: "Kafka publish attempts by outcome",
		},
		[]string{"topic", "outcome"},
	)

	producerPublishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_producer_publish_duration_seconds",
			Help:    "Duration of Kafka publish operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic"},
	)
)

// consumerMetrics holds the series of one topic and group.
type consumerMetrics struct {
	received, committed, acked, redelivered, deadLettered, undecodable prometheus.Counter

	dlq      prometheus.Counter
	duration prometheus.Observer
	stuckAge prometheus.Gauge
}

func newConsumerMetrics(topic, group string) consumerMetrics {
	count := func(result string) prometheus.Counter {
		return consumerMessages.WithLabelValues(topic, group, result)
	}
	return consumerMetrics{
		received:     count(resultReceived),
		committed:    count(resultCommitted),
		acked:        count(resultAcked),
		redelivered:  count(resultRedelivered),
		deadLettered: count(resultDeadLettered),
		undecodable:  count(resultUndecodable),
		dlq:          dlqPublished.WithLabelValues(topic, group),
		duration:     consumerHandleDuration.WithLabelValues(topic, group),
		stuckAge:     consumerStuckAge.WithLabelValues(topic, group),
	}
}

func observePublish(topic string, seconds float64, err error) {
	producerPublishDuration.WithLabelValues(topic).Observe(seconds)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	producerMessages.WithLabelValues(topic, outcome).Inc()
}
