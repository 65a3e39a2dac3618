package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IssueCouponDuration tracks the latency of coupon issuance
	IssueCouponDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "coupon_issue_duration_seconds",
			Help: "Duration of coupon issuance requests in seconds",
			Buckets: []float64{
				0.001, // 1ms
				0.005, // 5ms
				0.01,  // 10ms
				0.025, // 25ms
				0.05,  // 50ms
				0.1,   // 100ms
				0.25,  // 250ms
				0.5,   // 500ms
				1.0,   // 1s
				2.5,   // 2.5s
				5.0,   // 5s
				10.0,  // 10s
			},
		},
		[]string{"status"}, // success, duplicate, sold_out, not_initialized, invalid, store_error, publish_error
	)

	// PublishRetries counts individual failed publish attempts
	PublishRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coupon_publish_retries_total",
			Help: "Number of failed event log publish attempts",
		},
		[]string{"type"},
	)

	// PublishFailures counts publishes that exhausted the retry budget
	PublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coupon_publish_failures_total",
			Help: "Number of event log publishes that exhausted the retry budget",
		},
		[]string{"type"},
	)

	// Compensations counts rollback attempts after failed publishes
	Compensations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coupon_compensations_total",
			Help: "Number of issuance compensations by result",
		},
		[]string{"result"}, // rolled_back, noop, failed
	)

	// ConsumerRecords counts records processed by the durable writer
	ConsumerRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coupon_consumer_records_total",
			Help: "Number of log records processed by the durable writer",
		},
		[]string{"type", "result"}, // result: applied, duplicate, failed, dead_letter, skipped
	)

	// ConsumerRetries counts transient database retries in the durable writer
	ConsumerRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coupon_consumer_retries_total",
			Help: "Number of transient database errors retried by the durable writer",
		},
	)

	// ReconcileDiscrepancies reports the signed store-minus-database difference
	// per event (negative on overshoot)
	ReconcileDiscrepancies = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coupon_reconcile_discrepancy",
			Help: "Difference between in-memory participants and persisted issuances per event",
		},
		[]string{"event_id", "kind"}, // kind: ok, lag, gap, overshoot
	)
)

// RecordIssueCouponDuration records the duration of a coupon issuance request
func RecordIssueCouponDuration(status string, duration float64) {
	IssueCouponDuration.WithLabelValues(status).Observe(duration)
}

// RecordPublishRetry records one failed publish attempt
func RecordPublishRetry(recordType string) {
	PublishRetries.WithLabelValues(recordType).Inc()
}

// RecordPublishFailure records an exhausted publish budget
func RecordPublishFailure(recordType string) {
	PublishFailures.WithLabelValues(recordType).Inc()
}

// RecordCompensation records the outcome of a rollback attempt
func RecordCompensation(result string) {
	Compensations.WithLabelValues(result).Inc()
}

// RecordConsumerRecord records one processed log record
func RecordConsumerRecord(recordType, result string) {
	ConsumerRecords.WithLabelValues(recordType, result).Inc()
}

// RecordReconcileDiscrepancy reports the current gap for an event
func RecordReconcileDiscrepancy(eventID, kind string, gap float64) {
	ReconcileDiscrepancies.WithLabelValues(eventID, kind).Set(gap)
}
