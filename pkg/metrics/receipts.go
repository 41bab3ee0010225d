package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReceiptMetrics records receipt delivery attempts and outcomes.
type ReceiptMetrics struct {
	attempts  prometheus.Counter
	delivered prometheus.Counter
	failures  *prometheus.CounterVec
	duration  prometheus.Histogram
}

// NewReceiptMetrics registers the receipt delivery metrics on the provided registerer.
func NewReceiptMetrics(reg prometheus.Registerer) *ReceiptMetrics {
	if reg == nil {
		return &ReceiptMetrics{}
	}
	attempts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "receipt_delivery_attempts_total",
		Help: "Receipt delivery attempts including retries.",
	})
	delivered := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "receipt_deliveries_total",
		Help: "Receipts successfully handed to the mail transport.",
	})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "receipt_delivery_failures_total",
		Help: "Receipt delivery failures by classification.",
	}, []string{"kind"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "receipt_delivery_duration_seconds",
		Help:    "Duration of a single delivery attempt in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	reg.MustRegister(attempts, delivered, failures, duration)
	return &ReceiptMetrics{
		attempts:  attempts,
		delivered: delivered,
		failures:  failures,
		duration:  duration,
	}
}

// IncAttempt counts one delivery attempt.
func (m *ReceiptMetrics) IncAttempt() {
	if m == nil || m.attempts == nil {
		return
	}
	m.attempts.Inc()
}

// IncDelivered counts one successful delivery.
func (m *ReceiptMetrics) IncDelivered() {
	if m == nil || m.delivered == nil {
		return
	}
	m.delivered.Inc()
}

// IncFailure counts one delivery failure with its classification.
func (m *ReceiptMetrics) IncFailure(kind string) {
	if m == nil || m.failures == nil {
		return
	}
	m.failures.WithLabelValues(kind).Inc()
}

// ObserveDeliveryDuration records how long a delivery attempt took.
func (m *ReceiptMetrics) ObserveDeliveryDuration(duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.Observe(duration.Seconds())
}
