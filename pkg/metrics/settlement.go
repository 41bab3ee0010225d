package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics records provider callback processing outcomes.
type SettlementMetrics struct {
	callbacks     *prometheus.CounterVec
	duplicates    prometheus.Counter
	finalizations prometheus.Counter
	duration      prometheus.Histogram
}

// NewSettlementMetrics registers the settlement metrics on the provided registerer.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	callbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_callbacks_total",
		Help: "Processed provider callbacks by reported status.",
	}, []string{"status"})
	duplicates := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "settlement_duplicate_callbacks_total",
		Help: "Callbacks that were safe no-ops because the state was already reached.",
	})
	finalizations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "settlement_finalizations_total",
		Help: "Transactions advanced to the paid state.",
	})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "settlement_callback_duration_seconds",
		Help:    "Duration of callback processing in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	reg.MustRegister(callbacks, duplicates, finalizations, duration)
	return &SettlementMetrics{
		callbacks:     callbacks,
		duplicates:    duplicates,
		finalizations: finalizations,
		duration:      duration,
	}
}

// IncCallback counts one processed callback for the given provider status.
func (m *SettlementMetrics) IncCallback(status string) {
	if m == nil || m.callbacks == nil {
		return
	}
	m.callbacks.WithLabelValues(status).Inc()
}

// IncDuplicate counts a callback that found its transition already applied.
func (m *SettlementMetrics) IncDuplicate() {
	if m == nil || m.duplicates == nil {
		return
	}
	m.duplicates.Inc()
}

// IncFinalization counts a transaction reaching the paid state.
func (m *SettlementMetrics) IncFinalization() {
	if m == nil || m.finalizations == nil {
		return
	}
	m.finalizations.Inc()
}

// ObserveCallbackDuration records how long callback processing took.
func (m *SettlementMetrics) ObserveCallbackDuration(duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.Observe(duration.Seconds())
}
