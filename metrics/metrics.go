// Package metrics exposes Prometheus collectors for booking operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/amg/studio-ledger/studio"
)

// Metrics implements studio.Observer.
type Metrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	expired    prometheus.Counter
}

// MustNewMetrics registers the collectors with reg and panics on a
// duplicate registration. Tests should pass a fresh prometheus.NewRegistry().
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	operations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "studio",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Booking and ledger operations by outcome code.",
		},
		[]string{"op", "code"},
	)
	latency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "studio",
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Time spent serving each operation.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)
	expired := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "studio",
			Subsystem: "ledger",
			Name:      "subscriptions_expired_total",
			Help:      "Subscriptions moved to expired by the overdue sweep.",
		},
	)

	reg.MustRegister(operations, latency, expired)
	return &Metrics{operations: operations, latency: latency, expired: expired}
}

func (m *Metrics) OperationCompleted(op string, code studio.ErrorCode, elapsed time.Duration) {
	label := string(code)
	if label == "" {
		label = "OK"
	}
	m.operations.WithLabelValues(op, label).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Metrics) SubscriptionsExpired(n int) {
	if n > 0 {
		m.expired.Add(float64(n))
	}
}

var _ studio.Observer = (*Metrics)(nil)
