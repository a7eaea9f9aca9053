// =============================================================================
// DELIVERY METRICS - SINK-FACING INSTRUMENTATION
// =============================================================================
//
// One batch can cost several POSTs. Pipeline metrics count batches; these
// count the individual attempts, so a flapping sink shows up as
// attempts_total{result="server_error"} climbing while batches still succeed.
//
// PROMQL:
//   # Fraction of POSTs that needed a retry
//   rate(batchrelay_delivery_retries_total[5m]) /
//   rate(batchrelay_delivery_attempts_total[5m])
//
// =============================================================================

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DeliveryMetrics contains per-attempt sink metrics.
type DeliveryMetrics struct {
	// Attempts counts POST attempts by classified result.
	// Labels: result (success, client_error, server_error, network_failure, other_failure)
	Attempts *prometheus.CounterVec

	// Retries counts waits scheduled between attempts.
	Retries prometheus.Counter

	// AttemptLatency measures a single POST round trip.
	// Labels: result
	AttemptLatency *prometheus.HistogramVec

	// BytesSent counts request body bytes sent to the sink, retries included.
	BytesSent prometheus.Counter

	registry *Registry
}

func newDeliveryMetrics(r *Registry) *DeliveryMetrics {
	m := &DeliveryMetrics{registry: r}

	m.Attempts = r.newCounterVec(
		prometheus.CounterOpts{
			Subsystem: "delivery",
			Name:      "attempts_total",
			Help:      "POST attempts to the sink by result",
		},
		[]string{"result"},
	)
	m.Retries = r.newCounter(prometheus.CounterOpts{
		Subsystem: "delivery",
		Name:      "retries_total",
		Help:      "Retries scheduled after a retryable attempt",
	})
	m.AttemptLatency = r.newHistogramVec(
		prometheus.HistogramOpts{
			Subsystem: "delivery",
			Name:      "attempt_duration_seconds",
			Help:      "Duration of a single POST to the sink",
		},
		[]string{"result"},
	)
	m.BytesSent = r.newCounter(prometheus.CounterOpts{
		Subsystem: "delivery",
		Name:      "bytes_sent_total",
		Help:      "Request body bytes sent to the sink",
	})

	return m
}

// RecordAttempt records one POST and its classified result.
func (m *DeliveryMetrics) RecordAttempt(result string, bytes int, latency time.Duration) {
	if m == nil || !m.registry.enabled {
		return
	}
	m.Attempts.WithLabelValues(result).Inc()
	m.AttemptLatency.WithLabelValues(result).Observe(latency.Seconds())
	m.BytesSent.Add(float64(bytes))
}

// RecordRetry records a retry being scheduled.
func (m *DeliveryMetrics) RecordRetry() {
	if m == nil || !m.registry.enabled {
		return
	}
	m.Retries.Inc()
}
