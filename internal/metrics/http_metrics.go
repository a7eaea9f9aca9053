package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics contains inbound API metrics.
//
// The route label is the chi route pattern ("/log"), never the raw path, so
// cardinality stays bounded no matter what clients send.
type HTTPMetrics struct {
	// Requests counts handled requests.
	// Labels: method, route, code
	Requests *prometheus.CounterVec

	// RequestDuration measures handler latency.
	// Labels: method, route
	RequestDuration *prometheus.HistogramVec

	registry *Registry
}

func newHTTPMetrics(r *Registry) *HTTPMetrics {
	m := &HTTPMetrics{registry: r}

	m.Requests = r.newCounterVec(
		prometheus.CounterOpts{
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled by route and status code",
		},
		[]string{"method", "route", "code"},
	)
	m.RequestDuration = r.newHistogramVec(
		prometheus.HistogramOpts{
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1},
		},
		[]string{"method", "route"},
	)

	return m
}

// RecordRequest records one handled request.
func (m *HTTPMetrics) RecordRequest(method, route string, code int, latency time.Duration) {
	if m == nil || !m.registry.enabled {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.Requests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(latency.Seconds())
}
