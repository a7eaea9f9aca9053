// =============================================================================
// OBSERVABILITY WITH PROMETHEUS - CORE METRICS INFRASTRUCTURE
// =============================================================================
//
// WHAT DO WE MEASURE?
// batchrelay is a pipe: records come in over HTTP, sit in a bounded queue,
// leave in batches, and get POSTed to a sink. Every stage has a metric:
//
//   ┌───────────┐   ┌──────────────┐   ┌──────────────┐   ┌──────────────┐
//   │  HTTP     │──►│  Queue       │──►│  Dispatcher  │──►│  Delivery    │
//   │ requests  │   │ depth/reject │   │ batches/size │   │ attempts     │
//   └───────────┘   └──────────────┘   └──────────────┘   └──────────────┘
//    batchrelay_     batchrelay_         batchrelay_        batchrelay_
//    http_*          pipeline_*          pipeline_*         delivery_*
//
// PULL MODEL:
// Prometheus scrapes GET /metrics. Nothing is pushed, so a dead sink never
// blocks metric collection.
//
// NO GLOBAL REGISTRY:
// The process builds one Registry in main and hands the subsystem structs to
// the components that record into them. Tests build their own registries
// side by side without colliding on registration.
//
// =============================================================================

package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all batchrelay metrics and the Prometheus registry.
type Registry struct {
	// promRegistry is the underlying Prometheus registry
	promRegistry *prometheus.Registry

	config Config
	logger *slog.Logger

	// enabled tracks if metrics collection is enabled
	enabled bool

	// Subsystem metrics. All nil when metrics are disabled; their methods
	// are nil-safe.
	Pipeline *PipelineMetrics
	Delivery *DeliveryMetrics
	HTTP     *HTTPMetrics
}

// Config holds metrics configuration.
type Config struct {
	// Enabled turns metrics collection on/off.
	// When disabled, all metric operations are no-ops.
	Enabled bool

	// Namespace is the prefix for all metrics (default: "batchrelay")
	Namespace string

	// IncludeGoCollector adds Go runtime metrics (goroutines, GC, memory)
	IncludeGoCollector bool

	// IncludeProcessCollector adds process metrics (CPU, memory, fds)
	IncludeProcessCollector bool

	// HistogramBuckets for latency measurements (in seconds).
	HistogramBuckets []float64
}

// DefaultConfig returns sensible defaults for metrics configuration.
//
// BUCKET DESIGN:
// Delivery latency is dominated by the sink's response time plus, on retry,
// whole multiples of the retry wait (2s by default). The tail buckets go out
// far enough to show a batch that burned its full retry budget.
//
//	┌────────────────────────────────────────────────────────────────────────┐
//	│   0.005  0.01  0.025  0.05  0.1  0.25  0.5  1  2.5  5  10  30  60      │
//	│   └──── single POST ──────────────┘    └─── retried batches ───┘       │
//	└────────────────────────────────────────────────────────────────────────┘
func DefaultConfig() Config {
	return Config{
		Enabled:                 true,
		Namespace:               "batchrelay",
		IncludeGoCollector:      true,
		IncludeProcessCollector: true,
		HistogramBuckets: []float64{
			0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
			1, 2.5, 5, 10, 30, 60,
		},
	}
}

// NewRegistry creates a new metrics registry.
func NewRegistry(config Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Namespace == "" {
		config.Namespace = "batchrelay"
	}
	if len(config.HistogramBuckets) == 0 {
		config.HistogramBuckets = DefaultConfig().HistogramBuckets
	}
	logger = logger.With("component", "metrics")

	r := &Registry{
		promRegistry: prometheus.NewRegistry(),
		config:       config,
		logger:       logger,
		enabled:      config.Enabled,
	}

	if !config.Enabled {
		logger.Info("metrics collection disabled")
		return r
	}

	if config.IncludeGoCollector {
		r.promRegistry.MustRegister(collectors.NewGoCollector())
	}
	if config.IncludeProcessCollector {
		r.promRegistry.MustRegister(collectors.NewProcessCollector(
			collectors.ProcessCollectorOpts{},
		))
	}

	r.Pipeline = newPipelineMetrics(r)
	r.Delivery = newDeliveryMetrics(r)
	r.HTTP = newHTTPMetrics(r)

	logger.Info("metrics registry initialized", "namespace", config.Namespace)

	return r
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	if !r.enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("# Metrics disabled\n"))
		})
	}

	return promhttp.HandlerFor(r.promRegistry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorLog:          &promLogger{logger: r.logger},
		Registry:          r.promRegistry,
	})
}

// promLogger adapts slog to Prometheus error logging interface.
type promLogger struct {
	logger *slog.Logger
}

func (l *promLogger) Println(v ...interface{}) {
	l.logger.Error("prometheus handler error", "error", v)
}

// Enabled returns true if metrics collection is enabled.
func (r *Registry) Enabled() bool {
	return r.enabled
}

// Namespace returns the configured namespace.
func (r *Registry) Namespace() string {
	return r.config.Namespace
}

// PrometheusRegistry returns the underlying Prometheus registry.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.promRegistry
}

// =============================================================================
// METRIC REGISTRATION HELPERS
// =============================================================================

func (r *Registry) newCounter(opts prometheus.CounterOpts) prometheus.Counter {
	opts.Namespace = r.config.Namespace
	counter := prometheus.NewCounter(opts)
	r.promRegistry.MustRegister(counter)
	return counter
}

func (r *Registry) newCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
	opts.Namespace = r.config.Namespace
	counterVec := prometheus.NewCounterVec(opts, labelNames)
	r.promRegistry.MustRegister(counterVec)
	return counterVec
}

func (r *Registry) newGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	opts.Namespace = r.config.Namespace
	gauge := prometheus.NewGauge(opts)
	r.promRegistry.MustRegister(gauge)
	return gauge
}

func (r *Registry) newHistogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	opts.Namespace = r.config.Namespace
	if opts.Buckets == nil {
		opts.Buckets = r.config.HistogramBuckets
	}
	histogram := prometheus.NewHistogram(opts)
	r.promRegistry.MustRegister(histogram)
	return histogram
}

func (r *Registry) newHistogramVec(opts prometheus.HistogramOpts, labelNames []string) *prometheus.HistogramVec {
	opts.Namespace = r.config.Namespace
	if opts.Buckets == nil {
		opts.Buckets = r.config.HistogramBuckets
	}
	histogramVec := prometheus.NewHistogramVec(opts, labelNames)
	r.promRegistry.MustRegister(histogramVec)
	return histogramVec
}

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer measures the duration of an operation.
//
//	timer := metrics.NewTimer(histogram)
//	defer timer.ObserveDuration()
type Timer struct {
	start    time.Time
	observer prometheus.Observer
}

// NewTimer creates a new timer that will observe the given histogram.
// A nil observer is allowed; the timer then only measures.
func NewTimer(observer prometheus.Observer) *Timer {
	return &Timer{
		start:    time.Now(),
		observer: observer,
	}
}

// ObserveDuration records the elapsed time since the timer was created.
func (t *Timer) ObserveDuration() time.Duration {
	elapsed := time.Since(t.start)
	if t.observer != nil {
		t.observer.Observe(elapsed.Seconds())
	}
	return elapsed
}
