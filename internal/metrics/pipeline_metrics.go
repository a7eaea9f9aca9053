// =============================================================================
// PIPELINE METRICS - QUEUE AND DISPATCH INSTRUMENTATION
// =============================================================================
//
// WHAT ARE PIPELINE METRICS?
// They answer the operator's first three questions:
//   - Are records getting in?           records_accepted / records_rejected
//   - Are they piling up?               queue_depth vs queue_capacity
//   - Are batches leaving, and how?     batches_total{outcome}
//
// ALERTING:
//   # Queue more than 80% full for 5 minutes
//   batchrelay_pipeline_queue_depth / batchrelay_pipeline_queue_capacity > 0.8
//
//   # Any batch dropped after exhausting retries
//   increase(batchrelay_pipeline_batches_total{outcome="exhausted_retries"}[5m]) > 0
//
// =============================================================================

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Dispatch trigger label values.
const (
	TriggerSize     = "size"
	TriggerTimer    = "timer"
	TriggerBacklog  = "backlog"
	TriggerShutdown = "shutdown"
)

// PipelineMetrics contains queue, gate and dispatcher metrics.
//
// METRIC NAMING:
// All metrics follow the pattern: batchrelay_pipeline_{name}_{unit}
type PipelineMetrics struct {
	// RecordsAccepted counts records the gate put on the queue.
	RecordsAccepted prometheus.Counter

	// RecordsRejected counts records refused at the gate.
	// Labels: reason (queue_full, closed)
	RecordsRejected *prometheus.CounterVec

	// QueueDepth is the number of records waiting to be drained.
	QueueDepth prometheus.Gauge

	// QueueCapacity is the configured queue bound.
	QueueCapacity prometheus.Gauge

	// DispatchRequests counts dispatch requests by origin.
	// Labels: trigger (size, timer, backlog, shutdown)
	//
	// Size, timer and backlog requests are coalesced, so they can outnumber
	// the cycles they cause. Shutdown counts one per drain cycle.
	DispatchRequests *prometheus.CounterVec

	// Batches counts drained batches by terminal outcome.
	// Labels: outcome (success, client_rejected, exhausted_retries)
	Batches *prometheus.CounterVec

	// BatchSize is the number of records per delivered batch.
	BatchSize prometheus.Histogram

	// DispatchDuration measures one drain-and-deliver cycle, retries included.
	DispatchDuration prometheus.Histogram

	registry *Registry
}

func newPipelineMetrics(r *Registry) *PipelineMetrics {
	m := &PipelineMetrics{registry: r}

	m.RecordsAccepted = r.newCounter(prometheus.CounterOpts{
		Subsystem: "pipeline",
		Name:      "records_accepted_total",
		Help:      "Total records accepted onto the queue",
	})
	m.RecordsRejected = r.newCounterVec(
		prometheus.CounterOpts{
			Subsystem: "pipeline",
			Name:      "records_rejected_total",
			Help:      "Total records rejected at the ingestion gate",
		},
		[]string{"reason"},
	)
	m.QueueDepth = r.newGauge(prometheus.GaugeOpts{
		Subsystem: "pipeline",
		Name:      "queue_depth",
		Help:      "Records currently waiting in the queue",
	})
	m.QueueCapacity = r.newGauge(prometheus.GaugeOpts{
		Subsystem: "pipeline",
		Name:      "queue_capacity",
		Help:      "Maximum number of records the queue can hold",
	})
	m.DispatchRequests = r.newCounterVec(
		prometheus.CounterOpts{
			Subsystem: "pipeline",
			Name:      "dispatch_requests_total",
			Help:      "Dispatch requests by trigger",
		},
		[]string{"trigger"},
	)
	m.Batches = r.newCounterVec(
		prometheus.CounterOpts{
			Subsystem: "pipeline",
			Name:      "batches_total",
			Help:      "Batches drained from the queue by delivery outcome",
		},
		[]string{"outcome"},
	)
	m.BatchSize = r.newHistogram(prometheus.HistogramOpts{
		Subsystem: "pipeline",
		Name:      "batch_size_records",
		Help:      "Records per drained batch",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1 .. 2048
	})
	m.DispatchDuration = r.newHistogram(prometheus.HistogramOpts{
		Subsystem: "pipeline",
		Name:      "dispatch_duration_seconds",
		Help:      "Time spent on one drain-and-deliver cycle including retries",
	})

	return m
}

// RecordAccepted records a record accepted onto the queue.
func (m *PipelineMetrics) RecordAccepted(depth int) {
	if m == nil || !m.registry.enabled {
		return
	}
	m.RecordsAccepted.Inc()
	m.QueueDepth.Set(float64(depth))
}

// RecordRejected records a record refused at the gate.
//
// REASONS:
//   - "queue_full": backpressure, caller should retry later
//   - "closed": pipeline is shutting down
func (m *PipelineMetrics) RecordRejected(reason string) {
	if m == nil || !m.registry.enabled {
		return
	}
	m.RecordsRejected.WithLabelValues(reason).Inc()
}

// RecordDispatchRequest records a dispatch request from the given trigger.
func (m *PipelineMetrics) RecordDispatchRequest(trigger string) {
	if m == nil || !m.registry.enabled {
		return
	}
	m.DispatchRequests.WithLabelValues(trigger).Inc()
}

// RecordBatch records a completed dispatch cycle.
func (m *PipelineMetrics) RecordBatch(outcome string, size int, elapsed time.Duration) {
	if m == nil || !m.registry.enabled {
		return
	}
	m.Batches.WithLabelValues(outcome).Inc()
	m.BatchSize.Observe(float64(size))
	m.DispatchDuration.Observe(elapsed.Seconds())
}

// SetQueueDepth sets the current queue depth.
func (m *PipelineMetrics) SetQueueDepth(depth int) {
	if m == nil || !m.registry.enabled {
		return
	}
	m.QueueDepth.Set(float64(depth))
}

// SetQueueCapacity sets the configured queue capacity.
func (m *PipelineMetrics) SetQueueCapacity(capacity int) {
	if m == nil || !m.registry.enabled {
		return
	}
	m.QueueCapacity.Set(float64(capacity))
}
