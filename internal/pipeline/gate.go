package pipeline

import (
	"batchrelay/internal/metrics"
)

// Gate is the producer-facing entry point. It offers records to the queue and
// fires the size trigger when occupancy reaches the batch size.
//
// Submit never waits for delivery. The threshold callback is expected to be
// non-blocking and to collapse repeated calls for the same crossing (see
// Dispatcher.RequestSize).
type Gate[T any] struct {
	queue       *Queue[T]
	batchSize   int
	onThreshold func()
	metrics     *metrics.PipelineMetrics
}

// NewGate creates a gate in front of queue.
func NewGate[T any](queue *Queue[T], batchSize int, onThreshold func(), m *metrics.PipelineMetrics) *Gate[T] {
	if onThreshold == nil {
		onThreshold = func() {}
	}
	return &Gate[T]{
		queue:       queue,
		batchSize:   batchSize,
		onThreshold: onThreshold,
		metrics:     m,
	}
}

// Submit offers record to the queue. On rejection it returns false and does
// nothing else; surfacing backpressure is the caller's job.
func (g *Gate[T]) Submit(record T) bool {
	if !g.queue.Offer(record) {
		g.metrics.RecordRejected(rejectQueueFull)
		return false
	}

	depth := g.queue.Len()
	g.metrics.RecordAccepted(depth)

	if depth >= g.batchSize {
		g.onThreshold()
	}
	return true
}
