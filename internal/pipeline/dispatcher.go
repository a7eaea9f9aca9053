// =============================================================================
// BATCH DISPATCHER - ONE DRAIN-AND-SEND AT A TIME
// =============================================================================
//
// WHAT IS THIS?
// The dispatcher turns "please flush" requests into drain+deliver cycles and
// guarantees that at most one cycle runs at any instant.
//
// HOW REQUESTS FLOW:
//
//   size trigger ──┐                        ┌──────────────────────────────┐
//   timer tick  ───┼──► requests (cap 1) ──►│ WORKER GOROUTINE             │
//   backlog     ───┘    full? drop it       │   Dispatch():                │
//                       (coalesced)         │     lock sendMu              │
//                                           │     drain ≤ batchSize        │
//   Shutdown() ────── Dispatch() ──────────►│     deliver (retries)        │
//                     (synchronous)         │     report outcome           │
//                                           └──────────────────────────────┘
//
// WHY A CAPACITY-1 CHANNEL?
// A request says "the queue may have work". If one is already pending, a
// second one adds nothing: the pending cycle will see the same records. A
// cycle that finds the queue empty returns without producing an outcome.
//
// WHY ALSO A MUTEX?
// Shutdown drains on the caller's goroutine while the worker may still be in
// a cycle. sendMu keeps the two from ever overlapping on the wire.
//
// SIZE TRIGGER ARMING:
// The gate calls RequestSize on every accepted record at or above the
// threshold. Only the first call per crossing becomes a request: the flag is
// disarmed when the request is issued and re-armed at the start of the next
// cycle, before its drain, so a crossing that happens during a cycle is
// never lost.
//
// =============================================================================

package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"batchrelay/internal/delivery"
	"batchrelay/internal/metrics"
)

// Sender delivers one batch and returns its terminal outcome.
// *delivery.Client[T] implements it.
type Sender[T any] interface {
	Deliver(ctx context.Context, batch []T, maxRetries int, wait time.Duration) delivery.Outcome
}

// Report describes one completed dispatch cycle.
type Report struct {
	BatchID   string           `json:"batch_id"`
	Trigger   string           `json:"trigger"`
	Records   int              `json:"records"`
	Outcome   delivery.Outcome `json:"-"`
	Elapsed   time.Duration    `json:"elapsed"`
	Completed time.Time        `json:"completed"`
}

// DispatcherConfig holds the dispatcher's share of the pipeline settings.
type DispatcherConfig struct {
	BatchSize  int
	MaxRetries int
	RetryWait  time.Duration
}

// Dispatcher serializes drain+deliver cycles for a queue.
type Dispatcher[T any] struct {
	config  DispatcherConfig
	queue   *Queue[T]
	sender  Sender[T]
	clock   clock.PassiveClock
	logger  *slog.Logger
	metrics *metrics.PipelineMetrics

	// onReport receives every non-empty cycle's report. Called on the
	// goroutine that ran the cycle, with sendMu held.
	onReport func(Report)

	requests  chan string
	sizeArmed atomic.Bool
	halted    atomic.Bool

	// sendMu is held for the full duration of a cycle.
	sendMu sync.Mutex

	// ctx is passed to every delivery. cancel force-aborts an in-flight one.
	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	done      chan struct{}
}

// NewDispatcher creates a dispatcher. Call Start to launch its worker.
func NewDispatcher[T any](
	config DispatcherConfig,
	queue *Queue[T],
	sender Sender[T],
	clk clock.PassiveClock,
	logger *slog.Logger,
	m *metrics.PipelineMetrics,
	onReport func(Report),
) *Dispatcher[T] {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if onReport == nil {
		onReport = func(Report) {}
	}
	ctx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher[T]{
		config:   config,
		queue:    queue,
		sender:   sender,
		clock:    clk,
		logger:   logger.With("component", "dispatcher"),
		metrics:  m,
		onReport: onReport,
		requests: make(chan string, 1),
		ctx:      ctx,
		cancel:   cancel,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	d.sizeArmed.Store(true)
	return d
}

// Start launches the worker goroutine. Subsequent calls are no-ops.
func (d *Dispatcher[T]) Start() {
	d.startOnce.Do(func() {
		go d.workerLoop()
	})
}

// workerLoop executes queued requests one at a time until Stop.
func (d *Dispatcher[T]) workerLoop() {
	defer close(d.done)

	for {
		select {
		case <-d.stopCh:
			return
		case trigger := <-d.requests:
			d.Dispatch(trigger)

			// Keep going while a backlog of full batches remains, even if no
			// producer submits again.
			if !d.halted.Load() && d.queue.Len() >= d.config.BatchSize {
				d.Request(metrics.TriggerBacklog)
			}
		}
	}
}

// Request asks the worker for a cycle. It never blocks and returns false if
// the request was coalesced into one already pending.
func (d *Dispatcher[T]) Request(trigger string) bool {
	select {
	case d.requests <- trigger:
		d.metrics.RecordDispatchRequest(trigger)
		return true
	default:
		return false
	}
}

// RequestSize issues a size-triggered request once per threshold crossing.
func (d *Dispatcher[T]) RequestSize() {
	if d.sizeArmed.CompareAndSwap(true, false) {
		d.Request(metrics.TriggerSize)
	}
}

// Dispatch runs one drain-and-deliver cycle on the calling goroutine. It
// returns false, without reporting anything, when the queue was empty or the
// dispatcher is halted.
func (d *Dispatcher[T]) Dispatch(trigger string) (Report, bool) {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	if d.halted.Load() {
		return Report{}, false
	}

	d.sizeArmed.Store(true)
	batch := d.queue.Drain(d.config.BatchSize)
	d.metrics.SetQueueDepth(d.queue.Len())
	if len(batch) == 0 {
		return Report{}, false
	}

	batchID := uuid.NewString()
	logger := d.logger.With("batch_id", batchID, "trigger", trigger)
	logger.Debug("dispatching batch", "records", len(batch))

	start := d.clock.Now()
	ctx := delivery.ContextWithBatchID(d.ctx, batchID)
	outcome := d.sender.Deliver(ctx, batch, d.config.MaxRetries, d.config.RetryWait)
	elapsed := d.clock.Since(start)

	report := Report{
		BatchID:   batchID,
		Trigger:   trigger,
		Records:   len(batch),
		Outcome:   outcome,
		Elapsed:   elapsed,
		Completed: d.clock.Now(),
	}

	d.metrics.RecordBatch(outcome.Kind.String(), len(batch), elapsed)

	switch outcome.Kind {
	case delivery.OutcomeSuccess:
		logger.Info("batch delivered",
			"records", len(batch),
			"status", outcome.StatusCode,
			"attempts", outcome.Attempts,
			"elapsed_ms", elapsed.Milliseconds(),
		)
	default:
		logger.Error("batch not delivered",
			"records", len(batch),
			"outcome", outcome.String(),
			"attempts", outcome.Attempts,
			"elapsed_ms", elapsed.Milliseconds(),
			"error", outcome.Err,
		)
	}

	d.onReport(report)
	return report, true
}

// Halt stops all future cycles. A cycle in progress completes.
func (d *Dispatcher[T]) Halt() {
	d.halted.Store(true)
}

// Halted reports whether Halt was called.
func (d *Dispatcher[T]) Halted() bool {
	return d.halted.Load()
}

// Cancel aborts the delivery in flight, if any. Its batch ends as
// ExhaustedRetries, and every later delivery fails the same way.
func (d *Dispatcher[T]) Cancel() {
	d.cancel()
}

// Stop ends the worker loop, waiting up to timeout for a cycle in progress.
// On timeout the in-flight delivery is cancelled and ErrShutdownTimeout is
// returned.
func (d *Dispatcher[T]) Stop(timeout time.Duration) error {
	// A worker that never ran has nothing to wait for.
	d.startOnce.Do(func() { close(d.done) })
	d.stopOnce.Do(func() { close(d.stopCh) })

	select {
	case <-d.done:
		d.cancel()
		return nil
	case <-time.After(timeout):
		d.logger.Warn("dispatch worker did not stop in time, cancelling in-flight delivery",
			"timeout", timeout,
		)
		d.cancel()
		return ErrShutdownTimeout
	}
}
