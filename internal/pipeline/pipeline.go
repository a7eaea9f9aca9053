// =============================================================================
// PIPELINE - LIFECYCLE MANAGER
// =============================================================================
//
// WHAT IS THIS?
// Pipeline owns one instance of every moving part and wires them together:
//
//   ┌────────────────────────────────────────────────────────────────────────┐
//   │                              PIPELINE                                  │
//   │                                                                        │
//   │   Submit() ──► Gate ──► Queue ◄── drain ── Dispatcher ──► Sender       │
//   │                  │                            ▲    │                   │
//   │                  └── size trigger ────────────┤    └─► Report ──┐      │
//   │                                               │                 │      │
//   │                Scheduler ── timer trigger ────┘                 ▼      │
//   │                                                        fatal policy    │
//   └────────────────────────────────────────────────────────────────────────┘
//
// There is no package-level state. main builds exactly one Pipeline and hands
// it to the HTTP adapter.
//
// STARTUP:
//   New validates settings and refuses to build a pipeline it cannot run.
//
// SHUTDOWN (order matters):
//   1. Refuse new records
//   2. Stop the timer, so no new ticks arrive
//   3. Dispatch synchronously until the queue is empty
//   4. Stop the dispatch worker (bounded wait, then force-cancel)
//
// FATAL POLICY:
//   FatalExit (default): a batch ending in ExhaustedRetries halts dispatching
//   and exits the process with status 1.
//   FatalContinue: the batch is dropped, the pipeline reports itself degraded
//   until the next successful delivery, and keeps running.
//
// =============================================================================

package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"batchrelay/internal/delivery"
	"batchrelay/internal/metrics"
)

// FatalPolicy decides what an ExhaustedRetries outcome does to the process.
type FatalPolicy int

const (
	// FatalExit terminates the process with exit code 1.
	FatalExit FatalPolicy = iota

	// FatalContinue drops the batch and keeps running.
	FatalContinue
)

func (p FatalPolicy) String() string {
	switch p {
	case FatalExit:
		return "exit"
	case FatalContinue:
		return "continue"
	default:
		return "unknown"
	}
}

// Settings are the values the pipeline runs with.
type Settings struct {
	// BatchSize is the size trigger and the maximum records per batch.
	BatchSize int

	// FlushInterval is the timer trigger period.
	FlushInterval time.Duration

	// MaxQueueSize bounds the queue.
	MaxQueueSize int

	// MaxRetries is the number of attempts after the first one.
	MaxRetries int

	// RetryWait is the pause between attempts.
	RetryWait time.Duration

	// FatalPolicy is applied to ExhaustedRetries outcomes.
	FatalPolicy FatalPolicy

	// WorkerStopTimeout bounds the wait for the dispatch worker at shutdown.
	WorkerStopTimeout time.Duration

	// SchedulerStopTimeout bounds the wait for the timer loop at shutdown.
	SchedulerStopTimeout time.Duration
}

// DefaultSettings returns the stock configuration.
func DefaultSettings() Settings {
	return Settings{
		BatchSize:            100,
		FlushInterval:        5 * time.Second,
		MaxQueueSize:         10000,
		MaxRetries:           3,
		RetryWait:            2 * time.Second,
		FatalPolicy:          FatalExit,
		WorkerStopTimeout:    30 * time.Second,
		SchedulerStopTimeout: 5 * time.Second,
	}
}

// Validate reports every unusable setting at once.
func (s Settings) Validate() error {
	var problems []string
	if s.BatchSize <= 0 {
		problems = append(problems, "batch_size must be greater than 0")
	}
	if s.MaxQueueSize <= 0 {
		problems = append(problems, "max_queue_size must be greater than 0")
	}
	if s.FlushInterval <= 0 {
		problems = append(problems, "flush_interval must be greater than 0")
	}
	if s.MaxRetries < 0 {
		problems = append(problems, "max_retries must not be negative")
	}
	if s.RetryWait < 0 {
		problems = append(problems, "retry_wait must not be negative")
	}
	if s.FatalPolicy != FatalExit && s.FatalPolicy != FatalContinue {
		problems = append(problems, "fatal policy must be exit or continue")
	}
	if len(problems) > 0 {
		return invalidConfig(problems...)
	}
	return nil
}

// Option configures a Pipeline.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	metrics  *metrics.PipelineMetrics
	clock    clock.WithTicker
	exit     func(code int)
	onReport func(Report)
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics recorder. nil disables recording.
func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock replaces the clock behind the flush timer and dispatch timing.
func WithClock(c clock.WithTicker) Option {
	return func(o *options) { o.clock = c }
}

// WithExitFunc replaces os.Exit for the FatalExit policy.
func WithExitFunc(exit func(code int)) Option {
	return func(o *options) { o.exit = exit }
}

// WithReportHook registers a callback for every completed cycle. It runs on
// the dispatching goroutine and must not block.
func WithReportHook(fn func(Report)) Option {
	return func(o *options) { o.onReport = fn }
}

type state int32

const (
	stateCreated state = iota
	stateRunning
	stateClosed
)

// Pipeline is the batching and delivery pipeline for records of type T.
type Pipeline[T any] struct {
	settings Settings
	logger   *slog.Logger
	metrics  *metrics.PipelineMetrics
	clock    clock.WithTicker
	exit     func(code int)
	hook     func(Report)

	queue      *Queue[T]
	gate       *Gate[T]
	dispatcher *Dispatcher[T]
	scheduler  *Scheduler

	// mu orders Submit against the close in Shutdown: once Shutdown holds
	// the write lock and flips state, no Offer can follow.
	mu    sync.RWMutex
	state state

	startTime time.Time

	stats    pipelineCounters
	last     atomic.Pointer[Report]
	degraded atomic.Bool
}

type pipelineCounters struct {
	accepted       atomic.Int64
	rejectedFull   atomic.Int64
	rejectedClosed atomic.Int64
	delivered      atomic.Int64
	rejected       atomic.Int64
	exhausted      atomic.Int64
}

// New validates settings and assembles a pipeline. Nothing runs until Start.
func New[T any](settings Settings, sender Sender[T], opts ...Option) (*Pipeline[T], error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if sender == nil {
		return nil, invalidConfig("sender is required")
	}
	if settings.WorkerStopTimeout <= 0 {
		settings.WorkerStopTimeout = DefaultSettings().WorkerStopTimeout
	}
	if settings.SchedulerStopTimeout <= 0 {
		settings.SchedulerStopTimeout = DefaultSettings().SchedulerStopTimeout
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.clock == nil {
		o.clock = clock.RealClock{}
	}
	if o.exit == nil {
		o.exit = os.Exit
	}

	queue, err := NewQueue[T](settings.MaxQueueSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline[T]{
		settings: settings,
		logger:   o.logger.With("component", "pipeline"),
		metrics:  o.metrics,
		clock:    o.clock,
		exit:     o.exit,
		hook:     o.onReport,
		queue:    queue,
	}

	p.dispatcher = NewDispatcher[T](
		DispatcherConfig{
			BatchSize:  settings.BatchSize,
			MaxRetries: settings.MaxRetries,
			RetryWait:  settings.RetryWait,
		},
		queue, sender, o.clock, o.logger, o.metrics, p.handleReport,
	)
	p.gate = NewGate[T](queue, settings.BatchSize, p.dispatcher.RequestSize, o.metrics)
	p.scheduler = NewScheduler(settings.FlushInterval, o.clock, o.logger, p.onTick)

	p.metrics.SetQueueCapacity(queue.Cap())

	return p, nil
}

// Start launches the dispatch worker and the flush timer.
func (p *Pipeline[T]) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != stateCreated {
		return ErrAlreadyStarted
	}
	p.state = stateRunning
	p.startTime = p.clock.Now()

	p.dispatcher.Start()
	p.scheduler.Start()

	// Records submitted before Start may already be past the threshold.
	if p.queue.Len() >= p.settings.BatchSize {
		p.dispatcher.Request(metrics.TriggerBacklog)
	}

	p.logger.Info("pipeline started",
		"batch_size", p.settings.BatchSize,
		"flush_interval", p.settings.FlushInterval,
		"max_queue_size", p.settings.MaxQueueSize,
		"max_retries", p.settings.MaxRetries,
		"retry_wait", p.settings.RetryWait,
		"fatal_policy", p.settings.FatalPolicy.String(),
	)
	return nil
}

// Submit offers a record. It returns false if the queue is full or the
// pipeline is shutting down. It never blocks on delivery.
func (p *Pipeline[T]) Submit(record T) bool {
	return p.SubmitErr(record) == nil
}

// SubmitErr is Submit with the reason for a rejection: ErrQueueFull or
// ErrPipelineClosed.
func (p *Pipeline[T]) SubmitErr(record T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.state == stateClosed {
		p.stats.rejectedClosed.Add(1)
		p.metrics.RecordRejected(rejectClosed)
		return ErrPipelineClosed
	}
	if !p.gate.Submit(record) {
		p.stats.rejectedFull.Add(1)
		return ErrQueueFull
	}
	p.stats.accepted.Add(1)
	return nil
}

// onTick is the timer trigger: ask for a flush if anything is waiting.
func (p *Pipeline[T]) onTick() {
	if p.queue.Len() > 0 {
		p.dispatcher.Request(metrics.TriggerTimer)
	}
}

// handleReport applies the fatal policy and records the outcome.
func (p *Pipeline[T]) handleReport(r Report) {
	p.last.Store(&r)

	switch r.Outcome.Kind {
	case delivery.OutcomeSuccess:
		p.stats.delivered.Add(1)
		p.degraded.Store(false)
	case delivery.OutcomeClientRejected:
		p.stats.rejected.Add(1)
	case delivery.OutcomeExhaustedRetries:
		p.stats.exhausted.Add(1)
		p.degraded.Store(true)
	}

	if p.hook != nil {
		p.hook(r)
	}

	if r.Outcome.Fatal() && p.settings.FatalPolicy == FatalExit {
		p.dispatcher.Halt()
		p.logger.Error("delivery retries exhausted, terminating process",
			"batch_id", r.BatchID,
			"records", r.Records,
			"queued", p.queue.Len(),
		)
		p.exit(1)
	}
}

// Shutdown stops intake, drains the queue, and releases the background
// workers. If ctx ends before the drain finishes, the in-flight delivery is
// cancelled, the remaining records are abandoned, and ErrShutdownTimeout is
// returned. Calling Shutdown more than once is safe.
func (p *Pipeline[T]) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.state == stateClosed {
		p.mu.Unlock()
		return nil
	}
	wasRunning := p.state == stateRunning
	p.state = stateClosed
	p.mu.Unlock()

	p.logger.Info("pipeline shutting down", "queued", p.queue.Len())

	var errs []error

	// 1. No more ticks.
	if err := p.scheduler.Stop(p.settings.SchedulerStopTimeout); err != nil {
		errs = append(errs, err)
	}

	// 2. Drain whatever is left, on this goroutine.
	stopCancel := context.AfterFunc(ctx, p.dispatcher.Cancel)
	batches := 0
	for p.queue.Len() > 0 && !p.dispatcher.Halted() {
		if ctx.Err() != nil {
			break
		}
		p.metrics.RecordDispatchRequest(metrics.TriggerShutdown)
		if _, ok := p.dispatcher.Dispatch(metrics.TriggerShutdown); ok {
			batches++
		}
	}
	stopCancel()

	if left := p.queue.Len(); left > 0 {
		p.logger.Error("shutdown left records undelivered",
			"records", left,
			"halted", p.dispatcher.Halted(),
			"error", ctx.Err(),
		)
		if ctx.Err() != nil {
			errs = append(errs, ErrShutdownTimeout)
		}
	}

	// 3. Release the worker.
	if err := p.dispatcher.Stop(p.settings.WorkerStopTimeout); err != nil {
		errs = append(errs, err)
	}

	p.logger.Info("pipeline stopped",
		"drained_batches", batches,
		"was_running", wasRunning,
	)

	return errors.Join(errs...)
}

// =============================================================================
// INSPECTION
// =============================================================================

// Stats is a point-in-time view of the pipeline.
type Stats struct {
	Running          bool      `json:"running"`
	Degraded         bool      `json:"degraded"`
	QueueLength      int       `json:"queue_length"`
	QueueCapacity    int       `json:"queue_capacity"`
	Accepted         int64     `json:"records_accepted"`
	RejectedFull     int64     `json:"records_rejected_queue_full"`
	RejectedClosed   int64     `json:"records_rejected_closed"`
	BatchesDelivered int64     `json:"batches_delivered"`
	BatchesRejected  int64     `json:"batches_client_rejected"`
	BatchesExhausted int64     `json:"batches_exhausted"`
	LastOutcome      string    `json:"last_outcome,omitempty"`
	LastBatchID      string    `json:"last_batch_id,omitempty"`
	LastDelivery     time.Time `json:"last_delivery"`
	StartedAt        time.Time `json:"started_at"`
}

// Stats returns current counters.
func (p *Pipeline[T]) Stats() Stats {
	p.mu.RLock()
	running := p.state == stateRunning
	started := p.startTime
	p.mu.RUnlock()

	s := Stats{
		Running:          running,
		Degraded:         p.degraded.Load(),
		QueueLength:      p.queue.Len(),
		QueueCapacity:    p.queue.Cap(),
		Accepted:         p.stats.accepted.Load(),
		RejectedFull:     p.stats.rejectedFull.Load(),
		RejectedClosed:   p.stats.rejectedClosed.Load(),
		BatchesDelivered: p.stats.delivered.Load(),
		BatchesRejected:  p.stats.rejected.Load(),
		BatchesExhausted: p.stats.exhausted.Load(),
		StartedAt:        started,
	}
	if r := p.last.Load(); r != nil {
		s.LastOutcome = r.Outcome.String()
		s.LastBatchID = r.BatchID
		s.LastDelivery = r.Completed
	}
	return s
}

// Running reports whether the pipeline has started and not yet shut down.
func (p *Pipeline[T]) Running() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state == stateRunning
}

// Degraded reports whether the most recent batch ended in ExhaustedRetries.
func (p *Pipeline[T]) Degraded() bool {
	return p.degraded.Load()
}

// LastReport returns the most recent cycle report, if any.
func (p *Pipeline[T]) LastReport() (Report, bool) {
	r := p.last.Load()
	if r == nil {
		return Report{}, false
	}
	return *r, true
}

// Settings returns the settings the pipeline was built with.
func (p *Pipeline[T]) Settings() Settings {
	return p.settings
}
