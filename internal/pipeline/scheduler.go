package pipeline

import (
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Scheduler fires onTick at a fixed period until stopped.
//
// Ticks do not wait for the work they trigger: onTick must not block. The
// underlying ticker drops ticks the loop was too busy to receive, so there is
// no catch-up after a stall.
type Scheduler struct {
	interval time.Duration
	clock    clock.WithTicker
	onTick   func()
	logger   *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	done      chan struct{}
}

// NewScheduler creates a scheduler. interval must be positive.
func NewScheduler(interval time.Duration, clk clock.WithTicker, logger *slog.Logger, onTick func()) *Scheduler {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		interval: interval,
		clock:    clk,
		onTick:   onTick,
		logger:   logger.With("component", "scheduler"),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the tick loop. Subsequent calls are no-ops.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		ticker := s.clock.NewTicker(s.interval)
		go s.loop(ticker)
	})
}

func (s *Scheduler) loop(ticker clock.Ticker) {
	defer close(s.done)
	defer ticker.Stop()

	s.logger.Debug("flush scheduler started", "interval", s.interval)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C():
			s.onTick()
		}
	}
}

// Stop halts the ticker and waits up to timeout for the loop to exit.
// Returns ErrShutdownTimeout if it did not.
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.startOnce.Do(func() { close(s.done) })
	s.stopOnce.Do(func() { close(s.stopCh) })

	select {
	case <-s.done:
		return nil
	case <-time.After(timeout):
		s.logger.Warn("flush scheduler did not stop in time", "timeout", timeout)
		return ErrShutdownTimeout
	}
}
