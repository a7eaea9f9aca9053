package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"batchrelay/internal/delivery"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSender records every batch it is asked to deliver and tracks how many
// deliveries overlap.
type fakeSender struct {
	mu      sync.Mutex
	batches [][]int

	// outcome picks the result for the n-th delivery (1-based).
	outcome func(n int) delivery.Outcome

	// delay is slept inside every delivery.
	delay time.Duration

	// block, when non-nil, holds every delivery until closed or ctx ends.
	block chan struct{}

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func (f *fakeSender) Deliver(ctx context.Context, batch []int, maxRetries int, wait time.Duration) delivery.Outcome {
	cur := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		peak := f.maxInflight.Load()
		if cur <= peak || f.maxInflight.CompareAndSwap(peak, cur) {
			break
		}
	}

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			f.record(batch)
			return delivery.ExhaustedRetries(1, ctx.Err())
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	n := f.record(batch)
	if f.outcome != nil {
		return f.outcome(n)
	}
	return delivery.Success(200, 1)
}

func (f *fakeSender) record(batch []int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]int(nil), batch...))
	return len(f.batches)
}

func (f *fakeSender) snapshot() [][]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]int, len(f.batches))
	copy(out, f.batches)
	return out
}

func (f *fakeSender) delivered() []int {
	var all []int
	for _, b := range f.snapshot() {
		all = append(all, b...)
	}
	return all
}

// waitFor polls cond until it holds or timeout passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out after %v waiting for %s", timeout, what)
}

// exitRecorder stands in for os.Exit.
type exitRecorder struct {
	mu    sync.Mutex
	codes []int
}

func (e *exitRecorder) exit(code int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.codes = append(e.codes, code)
}

func (e *exitRecorder) calls() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.codes...)
}
