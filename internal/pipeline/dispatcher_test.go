package pipeline

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	testingclock "k8s.io/utils/clock/testing"

	"batchrelay/internal/metrics"
)

func newTestDispatcher(t *testing.T, batchSize, capacity int, sender *fakeSender, m *metrics.PipelineMetrics) (*Dispatcher[int], *Queue[int]) {
	t.Helper()
	q, err := NewQueue[int](capacity)
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}
	d := NewDispatcher[int](
		DispatcherConfig{BatchSize: batchSize, MaxRetries: 3, RetryWait: time.Millisecond},
		q, sender, nil, quietLogger(), m, nil,
	)
	return d, q
}

func newTestMetrics() *metrics.Registry {
	return metrics.NewRegistry(metrics.Config{Enabled: true}, quietLogger())
}

func TestDispatch_EmptyQueueIsNoop(t *testing.T) {
	sender := &fakeSender{}
	reports := 0
	q, _ := NewQueue[int](10)
	d := NewDispatcher[int](DispatcherConfig{BatchSize: 5}, q, sender, nil, quietLogger(), nil,
		func(Report) { reports++ })

	if _, ok := d.Dispatch(metrics.TriggerTimer); ok {
		t.Error("expected Dispatch on empty queue to report nothing")
	}
	if reports != 0 {
		t.Errorf("expected no outcome report, got %d", reports)
	}
	if len(sender.snapshot()) != 0 {
		t.Error("expected no delivery for an empty queue")
	}
}

func TestDispatch_DrainsAtMostBatchSizeInOrder(t *testing.T) {
	sender := &fakeSender{}
	d, q := newTestDispatcher(t, 4, 20, sender, nil)

	for i := 0; i < 10; i++ {
		q.Offer(i)
	}

	report, ok := d.Dispatch(metrics.TriggerSize)
	if !ok {
		t.Fatal("expected a batch")
	}
	if report.Records != 4 || report.BatchID == "" {
		t.Errorf("unexpected report: %+v", report)
	}
	d.Dispatch(metrics.TriggerSize)
	d.Dispatch(metrics.TriggerSize)

	want := [][]int{{0, 1, 2, 3}, {4, 5, 6, 7}, {8, 9}}
	got := sender.snapshot()
	if len(got) != len(want) {
		t.Fatalf("expected %d batches, got %v", len(want), got)
	}
	for i := range want {
		for j := range want[i] {
			if got[i][j] != want[i][j] {
				t.Fatalf("batch %d: expected %v, got %v", i, want[i], got[i])
			}
		}
	}
}

func TestRequestSize_OncePerCrossing(t *testing.T) {
	registry := newTestMetrics()
	sender := &fakeSender{}
	d, q := newTestDispatcher(t, 5, 100, sender, registry.Pipeline)
	gate := NewGate[int](q, 5, d.RequestSize, registry.Pipeline)

	// Worker not started: nothing consumes requests, so every issued request
	// would be visible in the counter.
	for i := 0; i < 20; i++ {
		gate.Submit(i)
	}

	got := testutil.ToFloat64(registry.Pipeline.DispatchRequests.WithLabelValues(metrics.TriggerSize))
	if got != 1 {
		t.Fatalf("expected 1 size-triggered request for one crossing, got %v", got)
	}

	// A cycle re-arms the trigger for the next crossing.
	d.Dispatch(metrics.TriggerSize)
	<-d.requests
	gate.Submit(100)

	got = testutil.ToFloat64(registry.Pipeline.DispatchRequests.WithLabelValues(metrics.TriggerSize))
	if got != 2 {
		t.Errorf("expected a second request after re-arm, got %v", got)
	}
}

func TestRequest_Coalesces(t *testing.T) {
	d, _ := newTestDispatcher(t, 5, 10, &fakeSender{}, nil)

	if !d.Request(metrics.TriggerTimer) {
		t.Fatal("expected first request to be queued")
	}
	for i := 0; i < 5; i++ {
		if d.Request(metrics.TriggerTimer) {
			t.Fatal("expected pending request to absorb later ones")
		}
	}
}

func TestDispatcher_SingleActiveSend(t *testing.T) {
	const (
		producers  = 8
		perWorker  = 200
		triggerers = 4
	)
	sender := &fakeSender{delay: 200 * time.Microsecond}
	d, q := newTestDispatcher(t, 10, producers*perWorker, sender, nil)
	gate := NewGate[int](q, 10, d.RequestSize, nil)
	d.Start()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				gate.Submit(p*perWorker + i)
			}
		}(p)
	}
	for m := 0; m < triggerers; m++ {
		wg.Add(1)
		go func(m int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if m%2 == 0 {
					d.Request(metrics.TriggerTimer)
				} else {
					d.Dispatch(metrics.TriggerShutdown)
				}
			}
		}(m)
	}
	wg.Wait()

	for q.Len() > 0 {
		d.Dispatch(metrics.TriggerShutdown)
	}
	if err := d.Stop(5 * time.Second); err != nil {
		t.Fatalf("Failed to stop dispatcher: %v", err)
	}

	if peak := sender.maxInflight.Load(); peak != 1 {
		t.Errorf("expected at most one delivery in flight, observed %d", peak)
	}

	seen := make(map[int]bool)
	for _, v := range sender.delivered() {
		if seen[v] {
			t.Fatalf("record %d delivered twice", v)
		}
		seen[v] = true
	}
	if len(seen) != producers*perWorker {
		t.Errorf("expected %d records delivered, got %d", producers*perWorker, len(seen))
	}
	for _, b := range sender.snapshot() {
		if len(b) > 10 {
			t.Errorf("batch of %d exceeds batch size", len(b))
		}
	}
}

func TestDispatcher_BacklogDrainsWithoutNewSubmits(t *testing.T) {
	sender := &fakeSender{}
	d, q := newTestDispatcher(t, 5, 100, sender, nil)

	for i := 0; i < 23; i++ {
		q.Offer(i)
	}
	d.Start()
	defer d.Stop(time.Second)

	d.Request(metrics.TriggerSize)

	// 23 records: four full batches drain via backlog requests, the tail of 3
	// is left for the timer.
	waitFor(t, 2*time.Second, "backlog to drain", func() bool { return len(sender.snapshot()) == 4 })
	time.Sleep(20 * time.Millisecond)
	if got := len(sender.snapshot()); got != 4 {
		t.Errorf("expected 4 batches, got %d", got)
	}
	if q.Len() != 3 {
		t.Errorf("expected 3 records left for the timer, got %d", q.Len())
	}
}

func TestDispatcher_HaltStopsCycles(t *testing.T) {
	sender := &fakeSender{}
	d, q := newTestDispatcher(t, 5, 10, sender, nil)
	q.Offer(1)

	d.Halt()
	if _, ok := d.Dispatch(metrics.TriggerTimer); ok {
		t.Error("expected halted dispatcher to skip the cycle")
	}
	if q.Len() != 1 {
		t.Error("halted dispatcher must not drain")
	}
}

func TestDispatcher_StopTimeoutCancelsDelivery(t *testing.T) {
	sender := &fakeSender{block: make(chan struct{})}
	d, q := newTestDispatcher(t, 1, 10, sender, nil)
	q.Offer(1)
	d.Start()
	d.Request(metrics.TriggerSize)

	waitFor(t, time.Second, "delivery to start", func() bool { return sender.inflight.Load() == 1 })

	err := d.Stop(20 * time.Millisecond)
	if !errors.Is(err, ErrShutdownTimeout) {
		t.Fatalf("expected ErrShutdownTimeout, got %v", err)
	}
	waitFor(t, time.Second, "cancelled delivery to return", func() bool { return sender.inflight.Load() == 0 })
}

func TestScheduler_TicksOnFakeClock(t *testing.T) {
	fake := testingclock.NewFakeClock(time.Now())
	var (
		mu    sync.Mutex
		ticks int
	)
	s := NewScheduler(time.Second, fake, quietLogger(), func() {
		mu.Lock()
		ticks++
		mu.Unlock()
	})
	s.Start()

	for i := 0; i < 3; i++ {
		fake.Step(time.Second)
		want := i + 1
		waitFor(t, time.Second, "tick", func() bool {
			mu.Lock()
			defer mu.Unlock()
			return ticks == want
		})
	}

	if err := s.Stop(time.Second); err != nil {
		t.Fatalf("Failed to stop scheduler: %v", err)
	}

	fake.Step(time.Second)
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if ticks != 3 {
		t.Errorf("expected no ticks after Stop, got %d", ticks)
	}
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	s := NewScheduler(time.Second, nil, quietLogger(), func() {})
	if err := s.Stop(10 * time.Millisecond); err != nil {
		t.Errorf("expected clean stop, got %v", err)
	}
}
