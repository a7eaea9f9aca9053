package pipeline

import (
	"errors"
	"sync"
	"testing"
)

func TestNewQueue_InvalidCapacity(t *testing.T) {
	for _, capacity := range []int{0, -1} {
		if _, err := NewQueue[int](capacity); !errors.Is(err, ErrInvalidConfiguration) {
			t.Errorf("NewQueue(%d): expected ErrInvalidConfiguration, got %v", capacity, err)
		}
	}
}

func TestQueue_OfferDrainFIFO(t *testing.T) {
	q, err := NewQueue[int](10)
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}

	for i := 1; i <= 7; i++ {
		if !q.Offer(i) {
			t.Fatalf("Offer(%d) rejected on a non-full queue", i)
		}
	}

	first := q.Drain(3)
	second := q.Drain(10)

	want := [][]int{{1, 2, 3}, {4, 5, 6, 7}}
	for i, got := range [][]int{first, second} {
		if len(got) != len(want[i]) {
			t.Fatalf("drain %d: expected %v, got %v", i, want[i], got)
		}
		for j := range got {
			if got[j] != want[i][j] {
				t.Errorf("drain %d: expected %v, got %v", i, want[i], got)
				break
			}
		}
	}
	if q.Len() != 0 {
		t.Errorf("expected empty queue, got %d", q.Len())
	}
}

func TestQueue_DrainEmpty(t *testing.T) {
	q, _ := NewQueue[string](4)

	got := q.Drain(10)
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
	if got := q.Drain(0); len(got) != 0 {
		t.Errorf("Drain(0): expected nothing, got %v", got)
	}
}

func TestQueue_OfferFullLeavesContentsUnchanged(t *testing.T) {
	q, _ := NewQueue[int](3)
	for i := 0; i < 3; i++ {
		q.Offer(i)
	}

	for i := 0; i < 5; i++ {
		if q.Offer(100 + i) {
			t.Fatalf("Offer on full queue returned true")
		}
	}

	if q.Len() != 3 || q.Cap() != 3 {
		t.Fatalf("expected len=3 cap=3, got len=%d cap=%d", q.Len(), q.Cap())
	}
	got := q.Drain(10)
	for i, v := range got {
		if v != i {
			t.Errorf("position %d: expected %d, got %d", i, i, v)
		}
	}
}

func TestQueue_ConcurrentProducersNeverExceedCapacity(t *testing.T) {
	const (
		capacity  = 100
		producers = 16
		perWorker = 50
	)
	q, _ := NewQueue[int](capacity)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if q.Offer(p*perWorker + i) {
					mu.Lock()
					accepted++
					mu.Unlock()
				}
				if q.Len() > q.Cap() {
					t.Errorf("occupancy %d exceeds capacity %d", q.Len(), q.Cap())
				}
			}
		}(p)
	}
	wg.Wait()

	if accepted != capacity {
		t.Errorf("expected exactly %d accepted, got %d", capacity, accepted)
	}

	seen := make(map[int]bool)
	for _, v := range q.Drain(capacity * 2) {
		if seen[v] {
			t.Errorf("record %d drained twice", v)
		}
		seen[v] = true
	}
	if len(seen) != capacity {
		t.Errorf("expected %d distinct records, got %d", capacity, len(seen))
	}
}

func TestGate_ThresholdCallback(t *testing.T) {
	q, _ := NewQueue[int](5)
	calls := 0
	gate := NewGate[int](q, 3, func() { calls++ }, nil)

	for i := 0; i < 2; i++ {
		gate.Submit(i)
	}
	if calls != 0 {
		t.Fatalf("expected no threshold call below batch size, got %d", calls)
	}

	gate.Submit(2) // depth 3
	gate.Submit(3) // depth 4
	gate.Submit(4) // depth 5
	if calls != 3 {
		t.Errorf("expected 3 threshold calls at depth >= 3, got %d", calls)
	}

	if gate.Submit(5) {
		t.Error("expected rejection on full queue")
	}
	if calls != 3 {
		t.Errorf("rejected submit must not call threshold, got %d calls", calls)
	}
}
