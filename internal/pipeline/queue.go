// =============================================================================
// RECORD QUEUE - BOUNDED, NON-BLOCKING FIFO
// =============================================================================
//
// WHAT IS THIS?
// The hand-off point between producers (HTTP handlers, one goroutine per
// request) and the dispatcher. It is the only structure both sides touch.
//
//   Submit() ──┐
//   Submit() ──┼──► ┌──────────────────────────────┐ ──► Drain(batchSize)
//   Submit() ──┘    │ r1 r2 r3 ... rN   (cap M)    │     (dispatch worker)
//                   └──────────────────────────────┘
//
// BACKPRESSURE:
// Offer never blocks. When the queue holds M records the record is refused
// and the caller is told to come back later. A buffered channel gives us
// exactly that with select/default, and its capacity is the bound, so
// Len() <= Cap() holds by construction.
//
// OWNERSHIP:
// A record belongs to the queue until a Drain hands it to exactly one batch.
// Nothing is ever put back.
//
// =============================================================================

package pipeline

// Queue is a bounded FIFO of records.
//
// Safe for any number of concurrent Offer callers. Drain may also be called
// concurrently, although the dispatcher serializes its own drains.
type Queue[T any] struct {
	items chan T
}

// NewQueue creates a queue holding at most capacity records.
func NewQueue[T any](capacity int) (*Queue[T], error) {
	if capacity <= 0 {
		return nil, invalidConfig("max_queue_size must be greater than 0")
	}
	return &Queue[T]{items: make(chan T, capacity)}, nil
}

// Offer adds record to the tail. It returns false, leaving the queue
// untouched, if the queue is full.
func (q *Queue[T]) Offer(record T) bool {
	select {
	case q.items <- record:
		return true
	default:
		return false
	}
}

// Drain removes and returns up to max records from the head, oldest first.
// It returns an empty slice when the queue is empty and never blocks.
func (q *Queue[T]) Drain(max int) []T {
	if max <= 0 {
		return []T{}
	}
	n := len(q.items)
	if n > max {
		n = max
	}
	out := make([]T, 0, n)
	for len(out) < max {
		select {
		case record := <-q.items:
			out = append(out, record)
		default:
			return out
		}
	}
	return out
}

// Len returns the current occupancy.
func (q *Queue[T]) Len() int {
	return len(q.items)
}

// Cap returns the capacity.
func (q *Queue[T]) Cap() int {
	return cap(q.items)
}
