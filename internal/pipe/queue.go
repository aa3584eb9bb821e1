package pipe

import (
	"errors"
	"sync"
)

var (
	ErrCancelled       = errors.New("queue cancelled")
	ErrInvalidCapacity = errors.New("queue capacity must be greater than zero")
)

// CancelledError is returned by Put and Take once the Queue has been cancelled.
// It matches ErrCancelled with errors.Is and unwraps to the cause given to Cancel.
type CancelledError struct {
	Cause error
}

func (e *CancelledError) Error() string {
	if e.Cause == nil {
		return ErrCancelled.Error()
	}
	return ErrCancelled.Error() + ": " + e.Cause.Error()
}

func (e *CancelledError) Is(target error) bool {
	return target == ErrCancelled
}

func (e *CancelledError) Unwrap() error {
	return e.Cause
}

// Queue is a bounded FIFO hand-off between a producer and a consumer. Both sides
// block when the Queue cannot make progress, and both are released by Cancel.
//
// Once cancelled, every pending and future Put and Take fails until Reset is called,
// even if items are still buffered.
type Queue[T any] struct {
	data      []T
	start     int
	count     int
	cancelled *CancelledError
	mu        sync.Mutex
	condFull  *sync.Cond
	condEmpty *sync.Cond
}

// NewQueue instantiates a Queue holding at most capacity items.
func NewQueue[T any](capacity int) (*Queue[T], error) {
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}
	var q Queue[T]
	q.data = make([]T, capacity)
	q.condFull = sync.NewCond(&q.mu)
	q.condEmpty = sync.NewCond(&q.mu)
	return &q, nil
}

// MustQueue is like NewQueue but panics on an invalid capacity.
func MustQueue[T any](capacity int) *Queue[T] {
	q, err := NewQueue[T](capacity)
	if err != nil {
		panic(err)
	}
	return q
}

func (q *Queue[T]) full() bool {
	return q.count == len(q.data)
}

func (q *Queue[T]) empty() bool {
	return q.count == 0
}

// Put appends item, blocking while the Queue is full.
func (q *Queue[T]) Put(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.full() && q.cancelled == nil {
		q.condFull.Wait()
	}

	if q.cancelled != nil {
		return q.cancelled
	}

	q.data[(q.start+q.count)%len(q.data)] = item
	q.count++

	q.condEmpty.Signal()
	return nil
}

// Take removes and returns the oldest item, blocking while the Queue is empty.
func (q *Queue[T]) Take() (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.empty() && q.cancelled == nil {
		q.condEmpty.Wait()
	}

	var zero T
	if q.cancelled != nil {
		return zero, q.cancelled
	}

	item := q.data[q.start]
	q.data[q.start] = zero
	q.start = (q.start + 1) % len(q.data)
	q.count--

	q.condFull.Signal()
	return item, nil
}

// Cancel poisons the Queue with cause and wakes every blocked caller. Only the
// first cause is kept; later calls are no-ops. Safe to call from either side.
func (q *Queue[T]) Cancel(cause error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancelled != nil {
		return
	}
	q.cancelled = &CancelledError{Cause: cause}

	q.condEmpty.Broadcast()
	q.condFull.Broadcast()
}

// Reset drops buffered items and clears cancellation. The caller must ensure
// that no Put or Take is in flight.
func (q *Queue[T]) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()

	clear(q.data)
	q.start = 0
	q.count = 0
	q.cancelled = nil
}

// Len returns the number of buffered items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the fixed capacity of the Queue.
func (q *Queue[T]) Cap() int {
	return len(q.data)
}
