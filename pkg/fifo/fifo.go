// Package fifo provides the bounded transfer queue that hands completed
// payloads from the network-callback goroutine to the verification goroutine.
// Writes block while the queue is full (backpressure bounds memory growth
// under bursts), reads block while it is empty, and both return promptly when
// the shutdown context is cancelled. FIFO order is preserved; reordering is
// resolved upstream.
package fifo

import (
	"context"
	"errors"
	"time"

	"go.uber.org/atomic"
)

var (
	ErrTimedOut  = errors.New("fifo: operation timed out")
	ErrCancelled = errors.New("fifo: operation cancelled")
)

type Queue[T any] struct {
	ch chan T

	written atomic.Uint64
	read    atomic.Uint64
	flushed atomic.Uint64
}

func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		ch: make(chan T, capacity),
	}
}

// Write enqueues item, blocking while the queue is full. A non-positive
// timeout blocks until cancellation. Returns ErrCancelled when ctx is done
// before the item is accepted; already-enqueued items are unaffected.
func (q *Queue[T]) Write(ctx context.Context, item T, timeout time.Duration) error {
	// fast path when there is room
	select {
	case q.ch <- item:
		q.written.Inc()
		return nil
	default:
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case q.ch <- item:
		q.written.Inc()
		return nil
	case <-ctx.Done():
		return ErrCancelled
	case <-expired:
		return ErrTimedOut
	}
}

// Read dequeues the oldest item, blocking while the queue is empty. A
// non-positive timeout blocks until cancellation.
func (q *Queue[T]) Read(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T

	select {
	case item := <-q.ch:
		q.read.Inc()
		return item, nil
	default:
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case item := <-q.ch:
		q.read.Inc()
		return item, nil
	case <-ctx.Done():
		return zero, ErrCancelled
	case <-expired:
		return zero, ErrTimedOut
	}
}

// Flush drains and discards remaining items, returning the number discarded.
// Only safe once the producer has stopped writing.
func (q *Queue[T]) Flush() int {
	return q.FlushFunc(nil)
}

// FlushFunc drains remaining items, invoking fn on each so owned resources
// can be released. Only safe once the producer has stopped writing.
func (q *Queue[T]) FlushFunc(fn func(T)) int {
	n := 0
	for {
		select {
		case item := <-q.ch:
			if fn != nil {
				fn(item)
			}
			n++
		default:
			q.flushed.Add(uint64(n))
			return n
		}
	}
}

func (q *Queue[T]) Len() int {
	return len(q.ch)
}

func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}

type Stats struct {
	Written uint64
	Read    uint64
	Flushed uint64
}

func (q *Queue[T]) Stats() Stats {
	return Stats{
		Written: q.written.Load(),
		Read:    q.read.Load(),
		Flushed: q.flushed.Load(),
	}
}
