// Package queue provides the bounded channels that connect pipeline
// stages. Fan-out points use ForcePut (drop-head on full) so readers
// always observe the freshest suffix of the producer's output; control
// channels use Put with a timeout so backpressure stays visible.
package queue

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrFull  = errors.New("queue full")
	ErrEmpty = errors.New("queue empty")
)

// Default timeouts for blocking queue operations.
const (
	DefaultGetTimeout = 500 * time.Millisecond
	DefaultPutTimeout = 500 * time.Millisecond
)

// Queue is a bounded FIFO safe for concurrent use.
type Queue[T any] struct {
	name string
	mu   sync.Mutex
	ch   chan T
}

func New[T any](name string, capacity int) *Queue[T] {
	return &Queue[T]{name: name, ch: make(chan T, capacity)}
}

func (q *Queue[T]) Name() string { return q.name }
func (q *Queue[T]) Len() int     { return len(q.ch) }
func (q *Queue[T]) Cap() int     { return cap(q.ch) }

// Put enqueues v, waiting up to timeout for space.
func (q *Queue[T]) Put(v T, timeout time.Duration) error {
	select {
	case q.ch <- v:
		return nil
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case q.ch <- v:
		return nil
	case <-timer.C:
		return ErrFull
	}
}

// ForcePut enqueues v, discarding the head element first if the queue is
// full. Returns whether an element was dropped. Only safe at fan-out
// points where dropped frames are acceptable.
func (q *Queue[T]) ForcePut(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	dropped := false
	for {
		select {
		case q.ch <- v:
			return dropped
		default:
		}
		select {
		case <-q.ch:
			dropped = true
		default:
		}
	}
}

// Get dequeues one element, waiting up to timeout.
func (q *Queue[T]) Get(timeout time.Duration) (T, error) {
	select {
	case v := <-q.ch:
		return v, nil
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v := <-q.ch:
		return v, nil
	case <-timer.C:
		var zero T
		return zero, ErrEmpty
	}
}

// TryGet dequeues without blocking.
func (q *Queue[T]) TryGet() (T, bool) {
	select {
	case v := <-q.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Clear drains the queue and returns how many elements were discarded.
func (q *Queue[T]) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}

// Drainer is anything whose pending elements can be discarded. Restart
// paths drain a stage's outbound queues before killing it so consumers
// never see half-finished work.
type Drainer interface {
	Clear() int
	Name() string
}
