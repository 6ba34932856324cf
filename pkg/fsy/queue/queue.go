// Package queue implements the bounded action queue: a fixed-capacity ring
// buffer that decouples action producers (the watcher, inbound messages)
// from the single dispatcher that drains it. Overflow drops the oldest
// entry rather than blocking the producer or growing without bound.
package queue

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MaxCapacity is the compile-time bound on a Queue's capacity.
const MaxCapacity = 1000

// overflowTotal counts silent evictions across all queues in the process,
// the observability hook used in place of a propagated error when the
// queue drops its oldest entry.
var overflowTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "fsy",
	Subsystem: "queue",
	Name:      "overflow_total",
	Help:      "Number of actions silently evicted from a bounded action queue.",
})

func init() {
	prometheus.MustRegister(overflowTotal)
}

// Queue is a single-producer-agnostic, single-consumer ring buffer of
// capacity items, guarded by one mutex. The zero value is not usable; build
// one with New.
type Queue[T any] struct {
	mu       sync.Mutex
	capacity int
	head     int
	tail     int
	buffer   []entry[T]
}

type entry[T any] struct {
	value T
	set   bool
}

// New builds a Queue, clamping capacity into [1, MaxCapacity].
func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	if capacity > MaxCapacity {
		capacity = MaxCapacity
	}
	return &Queue[T]{
		capacity: capacity,
		buffer:   make([]entry[T], capacity),
	}
}

func (q *Queue[T]) nextFirstPosition() int {
	pos := q.head + 1
	if pos >= q.capacity {
		pos = 0
	}
	return pos
}

func (q *Queue[T]) nextPosition() int {
	if !q.buffer[q.tail].set {
		return q.tail
	}
	pos := q.tail + 1
	if pos >= q.capacity {
		pos = 0
	}
	return pos
}

func (q *Queue[T]) hasWrapped() bool {
	return q.buffer[q.nextPosition()].set
}

// IsEmpty reports whether the queue currently holds no items.
func (q *Queue[T]) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.isEmptyLocked()
}

func (q *Queue[T]) isEmptyLocked() bool {
	if q.head == q.tail && !q.buffer[q.head].set {
		return true
	}
	return false
}

// Push appends item at the tail. When the buffer is full, the oldest item
// is silently evicted and a counter is incremented: intentional lossy
// backpressure, not an error.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pushLocked(item)
}

func (q *Queue[T]) pushLocked(item T) {
	q.tail = q.nextPosition()
	// a slot that is still set here holds the oldest item: the write below
	// overwrites, and so evicts, it.
	evicting := q.buffer[q.tail].set
	q.buffer[q.tail] = entry[T]{value: item, set: true}

	if evicting {
		overflowTotal.Inc()
	}
	if q.hasWrapped() {
		q.head = q.nextPosition()
	}
}

// PushMultiple pushes every item from seq, in order, with the same
// semantics as repeated Push calls.
func (q *Queue[T]) PushMultiple(seq []T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range seq {
		q.pushLocked(item)
	}
}

// Pop removes and returns the item at the head, or the zero value and false
// when the queue is empty.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.isEmptyLocked() {
		var zero T
		return zero, false
	}

	first := q.head
	item := q.buffer[first]
	q.buffer[first] = entry[T]{}
	q.head = q.nextFirstPosition()

	if q.isEmptyLocked() || !item.set || !q.buffer[q.head].set {
		q.head = q.tail
	}

	return item.value, true
}

// Peek returns the item at the head without removing it.
func (q *Queue[T]) Peek() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := q.buffer[q.head]
	return e.value, e.set
}

// Clear empties the queue, resetting head and tail to the start.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.head = 0
	q.tail = 0
	for i := range q.buffer {
		q.buffer[i] = entry[T]{}
	}
}
