package diagnostics

import (
	"sync"
	"time"
)

// RingBuffer stores the most recent values in a fixed-size ring.
type RingBuffer[T any] struct {
	mu      sync.Mutex
	items   []T
	size    int
	next    int
	evicted uint64
}

// NewRingBuffer constructs a ring buffer with the provided capacity.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{
		items: make([]T, capacity),
	}
}

// Add inserts a value, evicting the oldest one when full.
func (b *RingBuffer[T]) Add(value T) {
	if b == nil {
		return
	}
	b.mu.Lock()
	if b.size == len(b.items) {
		b.evicted++
	}
	b.items[b.next] = value
	b.next = (b.next + 1) % len(b.items)
	if b.size < len(b.items) {
		b.size++
	}
	b.mu.Unlock()
}

// Snapshot returns the buffered values in insertion order.
func (b *RingBuffer[T]) Snapshot() []T {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size == 0 {
		return nil
	}
	out := make([]T, 0, b.size)
	if b.size < len(b.items) {
		out = append(out, b.items[:b.size]...)
		return out
	}
	out = append(out, b.items[b.next:]...)
	out = append(out, b.items[:b.next]...)
	return out
}

// Len returns the number of buffered values.
func (b *RingBuffer[T]) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Evicted returns how many values were overwritten since creation.
func (b *RingBuffer[T]) Evicted() uint64 {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evicted
}

// Log is a Probe backed by a RingBuffer. It is owned by whoever constructs
// it and handed to components by reference.
type Log struct {
	buffer *RingBuffer[Event]
	now    func() time.Time
}

func NewLog(capacity int) *Log {
	return &Log{
		buffer: NewRingBuffer[Event](capacity),
		now:    time.Now,
	}
}

func (l *Log) Record(event Event) {
	if l == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now()
	}
	l.buffer.Add(sanitize(event))
}

// Events returns the retained events, oldest first.
func (l *Log) Events() []Event {
	if l == nil {
		return nil
	}
	return l.buffer.Snapshot()
}

// Evicted returns how many events were dropped to honor the capacity.
func (l *Log) Evicted() uint64 {
	if l == nil {
		return 0
	}
	return l.buffer.Evicted()
}
