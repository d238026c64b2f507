// Package trend provides the bounded per-channel history used for trend display.
package trend

import (
	"sync"
	"time"
)

// DefaultCapacity holds about one minute of samples at a 500ms cadence.
const DefaultCapacity = 120

// Point is one sample.
type Point struct {
	Timestamp time.Time `json:"ts"`
	Value     float64   `json:"v"`
}

// Buffer is a fixed-capacity FIFO of samples ordered by arrival.
// It is safe for concurrent use.
type Buffer struct {
	mu       sync.RWMutex
	points   []Point
	head     int
	size     int
	capacity int
}

// NewBuffer creates a buffer. A non-positive capacity selects DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		points:   make([]Point, capacity),
		capacity: capacity,
	}
}

// Append inserts a sample at the tail and evicts from the head while the
// buffer is over capacity. A timestamp older than the newest held sample is
// clamped to it so the sequence stays non-decreasing.
func (b *Buffer) Append(ts time.Time, value float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size > 0 {
		if newest := b.points[b.index(b.size-1)].Timestamp; ts.Before(newest) {
			ts = newest
		}
	}

	if b.size == b.capacity {
		// evict oldest
		b.head = (b.head + 1) % b.capacity
		b.size--
	}
	b.points[b.index(b.size)] = Point{Timestamp: ts, Value: value}
	b.size++
}

// Range returns the oldest and newest timestamps held.
// ok is false when the buffer is empty.
func (b *Buffer) Range() (oldest, newest time.Time, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return time.Time{}, time.Time{}, false
	}
	return b.points[b.head].Timestamp, b.points[b.index(b.size-1)].Timestamp, true
}

// Points returns a copy of the held samples, oldest first.
func (b *Buffer) Points() []Point {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Point, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.points[b.index(i)]
	}
	return out
}

// Len returns the number of held samples.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Capacity returns the maximum number of samples.
func (b *Buffer) Capacity() int {
	return b.capacity
}

func (b *Buffer) index(i int) int {
	return (b.head + i) % b.capacity
}

// Window is a read-only view of a buffer for display.
type Window struct {
	Channel string    `json:"channel"`
	Points  []Point   `json:"points"`
	From    time.Time `json:"from,omitempty"`
	To      time.Time `json:"to,omitempty"`
}

// Snapshot captures the buffer as a Window whose range is exactly the retained span.
func (b *Buffer) Snapshot(channel string) Window {
	b.mu.RLock()
	defer b.mu.RUnlock()

	w := Window{Channel: channel, Points: make([]Point, b.size)}
	for i := 0; i < b.size; i++ {
		w.Points[i] = b.points[b.index(i)]
	}
	if b.size > 0 {
		w.From = w.Points[0].Timestamp
		w.To = w.Points[b.size-1].Timestamp
	}
	return w
}
