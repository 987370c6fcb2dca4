package events

import (
	"sync"
	"time"
)

// Buffer collects events until the batch is full or old enough to flush
type Buffer struct {
	mu        sync.Mutex
	events    []Event
	capacity  int
	lastFlush time.Time
}

// NewBuffer creates a Buffer that reports full at capacity events
func NewBuffer(capacity int) *Buffer {
	return &Buffer{
		events:    make([]Event, 0, capacity),
		capacity:  capacity,
		lastFlush: time.Now(),
	}
}

// Add appends e and reports whether the buffer is now full
func (b *Buffer) Add(e Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, e)
	return len(b.events) >= b.capacity
}

// Flush returns the buffered batch and clears the buffer
func (b *Buffer) Flush() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	batch := b.events
	b.events = make([]Event, 0, b.capacity)
	b.lastFlush = time.Now()
	return batch
}

func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// ShouldFlush reports whether there is something buffered and interval has passed since the last flush
func (b *Buffer) ShouldFlush(interval time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.events) == 0 {
		return false
	}
	return time.Since(b.lastFlush) >= interval
}
