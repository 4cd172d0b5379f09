package buffer

import (
	"sync"

	"luxagent/internal/model"
)

// UnsentBuffer holds readings that could not be delivered, in FIFO order.
// When an add would exceed capacity the oldest readings are evicted first,
// so the buffer always favors the most recent data when forced to choose.
// Implemented as a ring so eviction is O(1) instead of shifting the array.
type UnsentBuffer struct {
	mu       sync.Mutex
	ring     []model.Reading
	head     int
	count    int
	capacity int
	dropped  uint64
}

// NewUnsentBuffer creates an unsent buffer with the given capacity.
func NewUnsentBuffer(capacity int) *UnsentBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &UnsentBuffer{
		ring:     make([]model.Reading, capacity),
		capacity: capacity,
	}
}

// AddWithOverflow appends readings, evicting the oldest entries when the
// buffer would exceed capacity. If the incoming slice alone exceeds capacity
// the buffer is replaced wholesale with the newest readings that fit.
// Returns the number of readings dropped (evicted plus truncated incoming).
func (b *UnsentBuffer) AddWithOverflow(readings []model.Reading) int {
	if len(readings) == 0 {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := 0
	incoming := readings

	if len(incoming) >= b.capacity {
		// Wholesale replacement: keep only the newest capacity readings.
		dropped = b.count + len(incoming) - b.capacity
		incoming = incoming[len(incoming)-b.capacity:]
		b.head = 0
		b.count = 0
	} else if overflow := b.count + len(incoming) - b.capacity; overflow > 0 {
		// Evict the oldest overflow entries.
		b.head = (b.head + overflow) % b.capacity
		b.count -= overflow
		dropped = overflow
	}

	for _, r := range incoming {
		b.ring[(b.head+b.count)%b.capacity] = r
		b.count++
	}

	b.dropped += uint64(dropped)
	return dropped
}

// Drain copies out all buffered readings in FIFO order and clears the buffer.
func (b *UnsentBuffer) Drain() []model.Reading {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}
	out := make([]model.Reading, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.ring[(b.head+i)%b.capacity]
	}
	b.head = 0
	b.count = 0
	return out
}

// Clear discards all buffered readings.
func (b *UnsentBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.count = 0
}

// Len reports the number of buffered readings.
func (b *UnsentBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap reports the buffer capacity.
func (b *UnsentBuffer) Cap() int {
	return b.capacity
}

// Dropped reports the total readings evicted over the buffer's lifetime.
func (b *UnsentBuffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
