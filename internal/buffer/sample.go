// Package buffer holds the in-memory reading buffers shared between the
// sampler and the sender: a fixed-capacity sample buffer and a ring buffer
// for readings that failed to send.
package buffer

import (
	"errors"
	"sync"

	"luxagent/internal/model"
)

// ErrFull is returned by Append when the sample buffer is at capacity. The
// buffer is left untouched; the caller decides how to make room (the sampler
// flushes the whole buffer to persistent storage and retries).
var ErrFull = errors.New("buffer: sample buffer full")

// SampleBuffer accumulates readings produced since the last successful send
// cycle. The sampler appends and the sender drains, both under the same
// mutex. The lock is never held across a network call.
type SampleBuffer struct {
	mu       sync.Mutex
	readings []model.Reading
	capacity int
}

// NewSampleBuffer creates a sample buffer with the given capacity.
func NewSampleBuffer(capacity int) *SampleBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &SampleBuffer{
		readings: make([]model.Reading, 0, capacity),
		capacity: capacity,
	}
}

// Append stores a reading at the end of the buffer. Returns ErrFull without
// mutating state when the buffer is at capacity.
func (b *SampleBuffer) Append(r model.Reading) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.readings) >= b.capacity {
		return ErrFull
	}
	b.readings = append(b.readings, r)
	return nil
}

// Drain copies out all buffered readings and resets the buffer, atomically
// with respect to concurrent Append calls. Returns nil when empty.
func (b *SampleBuffer) Drain() []model.Reading {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.readings) == 0 {
		return nil
	}
	out := make([]model.Reading, len(b.readings))
	copy(out, b.readings)
	b.readings = b.readings[:0]
	return out
}

// Len reports the number of buffered readings.
func (b *SampleBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.readings)
}

// Cap reports the buffer capacity.
func (b *SampleBuffer) Cap() int {
	return b.capacity
}
