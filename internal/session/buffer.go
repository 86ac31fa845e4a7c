package session

import "sync"

// RingBuffer is a bounded int16 sample buffer that mimics Python's
// collections.deque(maxlen=N): appends beyond capacity drop the oldest
// samples, and resizing down keeps only the most recent capacity samples.
type RingBuffer struct {
	mu   sync.Mutex
	data []int16
	cap  int
}

// NewRingBuffer builds a RingBuffer holding at most capacity samples.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer{cap: capacity}
}

// Append adds samples, dropping the oldest ones once capacity is exceeded.
func (b *RingBuffer) Append(samples []int16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, samples...)
	if len(b.data) > b.cap {
		b.data = append([]int16(nil), b.data[len(b.data)-b.cap:]...)
	}
}

// Resize changes the capacity, trimming to the most recent newCap samples if
// the buffer currently holds more than that — existing contents otherwise
// survive the resize untouched, matching deque(old, maxlen=new).
func (b *RingBuffer) Resize(newCap int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if newCap <= 0 {
		newCap = 1
	}
	if newCap == b.cap {
		return
	}
	b.cap = newCap
	if len(b.data) > newCap {
		b.data = append([]int16(nil), b.data[len(b.data)-newCap:]...)
	}
}

// Samples returns a copy of the buffer's current contents, oldest first.
func (b *RingBuffer) Samples() []int16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]int16, len(b.data))
	copy(out, b.data)
	return out
}

// Len reports the number of samples currently buffered.
func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Cap reports the current capacity.
func (b *RingBuffer) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cap
}

// Clear empties the buffer without changing its capacity.
func (b *RingBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = nil
}
