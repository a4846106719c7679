// RingBuffer implements a fixed-size circular buffer for raw capture bytes.
// The device callback writes whatever chunk size the backend delivers; the
// pipeline consumes fixed-size frames from it.
//
// Main features:
//   - Fixed capacity based on sample rate and duration
//   - Thread-safe read/write operations
//   - Oldest data is overwritten when the producer outruns the consumer

package audio

import (
	"sync"
)

// RingBuffer is a fixed-size circular FIFO for audio bytes.
type RingBuffer struct {
	data     []byte
	capacity int // total capacity in bytes
	readPos  int // next read position
	writePos int // next write position
	size     int // current data size
	mu       sync.Mutex
}

// NewRingBuffer creates a ring buffer holding durationMs of audio.
// bytesPerSample is 4 for float32 capture data, 2 for PCM16.
func NewRingBuffer(sampleRate, durationMs, bytesPerSample int) *RingBuffer {
	capacity := sampleRate * durationMs / 1000 * bytesPerSample
	return &RingBuffer{
		data:     make([]byte, capacity),
		capacity: capacity,
	}
}

// Write appends data to the buffer. If the buffer is full, the oldest data
// is overwritten and the read position advances past it.
func (rb *RingBuffer) Write(data []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	dataLen := len(data)
	if dataLen == 0 {
		return
	}

	// Incoming chunk larger than capacity: keep only the newest bytes.
	if dataLen >= rb.capacity {
		copy(rb.data, data[dataLen-rb.capacity:])
		rb.readPos = 0
		rb.writePos = 0
		rb.size = rb.capacity
		return
	}

	spaceToEnd := rb.capacity - rb.writePos
	if dataLen <= spaceToEnd {
		copy(rb.data[rb.writePos:], data)
	} else {
		copy(rb.data[rb.writePos:], data[:spaceToEnd])
		copy(rb.data, data[spaceToEnd:])
	}
	rb.writePos = (rb.writePos + dataLen) % rb.capacity

	rb.size += dataLen
	if rb.size > rb.capacity {
		// Overwrote unread data, drop it.
		rb.size = rb.capacity
		rb.readPos = rb.writePos
	}
}

// ReadFrame consumes and returns exactly n bytes in chronological order,
// or (nil, false) if fewer than n bytes are buffered.
func (rb *RingBuffer) ReadFrame(n int) ([]byte, bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if n <= 0 || rb.size < n {
		return nil, false
	}

	frame := make([]byte, n)
	toEnd := rb.capacity - rb.readPos
	if n <= toEnd {
		copy(frame, rb.data[rb.readPos:rb.readPos+n])
	} else {
		copy(frame, rb.data[rb.readPos:])
		copy(frame[toEnd:], rb.data[:n-toEnd])
	}
	rb.readPos = (rb.readPos + n) % rb.capacity
	rb.size -= n
	return frame, true
}

// Clear resets the buffer to the empty state.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.readPos = 0
	rb.writePos = 0
	rb.size = 0
}

// Size returns the current amount of data in the buffer.
func (rb *RingBuffer) Size() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size
}

// Capacity returns the total capacity of the buffer.
func (rb *RingBuffer) Capacity() int {
	return rb.capacity
}
