package logging

import (
	"os"
	"sync"
)

// RingBuffer is a thread-safe circular byte buffer used to keep the most
// recent log output in memory for crash dumps. It implements io.Writer and
// silently drops the oldest data when full.
type RingBuffer struct {
	mu    sync.Mutex
	buf   []byte
	start int // index of oldest byte
	n     int // number of valid bytes
}

// NewRingBuffer creates a ring buffer with the given capacity in bytes.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 10 * 1024 * 1024 // 10MB default
	}
	return &RingBuffer{buf: make([]byte, capacity)}
}

// Write implements io.Writer. Older data is overwritten when the buffer wraps.
func (rb *RingBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	written := len(p)
	capSize := len(rb.buf)

	// Oversized write: only the tail survives anyway.
	if len(p) > capSize {
		p = p[len(p)-capSize:]
	}

	end := (rb.start + rb.n) % capSize
	first := capSize - end
	if first > len(p) {
		first = len(p)
	}
	copy(rb.buf[end:], p[:first])
	copy(rb.buf, p[first:])

	rb.n += len(p)
	if rb.n > capSize {
		// Overwrote the oldest bytes; advance start past them.
		rb.start = (rb.start + rb.n - capSize) % capSize
		rb.n = capSize
	}
	return written, nil
}

// Bytes returns the buffer contents in chronological order.
func (rb *RingBuffer) Bytes() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	out := make([]byte, rb.n)
	first := len(rb.buf) - rb.start
	if first > rb.n {
		first = rb.n
	}
	copy(out, rb.buf[rb.start:rb.start+first])
	copy(out[first:], rb.buf[:rb.n-first])
	return out
}

// DumpToFile writes the ring buffer contents to a file in chronological order.
func (rb *RingBuffer) DumpToFile(path string) error {
	return os.WriteFile(path, rb.Bytes(), 0o644)
}
