package capture

import "sync"

// RingBuffer keeps the most recent bytes of a capture stream.
//
// Visual example with a 5-byte buffer:
//
//	Initial:     [_, _, _, _, _]  start=0, n=0
//	Write "abc": [a, b, c, _, _]  start=0, n=3
//	Write "de":  [a, b, c, d, e]  start=0, n=5
//	Write "fg":  [f, g, c, d, e]  start=2, n=5 → String() returns "cdefg"
//
// RingBuffer implements io.Writer and is safe for concurrent use.
type RingBuffer struct {
	mu      sync.RWMutex
	data    []byte
	start   int // index of the oldest byte
	n       int // bytes stored
	dropped int64
}

// NewRingBuffer creates a buffer holding at most size bytes.
func NewRingBuffer(size int) *RingBuffer {
	if size < 1 {
		size = 1
	}
	return &RingBuffer{data: make([]byte, size)}
}

// Write appends p, discarding the oldest bytes once the buffer is full.
// It always returns len(p), nil.
func (r *RingBuffer) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.write(p)
	return len(p), nil
}

// WriteLine appends line followed by a newline.
func (r *RingBuffer) WriteLine(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.write([]byte(line))
	r.write([]byte{'\n'})
}

func (r *RingBuffer) write(p []byte) {
	size := len(r.data)

	// Only the tail of an oversized write can survive.
	if len(p) >= size {
		r.dropped += int64(r.n + len(p) - size)
		copy(r.data, p[len(p)-size:])
		r.start = 0
		r.n = size
		return
	}

	if overflow := r.n + len(p) - size; overflow > 0 {
		r.start = (r.start + overflow) % size
		r.n -= overflow
		r.dropped += int64(overflow)
	}

	end := (r.start + r.n) % size
	copied := copy(r.data[end:], p)
	copy(r.data, p[copied:])
	r.n += len(p)
}

// Bytes returns a copy of the stored bytes, oldest first.
func (r *RingBuffer) Bytes() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]byte, r.n)
	first := copy(out, r.data[r.start:min(r.start+r.n, len(r.data))])
	copy(out[first:], r.data[:r.n-first])
	return out
}

// String returns the stored bytes as a string.
func (r *RingBuffer) String() string {
	return string(r.Bytes())
}

// Len returns the number of bytes stored.
func (r *RingBuffer) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.n
}

// Dropped returns how many bytes have been discarded to make room.
func (r *RingBuffer) Dropped() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dropped
}

// Reset discards all stored bytes.
func (r *RingBuffer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.start = 0
	r.n = 0
	r.dropped = 0
}
