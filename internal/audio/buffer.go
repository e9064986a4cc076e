package audio

import (
	"sync"
)

// RingBuffer is a thread-safe ring buffer for audio data. The playback path
// writes decoded agent audio into it and the output device drains it.
type RingBuffer struct {
	buffer []byte
	size   int
	read   int
	write  int
	mu     sync.RWMutex
}

// NewRingBuffer creates a new ring buffer with the specified size
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		buffer: make([]byte, size),
		size:   size,
	}
}

// Write writes data to the ring buffer
// Returns the number of bytes written (may be less than len(data) if buffer is full)
func (rb *RingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	written := 0
	for i := 0; i < len(data); i++ {
		if (rb.write+1)%rb.size == rb.read {
			break // Buffer full
		}

		rb.buffer[rb.write] = data[i]
		rb.write = (rb.write + 1) % rb.size
		written++
	}

	return written
}

// Read reads data from the ring buffer
// Returns the number of bytes read
func (rb *RingBuffer) Read(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	read := 0
	for i := 0; i < len(data); i++ {
		if rb.read == rb.write {
			break // Buffer empty
		}

		data[i] = rb.buffer[rb.read]
		rb.read = (rb.read + 1) % rb.size
		read++
	}

	return read
}

// Available returns the number of bytes available to read
func (rb *RingBuffer) Available() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.available()
}

func (rb *RingBuffer) available() int {
	if rb.write >= rb.read {
		return rb.write - rb.read
	}
	return rb.size - rb.read + rb.write
}

// Space returns the number of bytes available to write
func (rb *RingBuffer) Space() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size - rb.available() - 1 // -1 to prevent full/empty ambiguity
}

// Clear clears the buffer
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.read = 0
	rb.write = 0
}

// IsEmpty returns true if the buffer is empty
func (rb *RingBuffer) IsEmpty() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.read == rb.write
}

// SpeechBuffer accumulates raw microphone samples for a single utterance.
// Appends are gated by the caller on speech-activity signals; when the
// utterance ends the accumulated samples are drained in one call.
type SpeechBuffer struct {
	samples []float32
	mu      sync.Mutex
}

// NewSpeechBuffer creates an empty speech buffer
func NewSpeechBuffer() *SpeechBuffer {
	return &SpeechBuffer{}
}

// Append adds samples to the current utterance
func (sb *SpeechBuffer) Append(samples []float32) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.samples = append(sb.samples, samples...)
}

// Len returns the number of buffered samples
func (sb *SpeechBuffer) Len() int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return len(sb.samples)
}

// Drain returns the buffered samples and resets the buffer. The returned
// slice is owned by the caller.
func (sb *SpeechBuffer) Drain() []float32 {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	out := sb.samples
	sb.samples = nil
	return out
}

// Reset discards any buffered samples
func (sb *SpeechBuffer) Reset() {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.samples = nil
}
