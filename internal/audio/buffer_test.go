package audio

import (
	"bytes"
	"testing"
)

func TestRingBufferWriteRead(t *testing.T) {
	rb := NewRingBuffer(16)

	data := []byte{1, 2, 3, 4, 5}
	written := rb.Write(data)
	if written != len(data) {
		t.Fatalf("Write() = %d, want %d", written, len(data))
	}
	if rb.Available() != len(data) {
		t.Errorf("Available() = %d, want %d", rb.Available(), len(data))
	}

	out := make([]byte, len(data))
	read := rb.Read(out)
	if read != len(data) {
		t.Fatalf("Read() = %d, want %d", read, len(data))
	}
	if !bytes.Equal(out, data) {
		t.Errorf("Read() = %v, want %v", out, data)
	}
	if !rb.IsEmpty() {
		t.Error("expected buffer empty after draining")
	}
}

func TestRingBufferFull(t *testing.T) {
	rb := NewRingBuffer(8)

	// Capacity is size-1 to disambiguate full from empty
	written := rb.Write(make([]byte, 16))
	if written != 7 {
		t.Errorf("Write() on full buffer = %d, want 7", written)
	}
	if rb.Space() != 0 {
		t.Errorf("Space() = %d, want 0", rb.Space())
	}
}

func TestRingBufferWrapAround(t *testing.T) {
	rb := NewRingBuffer(8)

	rb.Write([]byte{1, 2, 3, 4, 5})
	out := make([]byte, 3)
	rb.Read(out)

	rb.Write([]byte{6, 7, 8})

	want := []byte{4, 5, 6, 7, 8}
	got := make([]byte, len(want))
	read := rb.Read(got)
	if read != len(want) {
		t.Fatalf("Read() = %d, want %d", read, len(want))
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Read() = %v, want %v", got, want)
	}
}

func TestRingBufferClear(t *testing.T) {
	rb := NewRingBuffer(16)
	rb.Write([]byte{1, 2, 3})
	rb.Clear()

	if !rb.IsEmpty() {
		t.Error("expected buffer empty after Clear()")
	}
	if rb.Available() != 0 {
		t.Errorf("Available() = %d, want 0", rb.Available())
	}
}

func TestSpeechBufferAppendDrain(t *testing.T) {
	sb := NewSpeechBuffer()

	sb.Append([]float32{0.1, 0.2})
	sb.Append([]float32{0.3})

	if sb.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", sb.Len())
	}

	samples := sb.Drain()
	if len(samples) != 3 {
		t.Fatalf("Drain() returned %d samples, want 3", len(samples))
	}
	if samples[0] != 0.1 || samples[1] != 0.2 || samples[2] != 0.3 {
		t.Errorf("Drain() = %v, want [0.1 0.2 0.3]", samples)
	}

	if sb.Len() != 0 {
		t.Errorf("Len() after Drain() = %d, want 0", sb.Len())
	}
}

func TestSpeechBufferReset(t *testing.T) {
	sb := NewSpeechBuffer()
	sb.Append([]float32{0.5, 0.6})
	sb.Reset()

	if sb.Len() != 0 {
		t.Errorf("Len() after Reset() = %d, want 0", sb.Len())
	}
	if got := sb.Drain(); len(got) != 0 {
		t.Errorf("Drain() after Reset() = %v, want empty", got)
	}
}
