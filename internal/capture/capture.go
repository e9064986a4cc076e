// Package capture abstracts the audio graph: a microphone capture device and
// a playback device for agent speech. The real implementation sits on top of
// miniaudio; a fake is provided for tests.
package capture

// DataCallback receives interleaved little-endian 16-bit PCM frames
type DataCallback func(data []byte, frameCount uint32)

// SourceCallback fills out with little-endian 16-bit PCM frames for playback.
// Unfilled bytes must be left zeroed (silence).
type SourceCallback func(out []byte, frameCount uint32)

// Config describes the stream format for a device
type Config struct {
	SampleRate uint32
	Channels   uint32
}

// Context owns the underlying audio backend and creates devices
type Context interface {
	NewCapture(config Config, cb DataCallback) (Device, error)
	NewPlayback(config Config, source SourceCallback) (Device, error)
	Close()
}

// Device is a started/stopped audio stream
type Device interface {
	Start() error
	Stop()
	Close()
}
