package realtime

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/yusufsallam64/diagnosure/internal/audio"
	"github.com/yusufsallam64/diagnosure/internal/observability"
)

// Capturer accumulates mic samples into per-utterance buffers, gated by
// speech-activity signals from the event stream. Completed utterances are
// encoded as WAV and handed to the onUtterance callback for the fallback
// transcription path.
type Capturer struct {
	sampleRate  int
	onUtterance func(wav []byte)
	metrics     *observability.Metrics
	logger      zerolog.Logger

	mu       sync.Mutex
	buffer   *audio.SpeechBuffer
	speaking bool
}

// NewCapturer creates a capturer. onUtterance must not block; it receives
// one complete WAV-encoded utterance per speech segment.
func NewCapturer(sampleRate int, onUtterance func(wav []byte), metrics *observability.Metrics, logger zerolog.Logger) *Capturer {
	return &Capturer{
		sampleRate:  sampleRate,
		onUtterance: onUtterance,
		metrics:     metrics,
		logger:      logger.With().Str("component", "capturer").Logger(),
		buffer:      audio.NewSpeechBuffer(),
	}
}

// OnSpeechStarted begins a fresh utterance buffer
func (c *Capturer) OnSpeechStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buffer.Reset()
	c.speaking = true
}

// OnSpeechStopped closes the current utterance and flushes it. Empty
// buffers produce no callback.
func (c *Capturer) OnSpeechStopped() {
	c.mu.Lock()
	c.speaking = false
	samples := c.buffer.Drain()
	c.mu.Unlock()

	c.flush(samples)
}

// HandleFrame buffers a frame of mic samples while speech is active
func (c *Capturer) HandleFrame(samples []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.speaking {
		return
	}
	c.buffer.Append(samples)
}

// Stop discards any partial utterance; called during session teardown
func (c *Capturer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.speaking = false
	c.buffer.Reset()
}

func (c *Capturer) flush(samples []float32) {
	if len(samples) == 0 {
		return
	}

	wav := audio.EncodeWAV(samples, c.sampleRate)

	if c.metrics != nil {
		c.metrics.RecordUtterance()
	}
	c.logger.Debug().Int("samples", len(samples)).Msg("utterance flushed")

	// Callback failures must not stop capture; the callback owns its own
	// error handling and logging.
	c.onUtterance(wav)
}
