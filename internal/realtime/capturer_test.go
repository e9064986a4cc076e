package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yusufsallam64/diagnosure/internal/audio"
	"github.com/yusufsallam64/diagnosure/internal/observability"
)

func collectUtterances() (*[][]byte, func(wav []byte)) {
	var utterances [][]byte
	return &utterances, func(wav []byte) {
		utterances = append(utterances, wav)
	}
}

func TestCapturerBuffersOnlyWhileSpeaking(t *testing.T) {
	utterances, onUtterance := collectUtterances()
	c := NewCapturer(8000, onUtterance, nil, observability.GetLogger())

	// Frames before speech starts are ignored
	c.HandleFrame([]float32{0.1, 0.2})

	c.OnSpeechStarted()
	c.HandleFrame([]float32{0.3, 0.4})
	c.HandleFrame([]float32{0.5})
	c.OnSpeechStopped()

	require.Len(t, *utterances, 1)

	info, err := audio.DecodeWAVHeader((*utterances)[0])
	require.NoError(t, err)
	assert.Equal(t, 8000, info.SampleRate)
	assert.Equal(t, 3*2, info.DataSize, "only frames during speech are buffered")
}

func TestCapturerEmptyBufferNoCallback(t *testing.T) {
	utterances, onUtterance := collectUtterances()
	c := NewCapturer(8000, onUtterance, nil, observability.GetLogger())

	c.OnSpeechStarted()
	c.OnSpeechStopped() // nothing buffered

	assert.Empty(t, *utterances)
}

func TestCapturerSpeechStartResetsBuffer(t *testing.T) {
	utterances, onUtterance := collectUtterances()
	c := NewCapturer(8000, onUtterance, nil, observability.GetLogger())

	c.OnSpeechStarted()
	c.HandleFrame([]float32{0.1, 0.2, 0.3})

	// A new speech start discards the partial utterance
	c.OnSpeechStarted()
	c.HandleFrame([]float32{0.4})
	c.OnSpeechStopped()

	require.Len(t, *utterances, 1)

	info, err := audio.DecodeWAVHeader((*utterances)[0])
	require.NoError(t, err)
	assert.Equal(t, 2, info.DataSize)
}

func TestCapturerStopDiscardsPartialUtterance(t *testing.T) {
	utterances, onUtterance := collectUtterances()
	c := NewCapturer(8000, onUtterance, nil, observability.GetLogger())

	c.OnSpeechStarted()
	c.HandleFrame([]float32{0.1, 0.2})
	c.Stop()

	assert.Empty(t, *utterances, "teardown must not flush")

	// Frames after stop are ignored
	c.HandleFrame([]float32{0.3})
	c.OnSpeechStopped()
	assert.Empty(t, *utterances)
}

func TestCapturerMultipleUtterances(t *testing.T) {
	utterances, onUtterance := collectUtterances()
	c := NewCapturer(8000, onUtterance, nil, observability.GetLogger())

	for i := 0; i < 3; i++ {
		c.OnSpeechStarted()
		c.HandleFrame([]float32{0.1, 0.2})
		c.OnSpeechStopped()
	}

	assert.Len(t, *utterances, 3)
}
