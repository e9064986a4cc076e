package audio

import (
	"testing"
)

func makeFrame(amplitude int16, size int) []int16 {
	frame := make([]int16, size)
	for i := range frame {
		if i%2 == 0 {
			frame[i] = amplitude
		} else {
			frame[i] = -amplitude
		}
	}
	return frame
}

func TestVADDetectorSpeechStart(t *testing.T) {
	vad := NewVADDetector(DefaultVADConfig())

	// Silence frame first
	speaking, started, ended := vad.ProcessFrame(makeFrame(10, 160))
	if speaking || started || ended {
		t.Errorf("silence frame: got (%v, %v, %v), want all false", speaking, started, ended)
	}

	// Loud frame triggers speech start
	speaking, started, ended = vad.ProcessFrame(makeFrame(5000, 160))
	if !speaking {
		t.Error("loud frame: expected isSpeaking true")
	}
	if !started {
		t.Error("loud frame: expected speechStarted true")
	}
	if ended {
		t.Error("loud frame: expected speechEnded false")
	}

	// A second loud frame should not re-signal start
	_, started, _ = vad.ProcessFrame(makeFrame(5000, 160))
	if started {
		t.Error("continued speech: speechStarted should only fire once")
	}
}

func TestVADDetectorSpeechEndAfterSilence(t *testing.T) {
	config := &VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   3,
		FrameSize:       160,
	}
	vad := NewVADDetector(config)

	vad.ProcessFrame(makeFrame(5000, 160))

	// Fewer silence frames than the threshold keeps speech active
	for i := 0; i < config.SilenceFrames-1; i++ {
		speaking, _, ended := vad.ProcessFrame(makeFrame(10, 160))
		if !speaking || ended {
			t.Fatalf("silence frame %d: got (speaking=%v, ended=%v), want (true, false)", i, speaking, ended)
		}
	}

	// The final silence frame ends the utterance
	speaking, _, ended := vad.ProcessFrame(makeFrame(10, 160))
	if speaking {
		t.Error("expected isSpeaking false after sustained silence")
	}
	if !ended {
		t.Error("expected speechEnded true after sustained silence")
	}
}

func TestVADDetectorBriefSilenceDoesNotEndSpeech(t *testing.T) {
	config := &VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   5,
		FrameSize:       160,
	}
	vad := NewVADDetector(config)

	vad.ProcessFrame(makeFrame(5000, 160))
	vad.ProcessFrame(makeFrame(10, 160))
	vad.ProcessFrame(makeFrame(10, 160))

	// Speech resumes, resetting the silence counter
	speaking, started, ended := vad.ProcessFrame(makeFrame(5000, 160))
	if !speaking || started || ended {
		t.Errorf("resumed speech: got (%v, %v, %v), want (true, false, false)", speaking, started, ended)
	}
}

func TestVADDetectorReset(t *testing.T) {
	vad := NewVADDetector(nil)
	vad.ProcessFrame(makeFrame(5000, 160))

	if !vad.IsSpeaking() {
		t.Fatal("expected isSpeaking true before reset")
	}

	vad.Reset()
	if vad.IsSpeaking() {
		t.Error("expected isSpeaking false after reset")
	}
}
