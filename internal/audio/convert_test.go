package audio

import (
	"math"
	"testing"
)

func TestMulawRoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		sample    int16
		tolerance int16
	}{
		{"zero", 0, 40},
		{"small positive", 100, 40},
		{"small negative", -100, 40},
		{"medium positive", 1000, 100},
		{"medium negative", -1000, 100},
		{"large positive", 8000, 600},
		{"large negative", -8000, 600},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := linearToMulaw(tt.sample)
			decoded := mulawToLinear(encoded)

			diff := int32(decoded) - int32(tt.sample)
			if diff < 0 {
				diff = -diff
			}
			if diff > int32(tt.tolerance) {
				t.Errorf("round trip %d -> %d -> %d, diff %d exceeds tolerance %d",
					tt.sample, encoded, decoded, diff, tt.tolerance)
			}
		})
	}
}

func TestConvertPCMToPCMU(t *testing.T) {
	pcm := SamplesToPCM16Bytes([]int16{0, 1000, -1000, 5000})

	pcmu, err := ConvertPCMToPCMU(pcm, 8000, 8000)
	if err != nil {
		t.Fatalf("ConvertPCMToPCMU() error: %v", err)
	}
	if len(pcmu) != 4 {
		t.Errorf("len(pcmu) = %d, want 4", len(pcmu))
	}
}

func TestConvertPCMToPCMUErrors(t *testing.T) {
	if _, err := ConvertPCMToPCMU(nil, 8000, 8000); err == nil {
		t.Error("expected error for empty input")
	}
	if _, err := ConvertPCMToPCMU([]byte{1, 2, 3}, 8000, 8000); err == nil {
		t.Error("expected error for odd-length input")
	}
}

func TestConvertPCMUToPCMRoundTrip(t *testing.T) {
	original := []int16{0, 500, -500, 2000, -2000}
	pcm := SamplesToPCM16Bytes(original)

	pcmu, err := ConvertPCMToPCMU(pcm, 8000, 8000)
	if err != nil {
		t.Fatalf("ConvertPCMToPCMU() error: %v", err)
	}

	back, err := ConvertPCMUToPCM(pcmu)
	if err != nil {
		t.Fatalf("ConvertPCMUToPCM() error: %v", err)
	}

	samples, err := PCM16BytesToSamples(back)
	if err != nil {
		t.Fatalf("PCM16BytesToSamples() error: %v", err)
	}
	if len(samples) != len(original) {
		t.Fatalf("got %d samples, want %d", len(samples), len(original))
	}

	for i := range original {
		diff := int32(samples[i]) - int32(original[i])
		if diff < 0 {
			diff = -diff
		}
		if diff > 200 {
			t.Errorf("sample %d: %d -> %d, diff too large", i, original[i], samples[i])
		}
	}
}

func TestResampleDownsamples(t *testing.T) {
	samples := make([]int16, 240) // 10ms at 24kHz
	out := Resample(samples, 24000, 8000)
	if len(out) != 80 { // 10ms at 8kHz
		t.Errorf("len(out) = %d, want 80", len(out))
	}
}

func TestResampleSameRate(t *testing.T) {
	samples := []int16{1, 2, 3}
	out := Resample(samples, 8000, 8000)
	if len(out) != 3 {
		t.Errorf("len(out) = %d, want 3", len(out))
	}
}

func TestFloat32ToPCM16Clamping(t *testing.T) {
	samples := []float32{0.0, 0.5, -0.5, 2.0, -2.0, 1.0, -1.0}
	out := Float32ToPCM16(samples)

	if out[0] != 0 {
		t.Errorf("out[0] = %d, want 0", out[0])
	}
	if out[3] != 32767 {
		t.Errorf("overrange positive = %d, want 32767 (clamped)", out[3])
	}
	if out[4] != -32767 {
		t.Errorf("overrange negative = %d, want -32767 (clamped)", out[4])
	}
	if out[5] != 32767 {
		t.Errorf("full scale positive = %d, want 32767", out[5])
	}
}

func TestPCM16ToFloat32Range(t *testing.T) {
	samples := []int16{0, 16384, -16384, 32767, -32768}
	out := PCM16ToFloat32(samples)

	for i, f := range out {
		if f < -1.0 || f > 1.0 {
			t.Errorf("out[%d] = %f, outside [-1, 1]", i, f)
		}
	}
	if math.Abs(float64(out[1])-0.5) > 0.001 {
		t.Errorf("out[1] = %f, want ~0.5", out[1])
	}
}

func TestCalculateRMS(t *testing.T) {
	if rms := CalculateRMS(nil); rms != 0.0 {
		t.Errorf("RMS of empty = %f, want 0", rms)
	}

	if rms := CalculateRMS(make([]int16, 100)); rms != 0.0 {
		t.Errorf("RMS of silence = %f, want 0", rms)
	}

	samples := []int16{1000, -1000, 1000, -1000}
	if rms := CalculateRMS(samples); math.Abs(rms-1000.0) > 0.01 {
		t.Errorf("RMS of constant amplitude = %f, want 1000", rms)
	}
}
