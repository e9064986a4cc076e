package audio

import (
	"fmt"
	"math"
)

// ConvertPCMToPCMU converts linear PCM audio to G.711 PCMU (μ-law) format
// Input: PCM audio data (16-bit signed integers, little-endian)
// Output: PCMU (μ-law) encoded audio data
func ConvertPCMToPCMU(pcmData []byte, inputSampleRate, outputSampleRate int) ([]byte, error) {
	if len(pcmData) == 0 {
		return nil, fmt.Errorf("empty PCM data")
	}
	if len(pcmData)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples)")
	}

	samples := make([]int16, len(pcmData)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int16(pcmData[i*2]) | int16(pcmData[i*2+1])<<8
	}

	if inputSampleRate != outputSampleRate {
		samples = Resample(samples, inputSampleRate, outputSampleRate)
	}

	pcmuData := make([]byte, len(samples))
	for i, sample := range samples {
		pcmuData[i] = linearToMulaw(sample)
	}

	return pcmuData, nil
}

// ConvertPCMUToPCM converts G.711 PCMU (μ-law) to linear PCM
// (16-bit signed integers, little-endian)
func ConvertPCMUToPCM(pcmuData []byte) ([]byte, error) {
	if len(pcmuData) == 0 {
		return nil, fmt.Errorf("empty PCMU data")
	}

	pcmData := make([]byte, len(pcmuData)*2)
	for i, mulawByte := range pcmuData {
		sample := mulawToLinear(mulawByte)
		pcmData[i*2] = byte(sample)
		pcmData[i*2+1] = byte(sample >> 8)
	}

	return pcmData, nil
}

// Resample performs simple linear interpolation resampling
func Resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	outputLength := int(float64(len(samples)) * ratio)
	output := make([]int16, outputLength)

	for i := 0; i < outputLength; i++ {
		srcPos := float64(i) / ratio

		idx0 := int(srcPos)
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}

		fraction := srcPos - float64(idx0)
		output[i] = int16(float64(samples[idx0])*(1.0-fraction) + float64(samples[idx1])*fraction)
	}

	return output
}

// linearToMulaw converts a 16-bit linear PCM sample to 8-bit μ-law
// (ITU-T G.711 standard)
func linearToMulaw(sample int16) byte {
	const (
		clip = 8159 // Maximum magnitude to clip input (14-bit range)
		bias = 0x21 // Bias value (33 decimal)
	)

	var sign byte
	magnitude := int32(sample)

	if sample < 0 {
		sign = 0x80
		magnitude = -magnitude
	}

	if magnitude > clip {
		magnitude = clip
	}

	magnitude += bias

	// Find segment (exponent) by highest set bit position
	var segment byte
	switch {
	case magnitude >= 0x1000:
		segment = 7
	case magnitude >= 0x800:
		segment = 6
	case magnitude >= 0x400:
		segment = 5
	case magnitude >= 0x200:
		segment = 4
	case magnitude >= 0x100:
		segment = 3
	case magnitude >= 0x80:
		segment = 2
	case magnitude >= 0x40:
		segment = 1
	default:
		segment = 0
	}

	mantissa := byte((magnitude >> (segment + 1)) & 0x0F)

	ulawByte := sign | (segment << 4) | mantissa
	return ^ulawByte
}

// mulawToLinear converts an 8-bit μ-law sample to 16-bit linear PCM
func mulawToLinear(mulawByte byte) int16 {
	mulawByte = ^mulawByte

	sign := mulawByte & 0x80
	segment := int32((mulawByte >> 4) & 0x07)
	mantissa := int32(mulawByte & 0x0F)

	step := mantissa << (segment + 1)
	step += int32(33) << segment
	magnitude := step - 33

	if sign != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}

// Float32ToPCM16 converts normalized float samples in [-1, 1] to 16-bit
// signed PCM. Out-of-range samples are clamped.
func Float32ToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		out[i] = int16(s * 32767.0)
	}
	return out
}

// PCM16ToFloat32 converts 16-bit signed PCM samples to normalized floats
func PCM16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// PCM16BytesToSamples decodes little-endian 16-bit PCM bytes into samples
func PCM16BytesToSamples(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples)")
	}
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples, nil
}

// SamplesToPCM16Bytes encodes samples as little-endian 16-bit PCM bytes
func SamplesToPCM16Bytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}
