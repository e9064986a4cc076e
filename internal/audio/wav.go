package audio

import (
	"encoding/binary"
	"fmt"
)

// WAVHeaderSize is the size of a canonical RIFF/WAVE header with a single
// fmt and data chunk.
const WAVHeaderSize = 44

// EncodeWAV encodes normalized float samples as a mono 16-bit PCM WAV file.
// Samples outside [-1, 1] are clamped during conversion.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	pcm := Float32ToPCM16(samples)
	return EncodeWAVFromPCM16(pcm, sampleRate)
}

// EncodeWAVFromPCM16 encodes 16-bit PCM samples as a mono WAV file
func EncodeWAVFromPCM16(samples []int16, sampleRate int) []byte {
	const (
		numChannels   = 1
		bitsPerSample = 16
	)

	dataSize := len(samples) * 2
	buf := make([]byte, WAVHeaderSize+dataSize)

	byteRate := sampleRate * numChannels * bitsPerSample / 8
	blockAlign := numChannels * bitsPerSample / 8

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(buf[20:22], 1)  // PCM format
	binary.LittleEndian.PutUint16(buf[22:24], numChannels)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))

	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[WAVHeaderSize+i*2:], uint16(s))
	}

	return buf
}

// WAVInfo describes the format of a decoded WAV header
type WAVInfo struct {
	NumChannels   int
	SampleRate    int
	BitsPerSample int
	DataSize      int
}

// DecodeWAVHeader parses a canonical 44-byte WAV header
func DecodeWAVHeader(data []byte) (*WAVInfo, error) {
	if len(data) < WAVHeaderSize {
		return nil, fmt.Errorf("WAV data too short: %d bytes", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE file")
	}
	if string(data[12:16]) != "fmt " {
		return nil, fmt.Errorf("missing fmt chunk")
	}
	if format := binary.LittleEndian.Uint16(data[20:22]); format != 1 {
		return nil, fmt.Errorf("unsupported WAV format %d (want PCM)", format)
	}
	if string(data[36:40]) != "data" {
		return nil, fmt.Errorf("missing data chunk")
	}

	return &WAVInfo{
		NumChannels:   int(binary.LittleEndian.Uint16(data[22:24])),
		SampleRate:    int(binary.LittleEndian.Uint32(data[24:28])),
		BitsPerSample: int(binary.LittleEndian.Uint16(data[34:36])),
		DataSize:      int(binary.LittleEndian.Uint32(data[40:44])),
	}, nil
}
