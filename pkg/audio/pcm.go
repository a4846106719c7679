// Package audio provides the capture and encoding pipeline between the
// local microphone and the voice relay wire format.
package audio

import (
	"encoding/binary"
	"math"
)

// EncodePCM16 converts normalized float32 samples to 16-bit little-endian
// PCM. Samples are clamped to [-1, 1] and scaled by 32767, producing exactly
// 2*len(samples) bytes. No resampling is performed.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s*32767)))
	}
	return out
}

// DecodePCM16 converts 16-bit little-endian PCM bytes back to normalized
// float32 samples. A trailing odd byte is ignored.
func DecodePCM16(data []byte) []float32 {
	samples := make([]float32, len(data)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(data[i*2:]))) / 32767
	}
	return samples
}

// DecodeF32 reinterprets little-endian float32 bytes as samples, the layout
// the capture device delivers.
func DecodeF32(data []byte) []float32 {
	samples := make([]float32, len(data)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return samples
}

// RMS computes the root-mean-square amplitude of a frame, used as a
// loudness proxy for voice activity detection.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
