package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// BytesPerSample is the width of one signed 16-bit little-endian PCM sample.
const BytesPerSample = 2

var ErrOddLength = errors.New("pcm data length is not a multiple of 2 bytes")

// DecodePCM16 converts mono s16le bytes to float64 samples in [-1, 1).
func DecodePCM16(data []byte) ([]float64, error) {
	if len(data)%BytesPerSample != 0 {
		return nil, fmt.Errorf("decoding %d bytes: %w", len(data), ErrOddLength)
	}
	out := make([]float64, len(data)/BytesPerSample)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		out[i] = float64(v) / 32768.0
	}
	return out, nil
}

// EncodePCM16 converts float64 samples to s16le bytes, clipping to the int16 range.
func EncodePCM16(samples []float64) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		v := math.Round(s * 32768.0)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// Duration returns the length in seconds of n bytes of mono s16le PCM.
func Duration(n int, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(n/BytesPerSample) / float64(sampleRate)
}

// BytesFor returns the byte count of sec seconds of mono s16le PCM, rounded
// down to a whole sample.
func BytesFor(sec float64, sampleRate int) int {
	if sec <= 0 || sampleRate <= 0 {
		return 0
	}
	return int(sec*float64(sampleRate)) * BytesPerSample
}

// Resample converts samples between rates using linear interpolation.
// Equal rates return the input unchanged.
func Resample(samples []float64, from, to int) []float64 {
	if from <= 0 || to <= 0 || from == to || len(samples) == 0 {
		return samples
	}
	ratio := float64(from) / float64(to)
	n := int(float64(len(samples)) / ratio)
	out := make([]float64, n)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= last {
			out[i] = samples[last]
			continue
		}
		frac := pos - float64(j)
		out[i] = samples[j]*(1-frac) + samples[j+1]*frac
	}
	return out
}

// Normalize scales samples in place so the peak magnitude is 1. Silent input
// is left untouched.
func Normalize(samples []float64) []float64 {
	if len(samples) == 0 {
		return samples
	}
	peak := floats.Norm(samples, math.Inf(1))
	if peak == 0 {
		return samples
	}
	floats.Scale(1/peak, samples)
	return samples
}

// RMS returns the root mean square level of samples.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	return floats.Norm(samples, 2) / math.Sqrt(float64(len(samples)))
}
