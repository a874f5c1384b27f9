// Package pcm converts float audio samples into 16-bit PCM and packs it for transport.
package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"math"
	"sync/atomic"
	"time"
)

const (
	// SampleRate is the fixed rate of every chunk exchanged with the realtime backend.
	SampleRate = 24000

	scale = 32767
)

// Encode converts samples in roughly [-1, 1] to int16.
//
// Non-finite values become 0; everything else is clamped before and after scaling.
// The output always has the same length as the input.
func Encode(samples []float32) []int16 {
	out, _ := encode(samples)
	return out
}

// Decode maps int16 samples back to floats in [-1, 1].
func Decode(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / scale
	}
	return out
}

func encode(samples []float32) ([]int16, int) {
	out := make([]int16, len(samples))
	corrected := 0
	for i, sample := range samples {
		v := float64(sample)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
			corrected++
		} else if v > 1 || v < -1 {
			corrected++
		}
		v = math.Max(-1, math.Min(1, v))
		scaled := math.Round(v * scale)
		out[i] = int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, scaled)))
	}
	return out, corrected
}

// Encoder wraps Encode and counts corrected (non-finite or out-of-range) input samples.
type Encoder struct {
	samples   atomic.Int64
	corrected atomic.Int64
}

// Encode converts one frame and records how many samples needed correction.
func (e *Encoder) Encode(samples []float32) []int16 {
	out, corrected := encode(samples)
	e.samples.Add(int64(len(samples)))
	if corrected > 0 {
		e.corrected.Add(int64(corrected))
	}
	return out
}

// Samples reports the total number of samples encoded.
func (e *Encoder) Samples() int64 {
	return e.samples.Load()
}

// Corrected reports the number of samples replaced or clamped.
func (e *Encoder) Corrected() int64 {
	return e.corrected.Load()
}

// Bytes packs samples as little-endian PCM16.
func Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// FromBytes unpacks little-endian PCM16. A trailing odd byte is ignored.
func FromBytes(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// Base64 returns the standard base64 encoding of the little-endian PCM16 bytes.
func Base64(samples []int16) string {
	return base64.StdEncoding.EncodeToString(Bytes(samples))
}

// Duration reports how long samples last at the given rate.
func Duration(samples int, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
