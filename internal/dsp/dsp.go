// Package dsp provides the stateless signal transforms applied to captured audio frames.
package dsp

import (
	"encoding/binary"
	"math"
)

// Resample converts frame from fromRate to toRate using linear interpolation.
//
// The input slice is returned unchanged when the rates match or either rate is invalid.
func Resample(frame []float32, fromRate int, toRate int) []float32 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(frame) == 0 {
		return frame
	}

	ratio := float64(fromRate) / float64(toRate)
	outLen := int(math.Round(float64(len(frame)) / ratio))
	out := make([]float32, outLen)
	last := len(frame) - 1

	for i := range out {
		pos := float64(i) * ratio
		low := int(math.Floor(pos))
		if low > last {
			low = last
		}
		high := low + 1
		if high > last {
			high = last
		}
		frac := float32(pos - float64(low))
		out[i] = frame[low]*(1-frac) + frame[high]*frac
	}
	return out
}

// RMS returns the root-mean-square amplitude of frame, or 0 for an empty frame.
func RMS(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(frame)))
}

// QuantizePCM16 clips samples to [-1,1] and encodes them as little-endian signed 16-bit PCM.
func QuantizePCM16(frame []float32) []byte {
	out := make([]byte, len(frame)*2)
	for i, s := range frame {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(quantize(s)))
	}
	return out
}

// DecodePCM16 maps little-endian signed 16-bit PCM back to normalized samples.
// A trailing odd byte is ignored.
func DecodePCM16(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		if v < 0 {
			out[i] = float32(v) / 32768
			continue
		}
		out[i] = float32(v) / 32767
	}
	return out
}

// PCM16Samples widens little-endian PCM16 bytes to ints for encoders that expect them.
func PCM16Samples(pcm []byte) []int {
	out := make([]int, len(pcm)/2)
	for i := range out {
		out[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return out
}

func quantize(s float32) int16 {
	switch {
	case s != s: // NaN
		return 0
	case s >= 1:
		return math.MaxInt16
	case s <= -1:
		return math.MinInt16
	case s < 0:
		return int16(math.Round(float64(s) * 32768))
	default:
		return int16(math.Round(float64(s) * 32767))
	}
}
