package dsp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResampleIdentityWhenRatesMatch(t *testing.T) {
	frames := [][]float32{
		nil,
		{},
		{0.5},
		{0.1, -0.2, 0.3, -0.4, 1, -1},
	}
	for _, rate := range []int{8000, 16000, 44100, 48000} {
		for _, frame := range frames {
			require.Equal(t, frame, Resample(frame, rate, rate))
		}
	}
}

func TestResampleOutputLength(t *testing.T) {
	tests := []struct {
		name string
		in   int
		from int
		to   int
		want int
	}{
		{name: "48k to 16k", in: 4096, from: 48000, to: 16000, want: 1365},
		{name: "44.1k to 16k", in: 4096, from: 44100, to: 16000, want: 1486},
		{name: "8k to 16k", in: 160, from: 8000, to: 16000, want: 320},
		{name: "single sample downsample", in: 1, from: 48000, to: 16000, want: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := Resample(make([]float32, tc.in), tc.from, tc.to)
			require.Len(t, out, tc.want)
		})
	}
}

func TestResampleInterpolatesLinearly(t *testing.T) {
	out := Resample([]float32{0, 1, 2, 3}, 1, 2)
	require.Len(t, out, 8)
	require.InDeltaSlice(t, []float32{0, 0.5, 1, 1.5, 2, 2.5, 3, 3}, out, 1e-6)
}

func TestResampleDoesNotMutateInput(t *testing.T) {
	in := []float32{0.25, -0.25, 0.5, -0.5}
	snapshot := append([]float32(nil), in...)
	_ = Resample(in, 48000, 16000)
	require.Equal(t, snapshot, in)
}

func TestRMSOfZerosIsZero(t *testing.T) {
	for _, n := range []int{0, 1, 7, 4096} {
		require.Zero(t, RMS(make([]float32, n)))
	}
}

func TestRMSKnownValues(t *testing.T) {
	require.InDelta(t, 1.0, RMS([]float32{1, -1, 1, -1}), 1e-9)
	require.InDelta(t, 0.5, RMS([]float32{0.5, -0.5}), 1e-9)
	require.InDelta(t, math.Sqrt(0.5), RMS([]float32{1, 0}), 1e-9)
}

func TestQuantizePCM16ClipsAndEncodesLittleEndian(t *testing.T) {
	out := QuantizePCM16([]float32{0, 1, -1, 2, -2})
	require.Equal(t, []byte{
		0x00, 0x00,
		0xFF, 0x7F,
		0x00, 0x80,
		0xFF, 0x7F,
		0x00, 0x80,
	}, out)
}

func TestQuantizePCM16NaNIsSilence(t *testing.T) {
	out := QuantizePCM16([]float32{float32(math.NaN())})
	require.Equal(t, []byte{0x00, 0x00}, out)
}

func TestQuantizeRoundTripWithinOneLSB(t *testing.T) {
	frame := make([]float32, 0, 2001)
	for i := -1000; i <= 1000; i++ {
		frame = append(frame, float32(i)/1000)
	}
	frame = append(frame, 0.999983, -0.999983, 1e-6, -1e-6)

	decoded := DecodePCM16(QuantizePCM16(frame))
	require.Len(t, decoded, len(frame))
	for i := range frame {
		require.LessOrEqual(t, math.Abs(float64(frame[i]-decoded[i])), 1.0/32768, "sample %d", i)
	}
}

func TestDecodePCM16IgnoresTrailingByte(t *testing.T) {
	require.Len(t, DecodePCM16([]byte{0x01, 0x00, 0x02}), 1)
}

func TestPCM16Samples(t *testing.T) {
	require.Equal(t, []int{0, 32767, -32768, 1}, PCM16Samples([]byte{0, 0, 0xFF, 0x7F, 0x00, 0x80, 0x01, 0x00}))
}
