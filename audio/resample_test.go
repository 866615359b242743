// SPDX-License-Identifier: EPL-2.0

package audio

import (
	"math"
	"testing"

	"github.com/ik5/sampleprep/internal/audiotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResample_SameRateIsIdentity(t *testing.T) {
	t.Parallel()

	in := &Buffer{Channels: audiotest.Planar(1, 100, audiotest.Ramp(0.01)), SampleRate: 31250}

	out, err := Resample(in, 31250)
	require.NoError(t, err)
	assert.Same(t, in, out)
}

func TestResample_Length(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		srcRate   int
		dstRate   int
		srcFrames int
		want      int
	}{
		{name: "44.1k to 31.25k", srcRate: 44100, dstRate: 31250, srcFrames: 441000, want: 312500},
		{name: "48k to 31.25k", srcRate: 48000, dstRate: 31250, srcFrames: 48000, want: 31250},
		{name: "upsample 16k to 31.25k", srcRate: 16000, dstRate: 31250, srcFrames: 1600, want: 3125},
		{name: "floor on fractional output", srcRate: 44100, dstRate: 31250, srcFrames: 100, want: 70},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			in := &Buffer{Channels: audiotest.Planar(2, tt.srcFrames, audiotest.Constant(0.1)), SampleRate: tt.srcRate}
			out, err := Resample(in, tt.dstRate)
			require.NoError(t, err)

			assert.Equal(t, tt.dstRate, out.SampleRate)
			assert.Equal(t, 2, out.NumChannels())
			assert.Equal(t, tt.want, out.Length())
		})
	}
}

func TestResample_ConstantSignalPreserved(t *testing.T) {
	t.Parallel()

	for _, rate := range []int{8000, 22050, 44100, 96000} {
		in := &Buffer{Channels: audiotest.Planar(1, rate/10, audiotest.Constant(0.5)), SampleRate: rate}
		out, err := Resample(in, 31250)
		require.NoError(t, err)

		for i, v := range out.Channels[0] {
			require.InDelta(t, 0.5, v, 1e-5, "rate %d frame %d", rate, i)
		}
	}
}

func TestResample_SinePreservesAmplitude(t *testing.T) {
	t.Parallel()

	in := &Buffer{Channels: audiotest.Planar(1, 44100, audiotest.Sine(44100, 440, 0.8)), SampleRate: 44100}
	out, err := Resample(in, 31250)
	require.NoError(t, err)

	peak := 0.0
	for _, v := range out.Channels[0][1000:] {
		peak = math.Max(peak, math.Abs(float64(v)))
	}
	assert.InDelta(t, 0.8, peak, 0.1)
}

func TestResample_InvalidInput(t *testing.T) {
	t.Parallel()

	_, err := Resample(&Buffer{Channels: [][]float32{{0}}, SampleRate: 100}, 0)
	assert.ErrorIs(t, err, ErrInvalidRate)

	_, err = Resample(&Buffer{SampleRate: 100}, 200)
	assert.ErrorIs(t, err, ErrNoChannels)
}

func BenchmarkResample(b *testing.B) {
	in := &Buffer{Channels: audiotest.Planar(2, 44100, audiotest.Sine(44100, 440, 0.8)), SampleRate: 44100}

	b.ReportAllocs()
	b.ResetTimer()

	for range b.N {
		_, _ = Resample(in, 31250)
	}
}
