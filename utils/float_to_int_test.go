// SPDX-License-Identifier: EPL-2.0

package utils

import (
	"math"
	"testing"
)

func TestFloat32ToInt16(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input float32
		want  int16
	}{
		{name: "zero", input: 0, want: 0},
		{name: "full scale positive saturates", input: 1.0, want: math.MaxInt16},
		{name: "full scale negative", input: -1.0, want: math.MinInt16},
		{name: "half positive", input: 0.5, want: 16384},
		{name: "half negative", input: -0.5, want: -16384},
		{name: "rounds up", input: 0.001, want: 33},
		{name: "rounds down negative", input: -0.001, want: -33},
		{name: "one LSB", input: 1.0 / 32768, want: 1},
		{name: "just below full scale", input: 32766.0 / 32768, want: 32766},
		{name: "over range clamps", input: 1.5, want: math.MaxInt16},
		{name: "under range clamps", input: -3, want: math.MinInt16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := Float32ToInt16(tt.input); got != tt.want {
				t.Errorf("Float32ToInt16(%v) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestFloat32ToInt16_RoundTrip(t *testing.T) {
	t.Parallel()

	for v := math.MinInt16; v < math.MaxInt16; v += 97 {
		f := Int16ToFloat32(int16(v))
		if got := Float32ToInt16(f); got != int16(v) {
			t.Fatalf("round trip of %d gave %d", v, got)
		}
	}
}

func TestFloat32ToInt16_Monotonic(t *testing.T) {
	t.Parallel()

	prev := Float32ToInt16(-1)
	for f := -0.999; f <= 1.0; f += 0.001 {
		cur := Float32ToInt16(float32(f))
		if cur < prev {
			t.Fatalf("not monotonic at %v: %d < %d", f, cur, prev)
		}
		prev = cur
	}
}

func BenchmarkFloat32ToInt16(b *testing.B) {
	in := make([]float32, 8000)
	out := make([]int16, len(in))
	for i := range in {
		in[i] = float32(math.Sin(float64(i) * 0.01))
	}

	b.ReportAllocs()
	b.ResetTimer()

	for range b.N {
		for j, x := range in {
			out[j] = Float32ToInt16(x)
		}
	}
}
