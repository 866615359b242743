// SPDX-License-Identifier: EPL-2.0

package audio

import (
	"github.com/ik5/sampleprep/utils"
)

// antiAliasAlpha is the coefficient of the one-pole low-pass run over each
// channel before decimating.
const antiAliasAlpha = 0.5

// Resample converts every channel of b to dstRate using Catmull-Rom
// interpolation. When downsampling, a one-pole low-pass is applied first.
// The output holds floor(len * dstRate / srcRate) frames. b is returned
// unchanged when the rates already match.
func Resample(b *Buffer, dstRate int) (*Buffer, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if dstRate <= 0 {
		return nil, ErrInvalidRate
	}
	if b.SampleRate == dstRate {
		return b, nil
	}

	srcLen := b.Length()
	outLen := int(int64(srcLen) * int64(dstRate) / int64(b.SampleRate))
	step := float64(b.SampleRate) / float64(dstRate)
	downsampling := step > 1

	out := &Buffer{
		Channels:   make([][]float32, len(b.Channels)),
		SampleRate: dstRate,
	}

	for c, in := range b.Channels {
		if downsampling {
			in = lowPass(in)
		}
		out.Channels[c] = interpolate(in, outLen, step)
	}

	return out, nil
}

func lowPass(in []float32) []float32 {
	out := make([]float32, len(in))
	if len(in) == 0 {
		return out
	}

	// seed with the first sample to avoid a ramp-in transient
	state := in[0]
	for i, x := range in {
		state = antiAliasAlpha*x + (1-antiAliasAlpha)*state
		out[i] = state
	}
	return out
}

func interpolate(in []float32, outLen int, step float64) []float32 {
	out := make([]float32, outLen)
	last := len(in) - 1
	if last < 0 {
		return out
	}

	at := func(i int) float32 {
		switch {
		case i < 0:
			return in[0]
		case i > last:
			return in[last]
		default:
			return in[i]
		}
	}

	for i := range out {
		pos := float64(i) * step
		k := int(pos)
		frac := pos - float64(k)
		out[i] = utils.CatmullRom(at(k-1), at(k), at(k+1), at(k+2), frac)
	}

	return out
}
