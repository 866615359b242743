// SPDX-License-Identifier: EPL-2.0

// Package audiotest holds fixtures shared by the tests of several packages.
// It deliberately avoids importing the audio package so that package's own
// tests can use it.
package audiotest

import (
	"io"
	"math"
)

// Waveform yields the value of one channel at one frame index.
type Waveform func(frame, channel int) float32

// MockSource generates interleaved audio on demand. It satisfies
// audio.Source structurally.
type MockSource struct {
	rate     int
	channels int
	frames   int
	pos      int
	bufSize  int
	wave     Waveform
}

// NewMockSource creates a source producing frames frames per channel.
func NewMockSource(rate, channels, frames int, wave Waveform) *MockSource {
	return &MockSource{
		rate:     rate,
		channels: channels,
		frames:   frames,
		bufSize:  4096,
		wave:     wave,
	}
}

// Constant returns a waveform holding v on every channel.
func Constant(v float32) Waveform {
	return func(int, int) float32 { return v }
}

// PerChannel returns a waveform holding values[c] on channel c.
func PerChannel(values ...float32) Waveform {
	return func(_, c int) float32 { return values[c] }
}

// Sine returns a sine waveform at freq Hz for the given rate.
func Sine(rate int, freq, amplitude float64) Waveform {
	return func(frame, _ int) float32 {
		return float32(amplitude * math.Sin(2*math.Pi*freq*float64(frame)/float64(rate)))
	}
}

// Ramp returns a waveform equal to frame*step.
func Ramp(step float32) Waveform {
	return func(frame, _ int) float32 { return float32(frame) * step }
}

// WithBufSize overrides the reported preferred buffer size.
func (m *MockSource) WithBufSize(n int) *MockSource {
	m.bufSize = n
	return m
}

func (m *MockSource) SampleRate() int { return m.rate }
func (m *MockSource) Channels() int   { return m.channels }
func (m *MockSource) BufSize() int    { return m.bufSize }
func (m *MockSource) Close() error    { return nil }

// Reset rewinds the generator.
func (m *MockSource) Reset() { m.pos = 0 }

func (m *MockSource) ReadSamples(dst []float32) (int, error) {
	if m.pos >= m.frames {
		return 0, io.EOF
	}

	n := min(len(dst)/m.channels, m.frames-m.pos)
	for f := range n {
		for c := range m.channels {
			dst[f*m.channels+c] = m.wave(m.pos+f, c)
		}
	}
	m.pos += n

	if m.pos >= m.frames {
		return n * m.channels, io.EOF
	}
	return n * m.channels, nil
}

// Planar renders wave into per-channel slices.
func Planar(channels, frames int, wave Waveform) [][]float32 {
	out := make([][]float32, channels)
	for c := range out {
		out[c] = make([]float32, frames)
		for f := range frames {
			out[c][f] = wave(f, c)
		}
	}
	return out
}
