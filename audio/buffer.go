// SPDX-License-Identifier: EPL-2.0

package audio

import (
	"errors"
	"fmt"
	"io"
)

// maxIdleReads bounds how many consecutive (0, nil) reads ReadAll tolerates
// from a source before treating it as exhausted.
const maxIdleReads = 64

// Buffer is a fully decoded, planar (one slice per channel) block of audio.
type Buffer struct {
	Channels   [][]float32
	SampleRate int
}

// NewBuffer allocates a zeroed buffer.
func NewBuffer(channels, frames, sampleRate int) *Buffer {
	b := &Buffer{
		Channels:   make([][]float32, channels),
		SampleRate: sampleRate,
	}
	for c := range b.Channels {
		b.Channels[c] = make([]float32, frames)
	}
	return b
}

// NumChannels reports the channel count.
func (b *Buffer) NumChannels() int { return len(b.Channels) }

// Length is the number of frames per channel.
func (b *Buffer) Length() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration in seconds.
func (b *Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Length()) / float64(b.SampleRate)
}

// Validate checks the buffer is internally consistent.
func (b *Buffer) Validate() error {
	if b.SampleRate <= 0 {
		return ErrInvalidRate
	}
	if len(b.Channels) == 0 {
		return ErrNoChannels
	}
	n := len(b.Channels[0])
	for _, ch := range b.Channels[1:] {
		if len(ch) != n {
			return ErrChannelMismatch
		}
	}
	return nil
}

// ReadAll drains src and de-interleaves it into a Buffer. A trailing partial
// frame is dropped. The source is not closed.
func ReadAll(src Source) (*Buffer, error) {
	channels := src.Channels()
	if channels <= 0 {
		return nil, ErrNoChannels
	}
	if src.SampleRate() <= 0 {
		return nil, ErrInvalidRate
	}

	chunk := src.BufSize()
	if chunk < channels {
		chunk = 4096
	}
	chunk -= chunk % channels
	buf := make([]float32, chunk)

	var interleaved []float32
	idle := 0
	for {
		n, err := src.ReadSamples(buf)
		if n > 0 {
			interleaved = append(interleaved, buf[:n]...)
			idle = 0
		}

		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading samples: %w", err)
		}

		if n == 0 {
			idle++
			if idle >= maxIdleReads {
				break
			}
		}
	}

	frames := len(interleaved) / channels
	if frames == 0 {
		return nil, ErrEmptySource
	}

	out := NewBuffer(channels, frames, src.SampleRate())
	for f := range frames {
		base := f * channels
		for c := range channels {
			out.Channels[c][f] = interleaved[base+c]
		}
	}

	return out, nil
}
