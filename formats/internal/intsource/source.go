// SPDX-License-Identifier: EPL-2.0

// Package intsource adapts the integer PCM decoders of go-audio to
// audio.Source.
package intsource

import (
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
)

var ErrUnsupportedBitDepth = errors.New("unsupported bit depth")

// PCMReader is the part of the go-audio wav and aiff decoders used here.
type PCMReader interface {
	Format() *goaudio.Format
	PCMBuffer(buf *goaudio.IntBuffer) (int, error)
}

// Source wraps a PCMReader. Unsigned marks 8-bit data stored as unsigned
// bytes (WAV); AIFF stores signed 8-bit.
type Source struct {
	dec        PCMReader
	sampleRate int
	channels   int
	offset     int
	divisor    float32
	intBuf     *goaudio.IntBuffer
}

// New validates the bit depth and returns a ready source.
func New(dec PCMReader, sampleRate, channels, bitDepth int, unsigned8 bool) (*Source, error) {
	divisor, err := Divisor(bitDepth)
	if err != nil {
		return nil, err
	}

	s := &Source{
		dec:        dec,
		sampleRate: sampleRate,
		channels:   channels,
		divisor:    divisor,
	}
	if bitDepth == 8 && unsigned8 {
		s.offset = 128
	}
	return s, nil
}

// Divisor maps a bit depth to the full-scale value of that depth.
func Divisor(bitDepth int) (float32, error) {
	switch bitDepth {
	case 8:
		return 128.0, nil
	case 16:
		return 32768.0, nil
	case 24:
		return 8388608.0, nil
	case 32:
		return 2147483648.0, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedBitDepth, bitDepth)
	}
}

func (s *Source) SampleRate() int { return s.sampleRate }
func (s *Source) Channels() int   { return s.channels }
func (s *Source) Close() error    { return nil }
func (s *Source) BufSize() int {
	if s.intBuf != nil {
		return cap(s.intBuf.Data)
	}
	return 4096
}

func (s *Source) ReadSamples(dst []float32) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}

	if s.intBuf == nil || cap(s.intBuf.Data) < len(dst) {
		s.intBuf = &goaudio.IntBuffer{
			Data:   make([]int, len(dst)),
			Format: s.dec.Format(),
		}
	} else {
		s.intBuf.Data = s.intBuf.Data[:len(dst)]
	}

	n, err := s.dec.PCMBuffer(s.intBuf)
	if n == 0 {
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
		return 0, io.EOF
	}

	for i := range n {
		dst[i] = float32(s.intBuf.Data[i]-s.offset) / s.divisor
	}

	if n < len(dst) && err == nil {
		return n, io.EOF
	}
	return n, err
}
