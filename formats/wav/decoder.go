// SPDX-License-Identifier: EPL-2.0

package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/riff"
	gowav "github.com/go-audio/wav"
	"github.com/ik5/sampleprep/audio"
	"github.com/ik5/sampleprep/formats/internal/intsource"
)

const (
	formatPCM        = 1
	formatIEEEFloat  = 3
	formatExtensible = 0xFFFE
)

type Decoder struct{}

// Decode parses the RIFF header and returns a source over the data chunk.
// Integer PCM and 32 or 64 bit IEEE float are accepted, plain or wrapped
// in WAVE_FORMAT_EXTENSIBLE. go-audio needs to seek, so readers that cannot
// are buffered in memory.
func (Decoder) Decode(r io.Reader) (audio.Source, error) {
	rs, ok := r.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("reading wav data: %w", err)
		}
		rs = bytes.NewReader(data)
	}

	tag, err := sampleFormat(rs)
	if err != nil {
		if errors.Is(err, ErrUnsupportedWavLayout) {
			return nil, err
		}
		return nil, ErrNotWavFile
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewinding wav data: %w", err)
	}

	dec := gowav.NewDecoder(rs)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return nil, ErrNotWavFile
	}

	if tag != formatPCM && tag != formatIEEEFloat {
		return nil, fmt.Errorf("%w: format tag %d", ErrUnsupportedSampleFormat, tag)
	}

	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedWavLayout, err)
	}

	if tag == formatIEEEFloat {
		return newFloatSource(io.LimitReader(dec.PCMChunk, int64(dec.PCMSize)),
			int(dec.SampleRate), int(dec.NumChans), int(dec.BitDepth))
	}

	src, err := intsource.New(dec, int(dec.SampleRate), int(dec.NumChans), int(dec.BitDepth), true)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedSampleFormat, err)
	}
	return src, nil
}

// sampleFormat walks to the fmt chunk and returns its format tag, looking
// through WAVE_FORMAT_EXTENSIBLE to the sub-format.
func sampleFormat(r io.Reader) (uint16, error) {
	p := riff.New(r)
	if err := p.ParseHeaders(); err != nil {
		return 0, err
	}
	if p.Format != riff.WavFormatID {
		return 0, riff.ErrFmtNotSupported
	}

	for {
		ch, err := p.NextChunk()
		if err != nil {
			return 0, err
		}
		if ch.ID != riff.FmtID {
			ch.Drain()
			continue
		}

		var tag uint16
		if err := ch.ReadLE(&tag); err != nil {
			return 0, err
		}
		if tag != formatExtensible {
			return tag, nil
		}

		// channels, rate, byte rate, block align, bits, cbSize, valid bits,
		// channel mask; the sub-format GUID starts with the real tag
		var ext struct {
			_         [20]byte
			SubFormat uint16
		}
		if ch.Size < 2+binary.Size(ext) {
			return 0, fmt.Errorf("%w: short extensible fmt chunk", ErrUnsupportedWavLayout)
		}
		if err := ch.ReadLE(&ext); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrUnsupportedWavLayout, err)
		}
		return ext.SubFormat, nil
	}
}

// floatSource reads little-endian IEEE float samples.
type floatSource struct {
	r          io.Reader
	sampleRate int
	channels   int
	width      int
	buf        []byte
}

func newFloatSource(r io.Reader, sampleRate, channels, bitDepth int) (*floatSource, error) {
	if bitDepth != 32 && bitDepth != 64 {
		return nil, fmt.Errorf("%w: %d bit float", ErrUnsupportedSampleFormat, bitDepth)
	}
	return &floatSource{r: r, sampleRate: sampleRate, channels: channels, width: bitDepth / 8}, nil
}

func (s *floatSource) SampleRate() int { return s.sampleRate }
func (s *floatSource) Channels() int   { return s.channels }
func (s *floatSource) Close() error    { return nil }
func (s *floatSource) BufSize() int    { return 4096 }

func (s *floatSource) ReadSamples(dst []float32) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}

	need := len(dst) * s.width
	if cap(s.buf) < need {
		s.buf = make([]byte, need)
	}
	buf := s.buf[:need]

	m, err := io.ReadFull(s.r, buf)
	n := m / s.width
	for i := range n {
		b := buf[i*s.width:]
		if s.width == 4 {
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(b))
		} else {
			dst[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(b)))
		}
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return n, io.EOF
	}
	return n, err
}
