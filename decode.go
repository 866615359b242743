// SPDX-License-Identifier: EPL-2.0

package sampleprep

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ik5/sampleprep/audio"
	"github.com/ik5/sampleprep/formats/aiff"
	"github.com/ik5/sampleprep/formats/mp3"
	"github.com/ik5/sampleprep/formats/vorbis"
	"github.com/ik5/sampleprep/formats/wav"
)

// TargetSampleRate is the single rate every decoded source is converted to.
const TargetSampleRate = 31250

var ErrUnknownFormat = errors.New("unknown audio format")

// Sniffer reports whether header belongs to its format.
type Sniffer func(header []byte) bool

type sniffer struct {
	format string
	match  Sniffer
}

var (
	sniffMtx sync.RWMutex
	// mp3 last: a bare frame sync is the loosest signature
	sniffers = []sniffer{
		{format: "wav", match: wav.Sniff},
		{format: "aiff", match: aiff.Sniff},
		{format: "ogg", match: vorbis.Sniff},
		{format: "mp3", match: mp3.Sniff},
	}
)

// RegisterSniffer adds a format signature checked before the built-in ones.
func RegisterSniffer(format string, match Sniffer) {
	sniffMtx.Lock()
	defer sniffMtx.Unlock()

	sniffers = append([]sniffer{{format: format, match: match}}, sniffers...)
}

// Sniff returns the format key matching header.
func Sniff(header []byte) (string, bool) {
	sniffMtx.RLock()
	defer sniffMtx.RUnlock()

	for _, s := range sniffers {
		if s.match(header) {
			return s.format, true
		}
	}
	return "", false
}

// DefaultRegistry returns a registry holding the built-in decoders.
func DefaultRegistry() *audio.Registry {
	r := audio.NewRegistry()
	r.Register("wav", wav.Decoder{})
	r.Register("aiff", aiff.Decoder{})
	r.Register("ogg", vorbis.Decoder{})
	r.Register("mp3", mp3.Decoder{})
	return r
}

// Decoder decodes complete in-memory files and resamples them.
type Decoder struct {
	registry *audio.Registry
	rate     int
}

func NewDecoder(rate int) *Decoder {
	return NewDecoderWithRegistry(DefaultRegistry(), rate)
}

func NewDecoderWithRegistry(r *audio.Registry, rate int) *Decoder {
	return &Decoder{registry: r, rate: rate}
}

// SampleRate is the rate of every buffer returned by Decode.
func (d *Decoder) SampleRate() int { return d.rate }

// Decode sniffs the format of data, decodes it fully and converts every
// channel to the decoder's rate.
func (d *Decoder) Decode(ctx context.Context, data []byte) (*audio.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	format, ok := Sniff(data)
	if !ok {
		return nil, ErrUnknownFormat
	}

	codec, ok := d.registry.Get(format)
	if !ok {
		return nil, fmt.Errorf("%w: no decoder for %s", ErrUnknownFormat, format)
	}

	src, err := codec.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", format, err)
	}
	defer src.Close()

	buf, err := audio.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", format, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return audio.Resample(buf, d.rate)
}
