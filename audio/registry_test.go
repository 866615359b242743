// SPDX-License-Identifier: EPL-2.0

package audio

import (
	"io"
	"testing"

	"github.com/ik5/sampleprep/internal/audiotest"
	"github.com/stretchr/testify/assert"
)

type stubDecoder struct{ rate int }

func (d stubDecoder) Decode(io.Reader) (Source, error) {
	return audiotest.NewMockSource(d.rate, 1, 10, audiotest.Constant(0)), nil
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register("wav", stubDecoder{rate: 8000})
	r.Register("mp3", stubDecoder{rate: 44100})
	r.Register("wav", stubDecoder{rate: 16000})

	assert.Equal(t, []string{"wav", "mp3"}, r.Formats())

	d, ok := r.Get("wav")
	assert.True(t, ok)
	assert.Equal(t, stubDecoder{rate: 16000}, d)

	_, ok = r.Get("flac")
	assert.False(t, ok)
}
