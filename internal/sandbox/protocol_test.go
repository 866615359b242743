// SPDX-License-Identifier: EPL-2.0

package sandbox

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSamplesCodec(t *testing.T) {
	t.Parallel()

	in := []float32{0, 1, -1, 0.25, float32(math.Inf(1)), 1e-20}
	out, err := DecodeSamples(EncodeSamples(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	empty, err := DecodeSamples(EncodeSamples(nil))
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = DecodeSamples("AAA=")
	assert.Error(t, err)
	_, err = DecodeSamples("not base64!")
	assert.Error(t, err)
}

func TestMessageWireShape(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(Message{
		MessageType: TypeTransform,
		MessageID:   "m1",
		AudioData:   EncodeSamples([]float32{0.5}),
		SampleRate:  31250,
		Params:      map[string]float64{"gain": 2},
	})
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "sampleTransform", doc["messageType"])
	assert.Equal(t, "m1", doc["messageId"])
	assert.InDelta(t, 31250, doc["sampleRate"], 0)
	assert.NotContains(t, doc, "error")
	assert.NotContains(t, doc, "pluginSource")
}

func TestRunTimeout(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	tests := []struct {
		name    string
		samples int
		rate    int
		want    time.Duration
	}{
		{"floor", 100, 31250, time.Second},
		{"one second", 31250, 31250, 5 * time.Second},
		{"ten seconds", 312500, 31250, 50 * time.Second},
		{"bad rate", 100, 0, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.runTimeout(tt.samples, tt.rate))
		})
	}
}

func TestTailBuffer(t *testing.T) {
	t.Parallel()

	b := &tailBuffer{limit: 4}
	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write([]byte("defg"))
	assert.Equal(t, "defg", b.String())
}
