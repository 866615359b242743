// SPDX-License-Identifier: EPL-2.0

package audiotest

import (
	"bytes"
	"encoding/binary"
	"math"
)

// WAV16 builds a canonical 44-byte-header PCM WAV file from planar channels.
// Values are scaled by 32767 and clamped.
func WAV16(rate int, channels [][]float32) []byte {
	numCh := len(channels)
	frames := 0
	if numCh > 0 {
		frames = len(channels[0])
	}
	dataSize := frames * numCh * 2

	buf := new(bytes.Buffer)
	buf.Grow(44 + dataSize)

	put32 := func(v uint32) { _ = binary.Write(buf, binary.LittleEndian, v) }
	put16 := func(v uint16) { _ = binary.Write(buf, binary.LittleEndian, v) }

	buf.WriteString("RIFF")
	put32(uint32(36 + dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	put32(16)
	put16(1)
	put16(uint16(numCh))
	put32(uint32(rate))
	put32(uint32(rate * numCh * 2))
	put16(uint16(numCh * 2))
	put16(16)
	buf.WriteString("data")
	put32(uint32(dataSize))

	for f := range frames {
		for c := range numCh {
			v := math.Round(float64(channels[c][f]) * 32767)
			v = math.Max(math.MinInt16, math.Min(math.MaxInt16, v))
			put16(uint16(int16(v)))
		}
	}

	return buf.Bytes()
}

// ConstantWAV16 builds a WAV with every sample set to v.
func ConstantWAV16(rate, channels, frames int, v float32) []byte {
	return WAV16(rate, Planar(channels, frames, Constant(v)))
}
