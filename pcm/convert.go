// SPDX-License-Identifier: EPL-2.0

package pcm

import (
	"encoding/binary"

	"github.com/ik5/sampleprep/utils"
)

// To16Bit converts float samples to int16, mapping 1.0 to 32767 and
// -1.0 to -32768.
func To16Bit(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = utils.Float32ToInt16(s)
	}
	return out
}

// Int16Bytes encodes samples as little-endian bytes.
func Int16Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
