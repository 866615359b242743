// SPDX-License-Identifier: EPL-2.0

package utils

import "math"

// Float32ToInt16 converts a float sample to signed 16-bit PCM using
// round(x * 32768). The result saturates at the int16 bounds, so exactly
// 1.0 maps to 32767 and -1.0 maps to -32768.
func Float32ToInt16(x float32) int16 {
	v := math.Round(float64(x) * 32768.0)
	if v >= math.MaxInt16 {
		return math.MaxInt16
	}
	if v <= math.MinInt16 {
		return math.MinInt16
	}

	return int16(v)
}

// Int16ToFloat32 is the inverse scaling used by the decoders.
func Int16ToFloat32(v int16) float32 {
	return float32(v) / 32768.0
}
