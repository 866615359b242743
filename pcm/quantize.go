// SPDX-License-Identifier: EPL-2.0

package pcm

import (
	"fmt"
	"math"
)

const (
	MinBitDepth = 8
	MaxBitDepth = 16
)

// ValidateBitDepth rejects depths outside [MinBitDepth, MaxBitDepth].
func ValidateBitDepth(bitDepth int) error {
	if bitDepth < MinBitDepth || bitDepth > MaxBitDepth {
		return fmt.Errorf("%w: got %d", ErrInvalidBitDepth, bitDepth)
	}
	return nil
}

// Quantize rounds every sample to the nearest multiple of 1/2^(bitDepth-1)
// in place. 16 bits leaves the samples untouched.
func Quantize(samples []float32, bitDepth int) error {
	if err := ValidateBitDepth(bitDepth); err != nil {
		return err
	}
	if bitDepth == MaxBitDepth {
		return nil
	}

	signedMax := float64(int(1) << (bitDepth - 1))
	for i, s := range samples {
		samples[i] = float32(math.Round(float64(s)*signedMax) / signedMax)
	}
	return nil
}
