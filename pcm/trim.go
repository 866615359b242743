// SPDX-License-Identifier: EPL-2.0

package pcm

import "fmt"

// Trim returns samples[lead : len-trail] without copying.
func Trim(samples []float32, lead, trail int) ([]float32, error) {
	if lead < 0 || trail < 0 || lead+trail > len(samples) {
		return nil, fmt.Errorf("%w: [%d, %d] of %d", ErrInvalidTrim, lead, trail, len(samples))
	}
	return samples[lead : len(samples)-trail : len(samples)-trail], nil
}

// TrimmedLength is the frame count left after trimming length by the window.
func TrimmedLength(length, lead, trail int) int {
	return max(0, length-lead-trail)
}
