// SPDX-License-Identifier: EPL-2.0

package pcm

// FindPeak returns the largest absolute sample value, 0 for no samples.
func FindPeak(samples []float32) float32 {
	var peak float32
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}

// Scale multiplies every sample by coef in place. coef == 1 is a no-op.
func Scale(samples []float32, coef float64) {
	if coef == 1 {
		return
	}
	c := float32(coef)
	for i := range samples {
		samples[i] *= c
	}
}

// ClampOutOfBounds limits every sample to [-1, 1] in place.
func ClampOutOfBounds(samples []float32) {
	for i, s := range samples {
		if s > 1 {
			samples[i] = 1
		} else if s < -1 {
			samples[i] = -1
		}
	}
}

// MaxScaleCoefficient is the largest coefficient that keeps peak at or below
// 1.0. A silent buffer yields 1.
func MaxScaleCoefficient(peak float32) float64 {
	if peak <= 0 {
		return 1
	}
	return 1 / float64(peak)
}

// ClampScaleCoefficient limits coef so the scaled peak does not exceed 1.0.
func ClampScaleCoefficient(coef float64, peak float32) float64 {
	return min(coef, MaxScaleCoefficient(peak))
}
