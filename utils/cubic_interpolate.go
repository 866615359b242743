// SPDX-License-Identifier: EPL-2.0

package utils

// CatmullRom evaluates the Catmull-Rom spline through p1 and p2 at fractional
// position t in [0, 1], with p0 and p3 as the outer control points.
// The polynomial is evaluated in float64 to keep rounding error below the
// resolution of 16-bit output.
func CatmullRom(p0, p1, p2, p3 float32, t float64) float32 {
	a, b, c, d := float64(p0), float64(p1), float64(p2), float64(p3)

	c3 := 0.5 * (-a + 3*b - 3*c + d)
	c2 := 0.5 * (2*a - 5*b + 4*c - d)
	c1 := 0.5 * (c - a)

	return float32(((c3*t+c2)*t+c1)*t + b)
}
