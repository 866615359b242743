// SPDX-License-Identifier: EPL-2.0

package pcm

const (
	// GroupPixelWidth is the on-screen width of one peak bar.
	GroupPixelWidth = 6
	// WaveformCachedWidth is the container width stored peaks are computed for.
	WaveformCachedWidth = GroupPixelWidth * 44
)

// PeakData is a per-group envelope of a mono buffer.
type PeakData struct {
	Positive []float32 `json:"positive"`
	Negative []float32 `json:"negative"`
}

// Empty reports whether no peaks were computed.
func (p PeakData) Empty() bool { return len(p.Positive) == 0 }

// Peaks splits samples into groups sized for containerWidth pixels and
// records the max and min of each, clamped to [-1, 1]. A trailing partial
// group is dropped.
func Peaks(samples []float32, containerWidth int) PeakData {
	if len(samples) == 0 || containerWidth <= 0 {
		return PeakData{Positive: []float32{}, Negative: []float32{}}
	}

	groupSize := max(1, GroupPixelWidth*len(samples)/containerWidth)
	groups := len(samples) / groupSize

	p := PeakData{
		Positive: make([]float32, groups),
		Negative: make([]float32, groups),
	}

	for g := range groups {
		var hi, lo float32
		for _, s := range samples[g*groupSize : (g+1)*groupSize] {
			if s > hi {
				hi = s
			}
			if s < lo {
				lo = s
			}
		}
		p.Positive[g] = min(1, hi)
		p.Negative[g] = max(-1, lo)
	}

	return p
}
