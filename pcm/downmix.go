// SPDX-License-Identifier: EPL-2.0

package pcm

// Downmix averages all channels over the trim window into one mono slice.
// A single channel is returned as a trimmed view of channel 0, not a copy.
func Downmix(channels [][]float32, lead, trail int) ([]float32, error) {
	if len(channels) == 0 {
		return nil, ErrNoChannels
	}

	views := make([][]float32, len(channels))
	for c, ch := range channels {
		v, err := Trim(ch, lead, trail)
		if err != nil {
			return nil, err
		}
		views[c] = v
	}

	if len(views) == 1 {
		return views[0], nil
	}

	n := len(views[0])
	for _, v := range views[1:] {
		n = min(n, len(v))
	}
	out := make([]float32, n)

	// Fast path for stereo (most common case)
	if len(views) == 2 {
		l, r := views[0][:n], views[1][:n]
		for i := range out {
			out[i] = (l[i] + r[i]) * 0.5
		}
		return out, nil
	}

	inv := 1 / float32(len(views))
	for i := range out {
		var sum float32
		for _, v := range views {
			sum += v[i]
		}
		out[i] = sum * inv
	}
	return out, nil
}
