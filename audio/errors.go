// SPDX-License-Identifier: EPL-2.0

package audio

import "errors"

var (
	ErrEmptySource     = errors.New("audio source produced no frames")
	ErrInvalidRate     = errors.New("sample rate must be positive")
	ErrNoChannels      = errors.New("audio source has no channels")
	ErrChannelMismatch = errors.New("channel buffers differ in length")
)
