// SPDX-License-Identifier: EPL-2.0

package pcm

import "errors"

var (
	ErrInvalidBitDepth = errors.New("bit depth must be an integer between 8 and 16")
	ErrInvalidTrim     = errors.New("trim window exceeds buffer length")
	ErrNoChannels      = errors.New("no channels to mix")
)
