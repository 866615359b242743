// SPDX-License-Identifier: EPL-2.0

// Package mp3 decodes MPEG-1/2 Layer III audio through hajimehoshi/go-mp3.
//
// go-mp3 always yields 16-bit stereo, so mono files come out with both
// channels equal. Downstream downmixing averages them back to the original.
package mp3
