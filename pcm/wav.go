// SPDX-License-Identifier: EPL-2.0

package pcm

import "github.com/ik5/sampleprep/formats/wav"

// WrapAsWav prepends a canonical WAV header sized for pcm.
func WrapAsWav(pcm []byte, sampleRate, bitDepth, channels int) ([]byte, error) {
	return wav.WrapPCM(pcm, sampleRate, bitDepth, channels)
}

// Mono16Wav is the common case: mono 16-bit at sampleRate.
func Mono16Wav(samples []float32, sampleRate int) ([]byte, error) {
	return WrapAsWav(Int16Bytes(To16Bit(samples)), sampleRate, 16, 1)
}
