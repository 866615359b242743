// SPDX-License-Identifier: EPL-2.0

// Package pcm holds the pure numeric transforms applied to decoded sample
// buffers before they are handed to the hardware encoder.
//
// Nothing here does I/O. Functions documented as in-place mutate their
// argument; Trim and the single-channel path of Downmix return views that
// share memory with their input.
//
// Typical order, as used by the render pipeline:
//
//	mono, _ := pcm.Downmix(buf.Channels, lead, trail)
//	peaks := pcm.Peaks(mono, pcm.WaveformCachedWidth)
//	pcm.Scale(mono, coef)
//	_ = pcm.Quantize(mono, bitDepth)
//	out, _ := pcm.WrapAsWav(pcm.Int16Bytes(pcm.To16Bit(mono)), 31250, 16, 1)
//
// Quality bit depth changes how long a transfer takes; it does not reduce
// how much sampler memory a sample occupies.
package pcm
