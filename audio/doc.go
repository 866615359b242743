// SPDX-License-Identifier: EPL-2.0

// Package audio provides the low-level audio primitives the sample
// preparation pipeline is built on.
//
//   - Source: a streaming, interleaved float32 reader produced by a decoder
//   - Decoder and Registry: format decoders looked up by key
//   - Buffer: a fully decoded, planar block of audio
//   - ReadAll: drains a Source into a Buffer
//   - Resample: whole-buffer sample rate conversion
//
// # Decoding to a Buffer
//
//	src, err := wav.Decoder{}.Decode(r)
//	if err != nil {
//	    return err
//	}
//	defer src.Close()
//
//	buf, err := audio.ReadAll(src)
//	if err != nil {
//	    return err
//	}
//
// # Resampling
//
// Every transform downstream of decoding works on one canonical rate, so
// decoded buffers are converted once:
//
//	buf, err = audio.Resample(buf, 31250)
//
// Resample uses Catmull-Rom interpolation and, when downsampling, a one-pole
// low-pass on each channel first. The output holds
// floor(len * dstRate / srcRate) frames.
package audio
