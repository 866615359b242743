// SPDX-License-Identifier: EPL-2.0

// Package wav decodes RIFF/WAVE files and writes the canonical PCM header
// used for rendered previews.
//
// # Decoding
//
// Integer PCM at 8, 16, 24 and 32 bits and IEEE float at 32 and 64 bits
// are accepted, with any chunk layout go-audio understands (LIST and fact
// chunks before data are skipped). WAVE_FORMAT_EXTENSIBLE files are decoded
// by their sub-format; other codecs fail with ErrUnsupportedSampleFormat.
// Integer samples come out as float32 in [-1.0, 1.0); float samples are
// passed through. 8-bit WAV data is unsigned and is re-centred.
//
//	src, err := wav.Decoder{}.Decode(bytes.NewReader(data))
//	if errors.Is(err, wav.ErrNotWavFile) {
//	    // try another format
//	}
//
// # Writing
//
// Header and WrapPCM produce a 44-byte header followed by the payload:
//
//	out, err := wav.WrapPCM(pcmBytes, 31250, 16, 1)
//
// WriteWAV16 streams mono int16 samples to an io.Writer in 8 KiB chunks.
package wav
