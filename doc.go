// SPDX-License-Identifier: EPL-2.0

// Package sampleprep is the audio decode facility of the sample preparation
// pipeline.
//
// It turns arbitrary user supplied audio bytes into planar float32 channels
// at one canonical sample rate, TargetSampleRate, so every transform
// downstream works on the same timebase.
//
// # Supported Formats
//
//   - WAV (integer PCM 8/16/24/32-bit) via formats/wav
//   - AIFF / AIFF-C via formats/aiff
//   - Ogg Vorbis via formats/vorbis
//   - MP3 via formats/mp3
//
// The format is detected from the first bytes of the input; file names and
// extensions are never consulted.
//
// # Quick Start
//
//	dec := sampleprep.NewDecoder(sampleprep.TargetSampleRate)
//	buf, err := dec.Decode(ctx, data)
//	if errors.Is(err, sampleprep.ErrUnknownFormat) {
//	    // reject the upload
//	}
//	// buf.Channels[c][i], buf.SampleRate == 31250
//
// # Custom Registries
//
// NewDecoderWithRegistry accepts any audio.Registry. A format key is only
// used when a sniffer for that key matches, so registering an extra decoder
// also requires RegisterSniffer.
package sampleprep
