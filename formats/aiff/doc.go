// SPDX-License-Identifier: EPL-2.0

// Package aiff decodes AIFF and AIFF-C files through go-audio/aiff.
//
// Integer PCM at 8, 16, 24 and 32 bits is supported; samples are scaled to
// float32 by the full-scale value of their bit depth. Inputs that are not
// io.ReadSeeker are buffered in memory first.
package aiff
