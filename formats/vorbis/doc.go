// SPDX-License-Identifier: EPL-2.0

// Package vorbis decodes Ogg Vorbis streams through jfreymuth/oggvorbis.
// Samples are already float32, so reads decode directly into the caller's
// buffer.
package vorbis
