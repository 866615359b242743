// SPDX-License-Identifier: EPL-2.0

package transfer

import "context"

// SampleData is one rendered sample plus the device parameters the encoder
// needs for it.
type SampleData struct {
	WAV             []byte `json:"wav"`
	SlotNumber      int    `json:"slotNumber"`
	QualityBitDepth int    `json:"qualityBitDepth"`
	UseCompression  bool   `json:"useCompression"`
}

// Result is a transfer-ready audio stream. DataStartPoints holds the byte
// offset at which each sample's data begins, in input order.
type Result struct {
	Buffer          []byte
	DataStartPoints []int
}

// Encoder produces the device stream. Its algorithm is opaque to this
// package.
type Encoder interface {
	Start(ctx context.Context, samples []SampleData) (Work, error)
	DeleteBuffer(ctx context.Context, slots []int) (Result, error)
}

// Work is an encode in progress.
type Work interface {
	// Progress is the completed fraction in [0, 1].
	Progress() float64
	// Cancel asks the encoder to stop. Done still closes afterwards.
	Cancel()
	Done() <-chan struct{}
	// Result is valid once Done is closed.
	Result() (Result, error)
}
