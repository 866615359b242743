// SPDX-License-Identifier: EPL-2.0

// Package pipeline renders a sample's metadata into the mono 16-bit WAV
// that gets transferred to the device.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ik5/sampleprep/audio"
	"github.com/ik5/sampleprep/internal/logger"
	"github.com/ik5/sampleprep/internal/metrics"
	"github.com/ik5/sampleprep/internal/sample"
	"github.com/ik5/sampleprep/internal/sourcestore"
	"github.com/ik5/sampleprep/pcm"
)

// NoFailedPlugin is FailedPluginIndex when every plugin ran.
const NoFailedPlugin = -1

type Sources interface {
	Get(ctx context.Context, id string) ([]byte, error)
}

type Decoder interface {
	Decode(ctx context.Context, data []byte) (*audio.Buffer, error)
	SampleRate() int
}

// Transformer runs one plugin over a mono buffer.
type Transformer interface {
	Transform(ctx context.Context, name string, samples []float32, sampleRate int, params map[string]float64) ([]float32, error)
}

// DerivedInfo is what the UI needs about a rendered sample besides its
// audio.
type DerivedInfo struct {
	WaveformPeaks     pcm.PeakData `json:"waveformPeaks"`
	Duration          float64      `json:"duration"`
	FailedPluginIndex int          `json:"failedPluginIndex"`
}

type Result struct {
	WAV  []byte
	Info DerivedInfo
}

type Pipeline struct {
	sources Sources
	decoder Decoder
	plugins Transformer
	log     logger.Logger
	metrics *metrics.Metrics
}

func New(sources Sources, decoder Decoder, plugins Transformer, log logger.Logger, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		sources: sources,
		decoder: decoder,
		plugins: plugins,
		log:     log.Module("pipeline"),
		metrics: m,
	}
}

type renderOptions struct {
	skipPlugins bool
}

type Option func(*renderOptions)

// WithoutPlugins renders as if every plugin were bypassed.
func WithoutPlugins() Option {
	return func(o *renderOptions) { o.skipPlugins = true }
}

// Render produces the transfer WAV for m: decode, clamp user audio, mix the
// trim window to mono, run the plugin chain, scale, reduce bit depth, and
// encode. Peaks and duration describe the mono mix before plugins.
func (p *Pipeline) Render(ctx context.Context, m sample.Metadata, opts ...Option) (*Result, error) {
	var o renderOptions
	for _, opt := range opts {
		opt(&o)
	}

	start := time.Now()
	res, err := p.render(ctx, m, o)
	switch {
	case err == nil && o.skipPlugins:
		p.metrics.RecordRender(metrics.ResultFallback, time.Since(start))
	case err == nil:
		p.metrics.RecordRender(metrics.ResultOK, time.Since(start))
	case errors.Is(err, context.Canceled):
		p.metrics.RecordRender(metrics.ResultCancelled, time.Since(start))
	default:
		p.metrics.RecordRender(metrics.ResultError, time.Since(start))
	}
	return res, err
}

func (p *Pipeline) render(ctx context.Context, m sample.Metadata, o renderOptions) (*Result, error) {
	if err := pcm.ValidateBitDepth(m.QualityBitDepth); err != nil {
		return nil, err
	}

	mono, rate, err := p.mono(ctx, m)
	if err != nil {
		return nil, err
	}

	info := DerivedInfo{
		WaveformPeaks:     pcm.Peaks(mono, pcm.WaveformCachedWidth),
		Duration:          duration(len(mono), m.PitchAdjustment, rate),
		FailedPluginIndex: NoFailedPlugin,
	}

	working := mono
	if !o.skipPlugins {
		for i, entry := range m.Plugins {
			if entry.IsBypassed {
				continue
			}
			out, err := p.plugins.Transform(ctx, entry.PluginName, working, rate, entry.PluginParams)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				p.log.Warn("plugin chain stopped",
					logger.Int("index", i), logger.String("plugin", entry.PluginName), logger.Error(err))
				return nil, &PluginRunError{Index: i, Plugin: entry.PluginName, Err: err}
			}
			working = out
		}
	}

	pcm.Scale(working, m.ScaleCoefficient)
	if err := pcm.Quantize(working, m.QualityBitDepth); err != nil {
		return nil, err
	}

	wav, err := pcm.Mono16Wav(working, rate)
	if err != nil {
		return nil, err
	}
	return &Result{WAV: wav, Info: info}, nil
}

// SourceInfo computes peaks and duration straight from the source without
// touching plugins or encoding anything.
func (p *Pipeline) SourceInfo(ctx context.Context, m sample.Metadata) (DerivedInfo, error) {
	mono, rate, err := p.mono(ctx, m)
	if err != nil {
		return DerivedInfo{}, err
	}
	return DerivedInfo{
		WaveformPeaks:     pcm.Peaks(mono, pcm.WaveformCachedWidth),
		Duration:          duration(len(mono), m.PitchAdjustment, rate),
		FailedPluginIndex: NoFailedPlugin,
	}, nil
}

// Peaks computes waveform peaks for a source and trim window. It satisfies
// sample.PeaksFunc.
func (p *Pipeline) Peaks(ctx context.Context, sourceFileID string, frames [2]int) (pcm.PeakData, error) {
	m := sample.Defaults("", sourceFileID, 0)
	m.Trim.Frames = frames
	info, err := p.SourceInfo(ctx, m)
	if err != nil {
		return pcm.PeakData{}, err
	}
	return info.WaveformPeaks, nil
}

// Decode returns the source at the pipeline's rate, clamped when the
// source is user provided.
func (p *Pipeline) Decode(ctx context.Context, sourceFileID string) (*audio.Buffer, error) {
	data, err := p.sources.Get(ctx, sourceFileID)
	if err != nil {
		return nil, err
	}
	buf, err := p.decoder.Decode(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("decoding source %s: %w", sourceFileID, err)
	}

	// factory sources are trusted to stay in range
	if !sourcestore.IsExternal(sourceFileID) {
		for _, ch := range buf.Channels {
			pcm.ClampOutOfBounds(ch)
		}
	}
	return buf, nil
}

func (p *Pipeline) mono(ctx context.Context, m sample.Metadata) ([]float32, int, error) {
	buf, err := p.Decode(ctx, m.SourceFileID)
	if err != nil {
		return nil, 0, err
	}
	mono, err := pcm.Downmix(buf.Channels, m.Trim.Frames[0], m.Trim.Frames[1])
	if err != nil {
		return nil, 0, err
	}
	return mono, buf.SampleRate, nil
}

func duration(frames int, pitch float64, rate int) float64 {
	if pitch <= 0 {
		pitch = 1
	}
	if rate <= 0 {
		return 0
	}
	return (float64(frames) / pitch) / float64(rate)
}
