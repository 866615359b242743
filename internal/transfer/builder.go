// SPDX-License-Identifier: EPL-2.0

// Package transfer turns rendered samples into the audio stream that is
// played into the device, with progress reporting and cancellation.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ik5/sampleprep/internal/logger"
	"github.com/ik5/sampleprep/internal/metrics"
	"github.com/ik5/sampleprep/internal/pipeline"
	"github.com/ik5/sampleprep/internal/sample"
)

const (
	DefaultProgressInterval = 16 * time.Millisecond
	DefaultWorkers          = 4
)

type Renderer interface {
	Render(ctx context.Context, m sample.Metadata, opts ...pipeline.Option) (*pipeline.Result, error)
}

type Builder struct {
	renderer Renderer
	encoder  Encoder
	interval time.Duration
	workers  int
	log      logger.Logger
	metrics  *metrics.Metrics
}

func NewBuilder(r Renderer, enc Encoder, interval time.Duration, workers int, log logger.Logger, m *metrics.Metrics) *Builder {
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Builder{
		renderer: r,
		encoder:  enc,
		interval: interval,
		workers:  workers,
		log:      log.Module("transfer"),
		metrics:  m,
	}
}

// Job is a running Build.
type Job struct {
	cancel context.CancelFunc
	done   chan struct{}

	once sync.Once
	res  Result
	err  error
}

// Cancel stops the job. Renders in flight finish but are discarded; the
// encoder is told to stop.
func (j *Job) Cancel() { j.cancel() }

// Wait blocks until the job ends. A cancelled job yields an empty Result
// and context.Canceled.
func (j *Job) Wait() (Result, error) {
	<-j.done
	return j.res, j.err
}

func (j *Job) finish(res Result, err error) {
	j.once.Do(func() {
		j.res, j.err = res, err
		close(j.done)
	})
}

// Build renders every sample and encodes them into one stream. onProgress
// may be nil; it is called from the job's goroutine.
func (b *Builder) Build(ctx context.Context, samples []*sample.Container, onProgress func(float64)) *Job {
	ctx, cancel := context.WithCancel(ctx)
	j := &Job{cancel: cancel, done: make(chan struct{})}
	if onProgress == nil {
		onProgress = func(float64) {}
	}

	go func() {
		defer cancel()
		res, err := b.build(ctx, samples, onProgress)
		switch {
		case err == nil:
			b.metrics.RecordTransfer("samples", metrics.ResultOK)
			j.finish(res, nil)
		case ctx.Err() != nil:
			b.metrics.RecordTransfer("samples", metrics.ResultCancelled)
			j.finish(Result{}, context.Canceled)
		default:
			b.metrics.RecordTransfer("samples", metrics.ResultError)
			j.finish(Result{}, err)
		}
	}()
	return j
}

func (b *Builder) build(ctx context.Context, samples []*sample.Container, onProgress func(float64)) (Result, error) {
	data, err := b.renderAll(ctx, samples)
	if err != nil {
		return Result{}, err
	}
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	work, err := b.encoder.Start(ctx, data)
	if err != nil {
		return Result{}, fmt.Errorf("starting encoder: %w", err)
	}

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	onProgress(work.Progress())
	for {
		select {
		case <-ctx.Done():
			work.Cancel()
			<-work.Done()
			return Result{}, ctx.Err()
		case <-work.Done():
			res, err := work.Result()
			if err != nil {
				return Result{}, err
			}
			onProgress(1)
			return res, nil
		case <-ticker.C:
			if p := work.Progress(); p > 0 {
				onProgress(p)
			}
		}
	}
}

// renderAll renders in parallel, keeping input order. A broken plugin
// chain falls back to the plugin-free render, as previews do.
func (b *Builder) renderAll(ctx context.Context, samples []*sample.Container) ([]SampleData, error) {
	out := make([]SampleData, len(samples))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)

	for i, s := range samples {
		g.Go(func() error {
			m := s.Metadata()
			res, err := b.renderer.Render(gctx, m)
			var perr *pipeline.PluginRunError
			if errors.As(err, &perr) {
				b.log.Warn("transferring sample without plugins",
					logger.String("id", s.ID()), logger.Int("failedPlugin", perr.Index), logger.Error(err))
				res, err = b.renderer.Render(gctx, m, pipeline.WithoutPlugins())
			}
			if err != nil {
				return fmt.Errorf("rendering %s: %w", s.ID(), err)
			}

			out[i] = SampleData{
				WAV:             res.WAV,
				SlotNumber:      m.SlotNumber,
				QualityBitDepth: m.QualityBitDepth,
				UseCompression:  m.UseCompression,
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteBuffer builds the stream that erases slots on the device.
func (b *Builder) DeleteBuffer(ctx context.Context, slots []int) (Result, error) {
	for _, s := range slots {
		if s < sample.MinSlot || s > sample.MaxSlot {
			return Result{}, fmt.Errorf("slot %d outside [%d, %d]", s, sample.MinSlot, sample.MaxSlot)
		}
	}

	res, err := b.encoder.DeleteBuffer(ctx, slots)
	if err != nil {
		b.metrics.RecordTransfer("delete", metrics.ResultError)
		return Result{}, err
	}
	b.metrics.RecordTransfer("delete", metrics.ResultOK)
	return res, nil
}
