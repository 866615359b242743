// SPDX-License-Identifier: EPL-2.0

// Package samplecache keeps data derived from samples: peaks, duration and
// plugin failure state for every sample, persisted, plus rendered preview
// audio for the few most recently used ones, in memory.
package samplecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ik5/sampleprep/audio"
	"github.com/ik5/sampleprep/internal/logger"
	"github.com/ik5/sampleprep/internal/metrics"
	"github.com/ik5/sampleprep/internal/pipeline"
	"github.com/ik5/sampleprep/internal/sample"
	"github.com/ik5/sampleprep/internal/storage"
	"github.com/ik5/sampleprep/internal/tabsync"
)

// DefaultMaxPreviews bounds the in-memory preview tier.
const DefaultMaxPreviews = 10

const (
	tierLight = "light"
	tierHeavy = "heavy"
)

type Renderer interface {
	Render(ctx context.Context, m sample.Metadata, opts ...pipeline.Option) (*pipeline.Result, error)
	SourceInfo(ctx context.Context, m sample.Metadata) (pipeline.DerivedInfo, error)
}

// WAVDecoder turns rendered preview bytes back into samples.
type WAVDecoder interface {
	Decode(ctx context.Context, data []byte) (*audio.Buffer, error)
}

// Entry pairs a sample version with the info derived from it. An Entry is
// never modified; a new sample version yields a new Entry.
type Entry struct {
	Container *sample.Container
	Info      pipeline.DerivedInfo
}

// Preview is rendered audio ready to play or transfer.
type Preview struct {
	WAV    []byte
	Buffer *audio.Buffer
}

type preview struct {
	container *sample.Container
	wav       []byte
	buf       *audio.Buffer
}

type Cache struct {
	coll     storage.Collection
	renderer Renderer
	decoder  WAVDecoder
	bus      tabsync.Bus
	log      logger.Logger
	metrics  *metrics.Metrics

	previews *lru.Cache[string, preview]
}

func New(coll storage.Collection, r Renderer, dec WAVDecoder, bus tabsync.Bus, maxPreviews int, log logger.Logger, m *metrics.Metrics) *Cache {
	if maxPreviews <= 0 {
		maxPreviews = DefaultMaxPreviews
	}
	c := &Cache{
		coll:     coll,
		renderer: r,
		decoder:  dec,
		bus:      bus,
		log:      log.Module("samplecache"),
		metrics:  m,
	}
	// size is positive, the only error NewWithEvict reports
	c.previews, _ = lru.NewWithEvict(maxPreviews, func(id string, _ preview) {
		c.log.Debug("preview dropped", logger.String("id", id))
	})
	return c
}

func (c *Cache) keepPreview(id string, p preview) {
	if c.previews.Add(id, p) {
		c.metrics.RecordEviction("preview")
	}
}

func valid(info pipeline.DerivedInfo) bool {
	return !info.WaveformPeaks.Empty() && len(info.WaveformPeaks.Negative) == len(info.WaveformPeaks.Positive) && info.Duration > 0
}

// Info reads the persisted entry for id. ok is false when there is none or
// it is unusable.
func (c *Cache) Info(ctx context.Context, id string) (pipeline.DerivedInfo, bool, error) {
	data, err := c.coll.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		c.metrics.RecordCacheRequest(tierLight, metrics.ResultMiss)
		return pipeline.DerivedInfo{}, false, nil
	}
	if err != nil {
		return pipeline.DerivedInfo{}, false, err
	}

	info, err := decodeInfo(data)
	if err != nil {
		c.log.Warn("ignoring unreadable cache entry", logger.String("id", id), logger.Error(err))
	}
	if err != nil || !valid(info) {
		c.metrics.RecordCacheRequest(tierLight, metrics.ResultMiss)
		return pipeline.DerivedInfo{}, false, nil
	}
	c.metrics.RecordCacheRequest(tierLight, metrics.ResultHit)
	return info, true, nil
}

// Load returns the persisted entry for s, if any.
func (c *Cache) Load(ctx context.Context, s *sample.Container) (*Entry, bool, error) {
	info, ok, err := c.Info(ctx, s.ID())
	if err != nil || !ok {
		return nil, false, err
	}
	return &Entry{Container: s, Info: info}, true, nil
}

// Get returns the persisted entry for s, computing it when absent.
func (c *Cache) Get(ctx context.Context, s *sample.Container) (*Entry, error) {
	e, ok, err := c.Load(ctx, s)
	if err != nil {
		return nil, err
	}
	if ok {
		return e, nil
	}
	return c.ImportFresh(ctx, s)
}

// Update recomputes the entry for a new sample version. Passing the
// version old was computed from returns old unchanged. When the full render
// fails the sample is rendered again without plugins, and the failing
// plugin's index is recorded.
func (c *Cache) Update(ctx context.Context, old *Entry, s *sample.Container) (*Entry, error) {
	if old != nil && old.Container == s {
		return old, nil
	}

	action := tabsync.ActionEdit
	if old == nil {
		action = tabsync.ActionCreate
	}
	return c.render(ctx, s, action)
}

// Regenerate renders s again even though it did not change, as when a
// plugin it uses was reinstalled. A render that now gets through the whole
// chain clears the failed plugin index.
func (c *Cache) Regenerate(ctx context.Context, s *sample.Container) (*Entry, error) {
	c.previews.Remove(s.ID())
	return c.render(ctx, s, tabsync.ActionEdit)
}

func (c *Cache) render(ctx context.Context, s *sample.Container, action tabsync.Action) (*Entry, error) {
	res, err := c.renderWithFallback(ctx, s)
	if err != nil {
		return nil, err
	}
	c.keepPreview(s.ID(), preview{container: s, wav: res.WAV})

	e := &Entry{Container: s, Info: res.Info}
	if err := c.persist(ctx, e, action); err != nil {
		return nil, err
	}
	return e, nil
}

// ImportFresh computes the entry for a newly imported sample. If the
// render fails for any reason, peaks and duration come straight from the
// source so the import itself never fails on a plugin.
func (c *Cache) ImportFresh(ctx context.Context, s *sample.Container) (*Entry, error) {
	m := s.Metadata()

	var info pipeline.DerivedInfo
	res, renderErr := c.renderer.Render(ctx, m)
	if renderErr == nil {
		info = res.Info
		c.keepPreview(s.ID(), preview{container: s, wav: res.WAV})
	} else {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.Warn("render failed on import, using source info", logger.String("id", s.ID()), logger.Error(renderErr))

		var err error
		info, err = c.renderer.SourceInfo(ctx, m)
		if err != nil {
			return nil, fmt.Errorf("computing info for %s: %w", s.ID(), errors.Join(renderErr, err))
		}
		info.FailedPluginIndex = failedIndex(renderErr)
	}

	e := &Entry{Container: s, Info: info}
	if err := c.persist(ctx, e, tabsync.ActionCreate); err != nil {
		return nil, err
	}
	return e, nil
}

// Remove drops both tiers for id.
func (c *Cache) Remove(ctx context.Context, id string) error {
	c.previews.Remove(id)
	if err := c.coll.Remove(ctx, id); err != nil {
		return err
	}
	c.publish(ctx, id, tabsync.ActionDelete)
	return nil
}

// MarkFailed records that the plugin at index broke for e's sample and
// drops its preview, without rendering.
func (c *Cache) MarkFailed(ctx context.Context, e *Entry, index int) (*Entry, error) {
	c.previews.Remove(e.Container.ID())
	if e.Info.FailedPluginIndex == index {
		return e, nil
	}

	out := &Entry{Container: e.Container, Info: e.Info}
	out.Info.FailedPluginIndex = index
	if err := c.persist(ctx, out, tabsync.ActionEdit); err != nil {
		return nil, err
	}
	return out, nil
}

// Invalidate forgets the in-memory preview for id only.
func (c *Cache) Invalidate(id string) {
	c.previews.Remove(id)
}

// Preview returns playable audio for s. Rendered bytes are decoded on first
// use and both are kept for the most recently previewed samples.
func (c *Cache) Preview(ctx context.Context, s *sample.Container) (*Preview, error) {
	p, ok := c.previews.Get(s.ID())
	if !ok || p.container != s {
		c.metrics.RecordCacheRequest(tierHeavy, metrics.ResultMiss)
		res, err := c.renderWithFallback(ctx, s)
		if err != nil {
			return nil, err
		}
		p = preview{container: s, wav: res.WAV}
	} else {
		c.metrics.RecordCacheRequest(tierHeavy, metrics.ResultHit)
	}

	if p.buf == nil {
		buf, err := c.decoder.Decode(ctx, p.wav)
		if err != nil {
			return nil, fmt.Errorf("decoding preview for %s: %w", s.ID(), err)
		}
		p.buf = buf
	}
	c.keepPreview(s.ID(), p)

	return &Preview{WAV: p.wav, Buffer: p.buf}, nil
}

// PreviewIDs lists ids with in-memory previews, most recent first.
func (c *Cache) PreviewIDs() []string {
	ids := c.previews.Keys()
	slices.Reverse(ids)
	return ids
}

// All loads every usable persisted entry keyed by sample id.
func (c *Cache) All(ctx context.Context) (map[string]pipeline.DerivedInfo, error) {
	out := make(map[string]pipeline.DerivedInfo)
	err := c.coll.Iterate(ctx, func(id string, data []byte) error {
		info, err := decodeInfo(data)
		if err != nil || !valid(info) {
			c.log.Debug("skipping cache entry", logger.String("id", id))
			return nil
		}
		out[id] = info
		return nil
	})
	return out, err
}

func (c *Cache) renderWithFallback(ctx context.Context, s *sample.Container) (*pipeline.Result, error) {
	m := s.Metadata()

	res, err := c.renderer.Render(ctx, m)
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	c.log.Warn("render failed, retrying without plugins", logger.String("id", s.ID()), logger.Error(err))
	fallback, ferr := c.renderer.Render(ctx, m, pipeline.WithoutPlugins())
	if ferr != nil {
		return nil, errors.Join(err, ferr)
	}
	fallback.Info.FailedPluginIndex = failedIndex(err)
	return fallback, nil
}

func failedIndex(err error) int {
	var perr *pipeline.PluginRunError
	if errors.As(err, &perr) {
		return perr.Index
	}
	return pipeline.NoFailedPlugin
}

func decodeInfo(data []byte) (pipeline.DerivedInfo, error) {
	var info pipeline.DerivedInfo
	err := json.Unmarshal(data, &info)
	return info, err
}

func (c *Cache) persist(ctx context.Context, e *Entry, action tabsync.Action) error {
	if err := storage.SetJSON(ctx, c.coll, e.Container.ID(), e.Info); err != nil {
		return fmt.Errorf("persisting cache for %s: %w", e.Container.ID(), err)
	}
	c.publish(ctx, e.Container.ID(), action)
	return nil
}

func (c *Cache) publish(ctx context.Context, id string, action tabsync.Action) {
	if c.bus == nil {
		return
	}
	if err := c.bus.Publish(ctx, tabsync.DataCache, []string{id}, action); err != nil {
		c.log.Warn("broadcasting cache change", logger.String("id", id), logger.Error(err))
	}
}
