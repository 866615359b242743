// SPDX-License-Identifier: EPL-2.0

// Package library keeps the working set of samples and their derived info
// current across local edits, changes made by other tabs and plugin
// failures.
package library

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/ik5/sampleprep/internal/logger"
	"github.com/ik5/sampleprep/internal/pipeline"
	"github.com/ik5/sampleprep/internal/sample"
	"github.com/ik5/sampleprep/internal/samplecache"
	"github.com/ik5/sampleprep/internal/sandbox"
	"github.com/ik5/sampleprep/internal/sourcestore"
	"github.com/ik5/sampleprep/internal/tabsync"
)

type Sources interface {
	Get(ctx context.Context, id string) ([]byte, error)
	Set(ctx context.Context, data []byte) (string, error)
	Put(ctx context.Context, id string, data []byte) error
	Exists(ctx context.Context, id string) (bool, error)
	Remove(ctx context.Context, id string) error
}

// PluginEvents reports fatal plugin failures and plugins coming (back) up.
type PluginEvents interface {
	OnError(fn sandbox.ErrorFunc) func()
	OnInstall(fn sandbox.InstallFunc) func()
}

type Library struct {
	samples *sample.Store
	sources Sources
	cache   *samplecache.Cache
	bus     tabsync.Bus
	log     logger.Logger

	// ctx scopes work started by tab events and plugin failures.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	entries map[string]*samplecache.Entry
	unsub   []func()
}

// New creates a library. bus and plugins may be nil.
func New(samples *sample.Store, sources Sources, cache *samplecache.Cache, bus tabsync.Bus, plugins PluginEvents, log logger.Logger) *Library {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Library{
		samples: samples,
		sources: sources,
		cache:   cache,
		bus:     bus,
		log:     log.Module("library"),
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*samplecache.Entry),
	}

	if plugins != nil {
		l.unsub = append(l.unsub,
			plugins.OnError(l.onPluginError),
			plugins.OnInstall(l.onPluginInstalled),
		)
	}
	if bus != nil {
		l.unsub = append(l.unsub,
			bus.Subscribe(tabsync.DataSample, l.onSampleEvent),
			bus.Subscribe(tabsync.DataCache, l.onCacheEvent),
		)
	}
	return l
}

// Load reads every stored sample and its derived info, computing info that
// is missing.
func (l *Library) Load(ctx context.Context) error {
	all, err := l.samples.All(ctx)
	if err != nil {
		return fmt.Errorf("loading samples: %w", err)
	}

	entries := make(map[string]*samplecache.Entry, len(all))
	for _, c := range all {
		e, err := l.cache.Get(ctx, c)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.log.Warn("no derived info for sample", logger.String("id", c.ID()), logger.Error(err))
			e = bare(c)
		}
		entries[c.ID()] = e
	}

	l.mu.Lock()
	l.entries = entries
	l.mu.Unlock()

	l.log.Info("samples loaded", logger.Int("count", len(entries)))

	// flags left over from a plugin that has been installed since
	var flagged []string
	for id, e := range entries {
		if e.Info.FailedPluginIndex != pipeline.NoFailedPlugin {
			flagged = append(flagged, id)
		}
	}
	if err := l.Regenerate(ctx, flagged...); err != nil {
		l.log.Warn("re-rendering flagged samples", logger.Error(err))
	}
	return nil
}

func (l *Library) Close() {
	l.cancel()
	for _, fn := range l.unsub {
		fn()
	}
	l.unsub = nil
}

func bare(c *sample.Container) *samplecache.Entry {
	return &samplecache.Entry{Container: c, Info: pipeline.DerivedInfo{FailedPluginIndex: pipeline.NoFailedPlugin}}
}

// List returns every sample, most recently sampled first.
func (l *Library) List() []*samplecache.Entry {
	l.mu.RLock()
	out := make([]*samplecache.Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	l.mu.RUnlock()

	slices.SortFunc(out, func(a, b *samplecache.Entry) int {
		if c := cmp.Compare(b.Container.Metadata().DateSampled, a.Container.Metadata().DateSampled); c != 0 {
			return c
		}
		return cmp.Compare(a.Container.ID(), b.Container.ID())
	})
	return out
}

func (l *Library) Get(id string) (*samplecache.Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

// Samples returns the current versions of ids, in order.
func (l *Library) Samples(ids ...string) ([]*sample.Container, error) {
	out := make([]*sample.Container, 0, len(ids))
	for _, id := range ids {
		e, err := l.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, e.Container)
	}
	return out, nil
}

func (l *Library) set(e *samplecache.Entry) {
	l.mu.Lock()
	l.entries[e.Container.ID()] = e
	l.mu.Unlock()
}

// Import stores data as a new user sample.
func (l *Library) Import(ctx context.Context, name string, data []byte, info *sample.UserFileInfo) (*samplecache.Entry, error) {
	sourceID, err := l.sources.Set(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("storing source: %w", err)
	}
	e, err := l.create(ctx, sample.NewParams{Name: name, SourceFileID: sourceID, UserFileInfo: info})
	if err != nil {
		if rerr := l.sources.Remove(ctx, sourceID); rerr != nil {
			l.log.Warn("dropping source of failed import", logger.String("source", sourceID), logger.Error(rerr))
		}
		return nil, err
	}
	return e, nil
}

// ImportExternal adds a sample whose source stays at rawURL.
func (l *Library) ImportExternal(ctx context.Context, name, rawURL string) (*samplecache.Entry, error) {
	if !sourcestore.IsExternal(rawURL) {
		return nil, fmt.Errorf("%w: %q", ErrNotExternal, rawURL)
	}
	if _, err := l.sources.Get(ctx, rawURL); err != nil {
		return nil, err
	}
	return l.create(ctx, sample.NewParams{Name: name, SourceFileID: rawURL})
}

func (l *Library) create(ctx context.Context, p sample.NewParams) (*samplecache.Entry, error) {
	c, err := l.samples.Create(ctx, p)
	if err != nil {
		return nil, err
	}
	e, err := l.cache.ImportFresh(ctx, c)
	if err != nil {
		if rerr := l.samples.Remove(ctx, c); rerr != nil {
			l.log.Warn("dropping failed import", logger.String("id", c.ID()), logger.Error(rerr))
		}
		return nil, err
	}

	l.set(e)
	l.publish(ctx, tabsync.ActionCreate, c.ID())
	l.log.Info("sample imported", logger.String("id", c.ID()), logger.String("name", p.Name))
	return e, nil
}

// Update applies updates to sample id. An update that changes nothing
// returns the current entry without rendering.
func (l *Library) Update(ctx context.Context, id string, updates ...sample.Update) (*samplecache.Entry, error) {
	old, err := l.Get(id)
	if err != nil {
		return nil, err
	}

	c, err := old.Container.Update(ctx, updates...)
	if err != nil {
		return nil, err
	}
	if c == old.Container {
		return old, nil
	}

	e, err := l.cache.Update(ctx, old, c)
	if err != nil {
		return nil, err
	}
	l.set(e)
	l.publish(ctx, tabsync.ActionEdit, id)
	return e, nil
}

func (l *Library) Duplicate(ctx context.Context, id string) (*samplecache.Entry, error) {
	old, err := l.Get(id)
	if err != nil {
		return nil, err
	}

	c, err := old.Container.Duplicate(ctx)
	if err != nil {
		return nil, err
	}
	e, err := l.cache.Update(ctx, nil, c)
	if err != nil {
		return nil, err
	}
	l.set(e)
	l.publish(ctx, tabsync.ActionCreate, c.ID())
	return e, nil
}

// Delete removes samples with their derived info, and their source bytes
// once nothing else uses them.
func (l *Library) Delete(ctx context.Context, ids ...string) error {
	var deleted []string
	var errs []error
	for _, id := range ids {
		e, err := l.Get(id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := l.samples.Remove(ctx, e.Container); err != nil {
			errs = append(errs, fmt.Errorf("removing %s: %w", id, err))
			continue
		}
		if err := l.cache.Remove(ctx, id); err != nil {
			l.log.Warn("removing cached info", logger.String("id", id), logger.Error(err))
		}

		l.mu.Lock()
		delete(l.entries, id)
		l.mu.Unlock()
		deleted = append(deleted, id)
	}

	if len(deleted) > 0 {
		l.publish(ctx, tabsync.ActionDelete, deleted...)
	}
	return errors.Join(errs...)
}

func (l *Library) Preview(ctx context.Context, id string) (*samplecache.Preview, error) {
	e, err := l.Get(id)
	if err != nil {
		return nil, err
	}
	return l.cache.Preview(ctx, e.Container)
}

func (l *Library) publish(ctx context.Context, action tabsync.Action, ids ...string) {
	if l.bus == nil {
		return
	}
	if err := l.bus.Publish(ctx, tabsync.DataSample, ids, action); err != nil {
		l.log.Warn("broadcasting sample change", logger.Strings("ids", ids), logger.Error(err))
	}
}
