// SPDX-License-Identifier: EPL-2.0

package library

import (
	"context"
	"errors"
	"fmt"

	"github.com/ik5/sampleprep/internal/logger"
	"github.com/ik5/sampleprep/internal/sample"
	"github.com/ik5/sampleprep/internal/samplecache"
	"github.com/ik5/sampleprep/internal/tabsync"
)

// onPluginError flags every sample whose chain runs the broken plugin.
func (l *Library) onPluginError(plugin string, cause error) {
	for _, e := range l.List() {
		idx := pluginIndex(e.Container.Metadata(), plugin)
		if idx < 0 {
			continue
		}

		marked, err := l.cache.MarkFailed(l.ctx, e, idx)
		if err != nil {
			l.log.Warn("flagging sample with broken plugin", logger.String("id", e.Container.ID()), logger.Error(err))
			continue
		}
		l.replace(e, marked)
		l.log.Info("sample uses broken plugin",
			logger.String("id", e.Container.ID()), logger.String("plugin", plugin),
			logger.Int("index", idx), logger.Error(cause))
	}
}

// onPluginInstalled re-renders the samples running a plugin that was just
// installed or given new source.
func (l *Library) onPluginInstalled(plugin string) {
	if err := l.RegeneratePlugin(l.ctx, plugin); err != nil {
		l.log.Warn("re-rendering samples after install", logger.String("plugin", plugin), logger.Error(err))
	}
}

// Regenerate renders the given samples again and stores the fresh info.
// A sample whose whole chain now runs loses its failed plugin flag.
func (l *Library) Regenerate(ctx context.Context, ids ...string) error {
	var errs []error
	for _, id := range ids {
		cur, err := l.Get(id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		next, err := l.cache.Regenerate(ctx, cur.Container)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		l.replace(cur, next)
	}
	return errors.Join(errs...)
}

// RegeneratePlugin regenerates every sample whose active chain runs plugin.
func (l *Library) RegeneratePlugin(ctx context.Context, plugin string) error {
	var ids []string
	for _, e := range l.List() {
		if pluginIndex(e.Container.Metadata(), plugin) >= 0 {
			ids = append(ids, e.Container.ID())
		}
	}
	if len(ids) == 0 {
		return nil
	}
	l.log.Debug("re-rendering samples", logger.String("plugin", plugin), logger.Int("count", len(ids)))
	return l.Regenerate(ctx, ids...)
}

// pluginIndex is the first active chain slot running plugin, or -1.
func pluginIndex(m sample.Metadata, plugin string) int {
	for _, i := range m.ActivePlugins() {
		if m.Plugins[i].PluginName == plugin {
			return i
		}
	}
	return -1
}

// replace swaps old for next unless the entry moved on meanwhile.
func (l *Library) replace(old, next *samplecache.Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.entries[old.Container.ID()] == old {
		l.entries[old.Container.ID()] = next
	}
}

// onSampleEvent re-reads samples another tab changed.
func (l *Library) onSampleEvent(ev tabsync.Event) {
	for _, id := range ev.IDs {
		if ev.Action == tabsync.ActionDelete {
			l.forget(id)
			continue
		}

		c, err := l.samples.Get(l.ctx, id)
		if errors.Is(err, sample.ErrNotFound) {
			l.forget(id)
			continue
		}
		if err != nil {
			l.log.Warn("reloading sample", logger.String("id", id), logger.Error(err))
			continue
		}

		e, ok, err := l.cache.Load(l.ctx, c)
		if err != nil {
			l.log.Warn("reloading cached info", logger.String("id", id), logger.Error(err))
		}
		if !ok {
			e = bare(c)
		}
		l.cache.Invalidate(id)
		l.set(e)
	}
}

// onCacheEvent re-reads derived info another tab recomputed.
func (l *Library) onCacheEvent(ev tabsync.Event) {
	if ev.Action == tabsync.ActionDelete {
		return
	}
	for _, id := range ev.IDs {
		cur, err := l.Get(id)
		if err != nil {
			continue
		}

		next, ok, err := l.cache.Load(l.ctx, cur.Container)
		if err != nil {
			l.log.Warn("reloading cached info", logger.String("id", id), logger.Error(err))
			continue
		}
		if !ok {
			continue
		}
		l.cache.Invalidate(id)
		l.replace(cur, next)
	}
}

func (l *Library) forget(id string) {
	l.cache.Invalidate(id)
	l.mu.Lock()
	delete(l.entries, id)
	l.mu.Unlock()
}
