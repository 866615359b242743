// SPDX-License-Identifier: EPL-2.0

package tabsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/ik5/sampleprep/internal/logger"
	"github.com/ik5/sampleprep/internal/metrics"
)

// EventFile is the single shared key every process writes its latest event
// to. Other processes learn about it through filesystem notifications.
const EventFile = "tab-event.json"

// FileBus is a Bus shared between processes through one file in a common
// directory.
type FileBus struct {
	dir     string
	origin  string
	subs    handlers
	watcher *fsnotify.Watcher
	log     logger.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	lastID string

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

func NewFileBus(dir string, log logger.Logger, m *metrics.Metrics) (*FileBus, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating tab sync dir: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating tab sync watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	b := &FileBus{
		dir:     dir,
		origin:  uuid.NewString(),
		watcher: w,
		log:     log.Module("tabsync"),
		metrics: m,
	}
	b.wg.Go(b.watch)
	return b, nil
}

func (b *FileBus) Origin() string { return b.origin }

// Publish replaces the shared event file atomically.
func (b *FileBus) Publish(_ context.Context, dataType DataType, ids []string, action Action) error {
	ev := Event{
		DataType: dataType,
		IDs:      slices.Clone(ids),
		Action:   action,
		When:     time.Now().UnixMilli(),
		Origin:   b.origin,
		EventID:  uuid.NewString(),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(b.dir, ".tab-event-*")
	if err != nil {
		return fmt.Errorf("publishing tab event: %w", err)
	}
	_, werr := tmp.Write(data)
	if err := errors.Join(werr, tmp.Close()); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("publishing tab event: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(b.dir, EventFile)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("publishing tab event: %w", err)
	}

	b.metrics.RecordTabEvent(string(dataType), string(action), "sent")
	return nil
}

func (b *FileBus) Subscribe(dataType DataType, h Handler) func() {
	return b.subs.add(dataType, h)
}

func (b *FileBus) Close() error {
	b.closeOnce.Do(func() {
		b.closeErr = b.watcher.Close()
		b.wg.Wait()
	})
	return b.closeErr
}

func (b *FileBus) watch() {
	for {
		select {
		case ev, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != EventFile || !(ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write)) {
				continue
			}
			b.receive()
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			b.log.Warn("tab sync watcher error", logger.Error(err))
		}
	}
}

func (b *FileBus) receive() {
	data, err := os.ReadFile(filepath.Join(b.dir, EventFile))
	if err != nil {
		b.log.Warn("reading tab event", logger.Error(err))
		return
	}

	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		// a writer outside this package, or a torn read
		b.log.Debug("ignoring unreadable tab event", logger.Error(err))
		return
	}
	if ev.Origin == b.origin {
		return
	}

	b.mu.Lock()
	dup := ev.EventID != "" && ev.EventID == b.lastID
	b.lastID = ev.EventID
	b.mu.Unlock()
	if dup {
		return
	}

	b.metrics.RecordTabEvent(string(ev.DataType), string(ev.Action), "received")
	b.subs.dispatch(ev)
}
