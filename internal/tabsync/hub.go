// SPDX-License-Identifier: EPL-2.0

package tabsync

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ik5/sampleprep/internal/logger"
	"github.com/ik5/sampleprep/internal/metrics"
)

// queueSize is how many undelivered events a tab may lag behind.
const queueSize = 256

// Hub connects tabs living in one process.
type Hub struct {
	mu   sync.RWMutex
	tabs map[*Tab]struct{}

	log     logger.Logger
	metrics *metrics.Metrics
}

func NewHub(log logger.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		tabs:    make(map[*Tab]struct{}),
		log:     log.Module("tabsync"),
		metrics: m,
	}
}

// Tab joins a new tab to the hub.
func (h *Hub) Tab() *Tab {
	t := &Tab{
		hub:    h,
		origin: uuid.NewString(),
		queue:  make(chan Event, queueSize),
		done:   make(chan struct{}),
	}
	t.wg.Go(t.run)

	h.mu.Lock()
	h.tabs[t] = struct{}{}
	h.mu.Unlock()
	return t
}

// TabCount returns the number of open tabs.
func (h *Hub) TabCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.tabs)
}

func (h *Hub) broadcast(from *Tab, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for t := range h.tabs {
		if t == from {
			continue
		}
		select {
		case t.queue <- ev:
		default:
			h.log.Warn("tab is not keeping up, dropping event",
				logger.String("tab", t.origin), logger.String("dataType", string(ev.DataType)))
		}
	}
}

// Tab is a Bus attached to a Hub.
type Tab struct {
	hub    *Hub
	origin string
	subs   handlers

	queue     chan Event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func (t *Tab) Origin() string { return t.origin }

func (t *Tab) Publish(_ context.Context, dataType DataType, ids []string, action Action) error {
	ev := Event{
		DataType: dataType,
		IDs:      slices.Clone(ids),
		Action:   action,
		When:     time.Now().UnixMilli(),
		Origin:   t.origin,
		EventID:  uuid.NewString(),
	}
	t.hub.metrics.RecordTabEvent(string(dataType), string(action), "sent")
	t.hub.broadcast(t, ev)
	return nil
}

func (t *Tab) Subscribe(dataType DataType, h Handler) func() {
	return t.subs.add(dataType, h)
}

func (t *Tab) Close() error {
	t.closeOnce.Do(func() {
		t.hub.mu.Lock()
		delete(t.hub.tabs, t)
		t.hub.mu.Unlock()

		close(t.done)
		t.wg.Wait()
	})
	return nil
}

func (t *Tab) run() {
	for {
		select {
		case <-t.done:
			return
		case ev := <-t.queue:
			t.hub.metrics.RecordTabEvent(string(ev.DataType), string(ev.Action), "received")
			t.subs.dispatch(ev)
		}
	}
}
