// SPDX-License-Identifier: EPL-2.0

// Package tabsync broadcasts dirty notifications between independent
// sessions ("tabs") sharing the same storage. An event only names what
// changed; receivers re-read the authoritative state themselves.
package tabsync

import (
	"context"
	"sync"
)

type DataType string

const (
	DataSample DataType = "sample"
	DataCache  DataType = "cache"
	DataPlugin DataType = "plugin"
)

type Action string

const (
	ActionCreate Action = "create"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

type Event struct {
	DataType DataType `json:"dataType"`
	IDs      []string `json:"ids"`
	Action   Action   `json:"action"`
	When     int64    `json:"when"`

	// Origin identifies the publishing tab, which never receives its own
	// events. EventID tells repeated deliveries apart.
	Origin  string `json:"origin,omitempty"`
	EventID string `json:"eventId,omitempty"`
}

type Handler func(Event)

// Bus is one tab's view of the broadcast channel.
type Bus interface {
	Publish(ctx context.Context, dataType DataType, ids []string, action Action) error
	// Subscribe calls h for every event of dataType published by another
	// tab. The returned function unsubscribes.
	Subscribe(dataType DataType, h Handler) func()
	Close() error
}

// handlers is the per-tab subscriber list shared by the Bus
// implementations.
type handlers struct {
	mu   sync.RWMutex
	next uint64
	byID map[uint64]subscription
}

type subscription struct {
	dataType DataType
	h        Handler
}

func (hs *handlers) add(dataType DataType, h Handler) func() {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	if hs.byID == nil {
		hs.byID = make(map[uint64]subscription)
	}
	id := hs.next
	hs.next++
	hs.byID[id] = subscription{dataType, h}

	return func() {
		hs.mu.Lock()
		defer hs.mu.Unlock()
		delete(hs.byID, id)
	}
}

func (hs *handlers) dispatch(ev Event) {
	hs.mu.RLock()
	var matched []Handler
	for _, s := range hs.byID {
		if s.dataType == ev.DataType {
			matched = append(matched, s.h)
		}
	}
	hs.mu.RUnlock()

	for _, h := range matched {
		h(ev)
	}
}
