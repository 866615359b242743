// SPDX-License-Identifier: EPL-2.0

package sample

import (
	"context"
	"reflect"

	"github.com/google/uuid"
)

// Container is an immutable, persisted sample. Every change produces a new
// Container, so pointer identity doubles as a change marker for caches.
type Container struct {
	id    string
	meta  Metadata
	store *Store
}

func (c *Container) ID() string { return c.id }

// Metadata returns the sample's metadata. Slices and maps inside are shared
// and must not be modified.
func (c *Container) Metadata() Metadata { return c.meta }

// Update applies updates to a copy of the metadata. When nothing changes the
// receiver itself is returned and nothing is written. Otherwise the new
// container is validated, gets a dateModified strictly later than the
// current one, and is persisted before being returned.
func (c *Container) Update(ctx context.Context, updates ...Update) (*Container, error) {
	next := c.meta.Clone()
	for _, u := range updates {
		u(&next)
	}

	if reflect.DeepEqual(next, c.meta) {
		return c, nil
	}

	if err := next.Validate(); err != nil {
		return nil, err
	}

	next.DateModified = max(c.store.now(), c.meta.DateModified+1)

	nc := &Container{id: c.id, meta: next, store: c.store}
	if err := c.store.persist(ctx, nc); err != nil {
		return nil, err
	}
	return nc, nil
}

// Duplicate persists a copy under a new id named "<name> (copy)".
func (c *Container) Duplicate(ctx context.Context) (*Container, error) {
	next := c.meta.Clone()
	next.Name += " (copy)"
	next.DateModified = c.store.now()

	nc := &Container{id: uuid.NewString(), meta: next, store: c.store}
	if err := c.store.persist(ctx, nc); err != nil {
		return nil, err
	}
	return nc, nil
}
