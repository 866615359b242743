// SPDX-License-Identifier: EPL-2.0

package storage

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/patrickmn/go-cache"
)

const keySep = "\x00"

// Memory keeps every collection in one non-expiring go-cache instance.
type Memory struct {
	c *cache.Cache
}

func NewMemory() *Memory {
	return &Memory{c: cache.New(cache.NoExpiration, 0)}
}

func (m *Memory) Collection(name string) Collection {
	return &memoryCollection{c: m.c, name: name, prefix: name + keySep}
}

func (m *Memory) Close() error {
	m.c.Flush()
	return nil
}

type memoryCollection struct {
	c      *cache.Cache
	name   string
	prefix string
}

func (c *memoryCollection) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := c.c.Get(c.prefix + key)
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", c.name, key, ErrNotFound)
	}
	return slices.Clone(v.([]byte)), nil
}

func (c *memoryCollection) Set(_ context.Context, key string, value []byte) error {
	c.c.Set(c.prefix+key, slices.Clone(value), cache.NoExpiration)
	return nil
}

func (c *memoryCollection) Remove(_ context.Context, key string) error {
	c.c.Delete(c.prefix + key)
	return nil
}

func (c *memoryCollection) Keys(context.Context) ([]string, error) {
	var keys []string
	for k := range c.c.Items() {
		if rest, ok := strings.CutPrefix(k, c.prefix); ok {
			keys = append(keys, rest)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

func (c *memoryCollection) Iterate(ctx context.Context, fn func(key string, value []byte) error) error {
	keys, _ := c.Keys(ctx)
	for _, k := range keys {
		v, ok := c.c.Get(c.prefix + k)
		if !ok {
			continue
		}
		if err := fn(k, slices.Clone(v.([]byte))); err != nil {
			return err
		}
	}
	return nil
}
