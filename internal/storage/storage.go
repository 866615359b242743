// SPDX-License-Identifier: EPL-2.0

// Package storage provides durable named key/value collections.
//
// Two backends exist: SQLite through gorm for the real data directory, and
// an in-memory one on go-cache for tests and throwaway sessions. Values are
// opaque bytes; GetJSON and SetJSON cover the common structured case.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Collection names.
const (
	AudioFileData    = "audio_file_data"
	SampleMetadata   = "sample_metadata"
	SampleCachedInfo = "sample_cached_info"
	PluginStore      = "plugin_store"
)

var (
	ErrNotFound = errors.New("key not found")
	ErrClosed   = errors.New("storage closed")
)

// Collection is one named key/value namespace. Writes to a single key are
// atomic; there are no multi-key transactions.
type Collection interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Remove is a no-op for missing keys.
	Remove(ctx context.Context, key string) error
	// Keys returns every key in ascending order.
	Keys(ctx context.Context) ([]string, error)
	// Iterate visits entries in key order until fn returns an error.
	Iterate(ctx context.Context, fn func(key string, value []byte) error) error
}

// Store hands out collections by name.
type Store interface {
	Collection(name string) Collection
	Close() error
}

// GetJSON decodes the value at key into a new T.
func GetJSON[T any](ctx context.Context, c Collection, key string) (T, error) {
	var v T
	data, err := c.Get(ctx, key)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decoding %s: %w", key, err)
	}
	return v, nil
}

// SetJSON encodes v and stores it at key.
func SetJSON(ctx context.Context, c Collection, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return c.Set(ctx, key, data)
}
