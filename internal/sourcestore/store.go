// SPDX-License-Identifier: EPL-2.0

// Package sourcestore owns the raw bytes samples are rendered from.
//
// Locally stored sources get a random uuid id. Ids containing a dot are
// external: they are URLs (absolute, or relative to a base URL) fetched on
// demand and never stored or deleted locally.
package sourcestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ik5/sampleprep/internal/logger"
	"github.com/ik5/sampleprep/internal/metrics"
	"github.com/ik5/sampleprep/internal/storage"
)

const (
	DefaultMaxCached    = 10
	DefaultFetchTimeout = 30 * time.Second

	originLocal    = "local"
	originExternal = "external"
)

var (
	ErrMissingSource = errors.New("missing source data")
	ErrFetchFailed   = errors.New("failed to fetch source file")
	ErrEmptySource   = errors.New("source data is empty")
)

// IsExternal reports whether id names a remote source rather than a stored
// blob.
func IsExternal(id string) bool {
	return strings.Contains(id, ".")
}

type Config struct {
	MaxCached    int
	FetchTimeout time.Duration
	// BaseURL resolves relative external ids such as "factory/kick.wav".
	BaseURL string
	Client  *http.Client
}

type Store struct {
	blobs   storage.Collection
	client  *http.Client
	baseURL string
	timeout time.Duration
	recent  *lru.Cache[string, []byte]

	log     logger.Logger
	metrics *metrics.Metrics
}

func New(blobs storage.Collection, cfg Config, log logger.Logger, m *metrics.Metrics) *Store {
	if cfg.MaxCached <= 0 {
		cfg.MaxCached = DefaultMaxCached
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}

	// size is positive, the only error lru.New reports
	recent, _ := lru.New[string, []byte](cfg.MaxCached)

	return &Store{
		blobs:   blobs,
		client:  cfg.Client,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		timeout: cfg.FetchTimeout,
		recent:  recent,
		log:     log.Module("sources"),
		metrics: m,
	}
}

// Get returns the bytes for id, from the recently-used cache when possible.
// Callers must not modify the returned slice.
func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	if data, ok := s.recent.Get(id); ok {
		return data, nil
	}

	if IsExternal(id) {
		data, err := s.fetch(ctx, id)
		if err != nil {
			s.metrics.RecordSourceFetch(originExternal, metrics.ResultError)
			return nil, err
		}
		s.metrics.RecordSourceFetch(originExternal, metrics.ResultOK)
		s.remember(id, data)
		return data, nil
	}

	data, err := s.blobs.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		s.metrics.RecordSourceFetch(originLocal, metrics.ResultMiss)
		return nil, fmt.Errorf("%w: %s", ErrMissingSource, id)
	}
	if err != nil {
		s.metrics.RecordSourceFetch(originLocal, metrics.ResultError)
		return nil, err
	}
	s.metrics.RecordSourceFetch(originLocal, metrics.ResultOK)
	s.remember(id, data)
	return data, nil
}

// Set stores data under a new id.
func (s *Store) Set(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptySource
	}

	id := uuid.NewString()
	if err := s.blobs.Set(ctx, id, data); err != nil {
		return "", err
	}
	s.remember(id, data)
	return id, nil
}

// Put stores data under a known id, as when restoring an archive.
func (s *Store) Put(ctx context.Context, id string, data []byte) error {
	if len(data) == 0 {
		return ErrEmptySource
	}
	if IsExternal(id) {
		return fmt.Errorf("cannot store external source %q", id)
	}
	if err := s.blobs.Set(ctx, id, data); err != nil {
		return err
	}
	s.remember(id, data)
	return nil
}

// Remove deletes a stored source. External ids are ignored.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.recent.Remove(id)
	if IsExternal(id) {
		return nil
	}
	return s.blobs.Remove(ctx, id)
}

// Keys lists locally stored ids.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	return s.blobs.Keys(ctx)
}

// Exists reports whether id can be resolved without a network round trip:
// external ids always count as present.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	if IsExternal(id) {
		return true, nil
	}
	if _, ok := s.recent.Peek(id); ok {
		return true, nil
	}
	_, err := s.blobs.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) resolve(id string) (string, error) {
	if u, err := url.Parse(id); err == nil && u.Scheme != "" {
		return id, nil
	}
	if s.baseURL == "" {
		return "", fmt.Errorf("%w: %q is relative and no base URL is configured", ErrFetchFailed, id)
	}
	return s.baseURL + "/" + strings.TrimPrefix(id, "/"), nil
}

func (s *Store) fetch(ctx context.Context, id string) ([]byte, error) {
	target, err := s.resolve(id)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrFetchFailed, id, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrFetchFailed, id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w %q: status %d", ErrFetchFailed, id, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrFetchFailed, id, err)
	}

	s.log.Debug("fetched external source", logger.String("id", id), logger.Int("bytes", len(data)))
	return data, nil
}

func (s *Store) remember(id string, data []byte) {
	if s.recent.Add(id, data) {
		s.metrics.RecordEviction("sources")
	}
}
