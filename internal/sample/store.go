// SPDX-License-Identifier: EPL-2.0

// Package sample implements the versioned sample metadata model and its
// persistence.
package sample

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ik5/sampleprep/internal/logger"
	"github.com/ik5/sampleprep/internal/storage"
	"github.com/ik5/sampleprep/pcm"
)

var ErrNotFound = errors.New("sample not found")

// Sources is the part of the source byte store the metadata store needs.
type Sources interface {
	Exists(ctx context.Context, id string) (bool, error)
	Remove(ctx context.Context, id string) error
}

// PeaksFunc computes waveform peaks for a source and trim window. It fills
// in peaks for records migrated from versions that did not store them.
type PeaksFunc func(ctx context.Context, sourceFileID string, frames [2]int) (pcm.PeakData, error)

type Store struct {
	coll    storage.Collection
	sources Sources
	peaks   PeaksFunc
	clock   func() time.Time
	log     logger.Logger
}

type Option func(*Store)

func WithPeaksFunc(f PeaksFunc) Option {
	return func(s *Store) { s.peaks = f }
}

func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

func NewStore(coll storage.Collection, sources Sources, log logger.Logger, opts ...Option) *Store {
	s := &Store{
		coll:    coll,
		sources: sources,
		clock:   time.Now,
		log:     log.Module("samples"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) now() int64 { return s.clock().UnixMilli() }

// NewParams are the caller-chosen fields of a new sample; everything else
// takes its default.
type NewParams struct {
	Name         string
	SourceFileID string
	UserFileInfo *UserFileInfo
	Trim         Trim
	// Optional overrides; zero means default.
	ID          string
	SlotNumber  int
	DateSampled int64
}

// Create persists a new sample with default processing parameters.
func (s *Store) Create(ctx context.Context, p NewParams) (*Container, error) {
	now := s.now()
	m := Defaults(p.Name, p.SourceFileID, now)
	m.UserFileInfo = p.UserFileInfo
	m.SlotNumber = p.SlotNumber
	m.Trim.Frames = p.Trim.Frames
	if !p.Trim.WaveformPeaks.Empty() {
		m.Trim.WaveformPeaks = p.Trim.WaveformPeaks
	}
	if p.DateSampled != 0 {
		m.DateSampled = p.DateSampled
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.Trim.WaveformPeaks.Empty() && s.peaks != nil {
		peaks, err := s.peaks(ctx, m.SourceFileID, m.Trim.Frames)
		if err != nil {
			return nil, fmt.Errorf("computing waveform peaks: %w", err)
		}
		m.Trim.WaveformPeaks = peaks
	}

	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}

	c := &Container{id: id, meta: m, store: s}
	if err := s.persist(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Restore persists a metadata document exported elsewhere under id,
// upgrading it from whatever version it was written with.
func (s *Store) Restore(ctx context.Context, id string, doc []byte) (*Container, error) {
	c, _, err := s.decode(ctx, id, doc)
	if err != nil {
		return nil, err
	}
	if err := c.meta.Validate(); err != nil {
		return nil, fmt.Errorf("sample %s: %w", id, err)
	}
	if err := s.persist(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) persist(ctx context.Context, c *Container) error {
	if err := storage.SetJSON(ctx, s.coll, c.id, c.meta); err != nil {
		return fmt.Errorf("persisting sample %s: %w", c.id, err)
	}
	return nil
}

// Get loads one sample, upgrading and writing it back if needed.
func (s *Store) Get(ctx context.Context, id string) (*Container, error) {
	data, err := s.coll.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return s.load(ctx, id, data)
}

// All loads every sample whose source is still available, newest
// dateSampled first. Upgraded records are written back.
func (s *Store) All(ctx context.Context) ([]*Container, error) {
	type entry struct {
		id   string
		data []byte
	}
	var entries []entry

	// loading may write back, so finish reading first
	err := s.coll.Iterate(ctx, func(id string, data []byte) error {
		entries = append(entries, entry{id, data})
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]*Container, 0, len(entries))
	for _, e := range entries {
		c, err := s.load(ctx, e.id, e.data)
		if err != nil {
			s.log.Warn("ignoring unreadable sample metadata", logger.String("id", e.id), logger.Error(err))
			continue
		}

		ok, err := s.sources.Exists(ctx, c.meta.SourceFileID)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.log.Warn("ignoring sample with missing source data",
				logger.String("id", e.id), logger.String("name", c.meta.Name), logger.String("source", c.meta.SourceFileID))
			continue
		}

		out = append(out, c)
	}

	slices.SortStableFunc(out, func(a, b *Container) int {
		return cmp.Compare(b.meta.DateSampled, a.meta.DateSampled)
	})
	return out, nil
}

func (s *Store) load(ctx context.Context, id string, data []byte) (*Container, error) {
	c, upgraded, err := s.decode(ctx, id, data)
	if err != nil {
		return nil, err
	}
	if upgraded {
		s.log.Info("upgraded sample metadata", logger.String("id", id), logger.String("version", CurrentVersion))
		if err := s.persist(ctx, c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// decode migrates a stored document and fills in missing peaks. upgraded
// reports whether the result differs from what was stored.
func (s *Store) decode(ctx context.Context, id string, data []byte) (*Container, bool, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false, fmt.Errorf("decoding sample %s: %w", id, err)
	}

	doc, upgraded := Migrate(doc)
	delete(doc, "id")

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, false, err
	}

	m := Defaults("", "", s.now())
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false, fmt.Errorf("decoding sample %s: %w", id, err)
	}
	if m.Plugins == nil {
		m.Plugins = []PluginEntry{}
	}

	if m.Trim.WaveformPeaks.Empty() && s.peaks != nil {
		peaks, err := s.peaks(ctx, m.SourceFileID, m.Trim.Frames)
		if err != nil {
			s.log.Warn("could not compute waveform peaks", logger.String("id", id), logger.Error(err))
		} else {
			m.Trim.WaveformPeaks = peaks
			upgraded = true
		}
	}

	return &Container{id: id, meta: m, store: s}, upgraded, nil
}

// Remove deletes the sample's metadata and then its source bytes, unless
// the source is external or another sample still points at it.
func (s *Store) Remove(ctx context.Context, c *Container) error {
	if err := s.coll.Remove(ctx, c.id); err != nil {
		return err
	}

	sourceID := c.meta.SourceFileID
	if isExternal(sourceID) {
		return nil
	}

	shared := false
	err := s.coll.Iterate(ctx, func(_ string, data []byte) error {
		var ref struct {
			SourceFileID string `json:"sourceFileId"`
		}
		if json.Unmarshal(data, &ref) == nil && ref.SourceFileID == sourceID {
			shared = true
			return errStopIteration
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopIteration) {
		return err
	}
	if shared {
		return nil
	}

	return s.sources.Remove(ctx, sourceID)
}

var errStopIteration = errors.New("stop")

func isExternal(id string) bool { return strings.Contains(id, ".") }
