// SPDX-License-Identifier: EPL-2.0

package library

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/ik5/sampleprep/internal/logger"
	"github.com/ik5/sampleprep/internal/sample"
	"github.com/ik5/sampleprep/internal/samplecache"
	"github.com/ik5/sampleprep/internal/sourcestore"
	"github.com/ik5/sampleprep/internal/tabsync"
)

// Archive layout.
const (
	ArchiveRoot     = "volcasampler"
	ArchiveSamples  = ArchiveRoot + "/user samples"
	ArchiveMetadata = ArchiveRoot + "/volcasampler.json"
)

type archiveIndex struct {
	Samples map[string]json.RawMessage `json:"samples"`
}

// exportedSample leaves waveform peaks out; they are recomputed on import.
type exportedSample struct {
	sample.Metadata
	Trim struct {
		Frames [2]int `json:"frames"`
	} `json:"trim"`
}

// ArchivedSample summarizes one sample in an archive.
type ArchivedSample struct {
	ID           string `json:"-"`
	Name         string `json:"name"`
	SourceFileID string `json:"sourceFileId"`
	DateSampled  int64  `json:"dateSampled"`
}

// Export writes ids, or every sample when ids is empty, to w as a zip.
// Sources of external samples are not included.
func (l *Library) Export(ctx context.Context, w io.Writer, ids ...string) error {
	var entries []*samplecache.Entry
	if len(ids) == 0 {
		entries = l.List()
	} else {
		for _, id := range ids {
			e, err := l.Get(id)
			if err != nil {
				return err
			}
			entries = append(entries, e)
		}
	}

	index := archiveIndex{Samples: make(map[string]json.RawMessage, len(entries))}
	for _, e := range entries {
		out := exportedSample{Metadata: e.Container.Metadata()}
		out.Trim.Frames = out.Metadata.Trim.Frames
		raw, err := json.Marshal(out)
		if err != nil {
			return err
		}
		index.Samples[e.Container.ID()] = raw
	}

	zw := zip.NewWriter(w)

	f, err := zw.Create(ArchiveMetadata)
	if err != nil {
		return fmt.Errorf("creating %s: %w", ArchiveMetadata, err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(index); err != nil {
		return fmt.Errorf("writing %s: %w", ArchiveMetadata, err)
	}

	written := make(map[string]bool)
	for _, e := range entries {
		m := e.Container.Metadata()
		if written[m.SourceFileID] || sourcestore.IsExternal(m.SourceFileID) {
			continue
		}
		written[m.SourceFileID] = true

		data, err := l.sources.Get(ctx, m.SourceFileID)
		if err != nil {
			return fmt.Errorf("reading source of %s: %w", e.Container.ID(), err)
		}

		ext := ".wav"
		if m.UserFileInfo != nil && m.UserFileInfo.Ext != "" {
			ext = m.UserFileInfo.Ext
		}
		name := path.Join(ArchiveSamples, fmt.Sprintf("%s - %s%s", strings.ReplaceAll(m.Name, "/", "_"), m.SourceFileID, ext))

		f, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		if err != nil {
			return fmt.Errorf("creating %s: %w", name, err)
		}
		if _, err := f.Write(data); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}

	return zw.Close()
}

func readIndex(zr *zip.Reader) (archiveIndex, error) {
	var index archiveIndex

	f, err := zr.Open(ArchiveMetadata)
	if err != nil {
		return index, fmt.Errorf("%w: missing %s", ErrBadArchive, ArchiveMetadata)
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&index); err != nil {
		return index, fmt.Errorf("%w: %w", ErrBadArchive, err)
	}
	return index, nil
}

// ReadArchive lists the samples in a zip written by Export.
func ReadArchive(r io.ReaderAt, size int64) ([]ArchivedSample, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadArchive, err)
	}
	index, err := readIndex(zr)
	if err != nil {
		return nil, err
	}

	out := make([]ArchivedSample, 0, len(index.Samples))
	for id, raw := range index.Samples {
		s := ArchivedSample{ID: id}
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: sample %s: %w", ErrBadArchive, id, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// ImportResult reports what ImportZip did per sample id.
type ImportResult struct {
	Imported []*samplecache.Entry
	Failed   map[string]error
}

// ImportZip restores ids, or every sample when ids is empty, from an
// archive written by Export. Samples keep their ids; sources already stored
// are not read from the archive again. A sample that fails is reported in
// Failed and does not stop the others.
func (l *Library) ImportZip(ctx context.Context, r io.ReaderAt, size int64, ids ...string) (*ImportResult, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadArchive, err)
	}
	index, err := readIndex(zr)
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		for id := range index.Samples {
			ids = append(ids, id)
		}
	}

	res := &ImportResult{Failed: make(map[string]error)}
	sourceErrs := make(map[string]error)

	for _, id := range ids {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		raw, ok := index.Samples[id]
		if !ok {
			res.Failed[id] = fmt.Errorf("%w: %s not in archive", ErrNotFound, id)
			continue
		}

		var ref struct {
			SourceFileID string `json:"sourceFileId"`
		}
		if err := json.Unmarshal(raw, &ref); err != nil {
			res.Failed[id] = err
			continue
		}

		srcErr, seen := sourceErrs[ref.SourceFileID]
		if !seen {
			srcErr = l.restoreSource(ctx, zr, ref.SourceFileID)
			sourceErrs[ref.SourceFileID] = srcErr
		}
		if srcErr != nil {
			res.Failed[id] = srcErr
			continue
		}

		e, err := l.restore(ctx, id, raw)
		if err != nil {
			res.Failed[id] = err
			continue
		}
		res.Imported = append(res.Imported, e)
	}

	if len(res.Imported) > 0 {
		created := make([]string, 0, len(res.Imported))
		for _, e := range res.Imported {
			created = append(created, e.Container.ID())
		}
		l.publish(ctx, tabsync.ActionCreate, created...)
	}
	for id, err := range res.Failed {
		l.log.Warn("sample not imported", logger.String("id", id), logger.Error(err))
	}
	return res, nil
}

func (l *Library) restore(ctx context.Context, id string, raw []byte) (*samplecache.Entry, error) {
	c, err := l.samples.Restore(ctx, id, raw)
	if err != nil {
		return nil, err
	}
	e, err := l.cache.ImportFresh(ctx, c)
	if err != nil {
		return nil, err
	}
	l.set(e)
	return e, nil
}

func (l *Library) restoreSource(ctx context.Context, zr *zip.Reader, sourceID string) error {
	ok, err := l.sources.Exists(ctx, sourceID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	re, err := regexp.Compile(regexp.QuoteMeta(sourceID) + `\.\w+$`)
	if err != nil {
		return err
	}
	for _, f := range zr.File {
		if path.Dir(f.Name) != ArchiveSamples || !re.MatchString(f.Name) {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("reading %s: %w", f.Name, err)
		}
		return l.sources.Put(ctx, sourceID, data)
	}
	return fmt.Errorf("%w: no source file for %s", ErrBadArchive, sourceID)
}
