// SPDX-License-Identifier: EPL-2.0

package library

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ik5/sampleprep"
	"github.com/ik5/sampleprep/internal/audiotest"
	"github.com/ik5/sampleprep/internal/logger"
	"github.com/ik5/sampleprep/internal/pipeline"
	"github.com/ik5/sampleprep/internal/sample"
	"github.com/ik5/sampleprep/internal/samplecache"
	"github.com/ik5/sampleprep/internal/sandbox"
	"github.com/ik5/sampleprep/internal/sandbox/sandboxtest"
	"github.com/ik5/sampleprep/internal/sourcestore"
	"github.com/ik5/sampleprep/internal/storage"
	"github.com/ik5/sampleprep/internal/tabsync"
)

const rate = sampleprep.TargetSampleRate

var halfSecond = audiotest.ConstantWAV16(rate, 1, rate/2, 0.5)

type fixture struct {
	lib     *Library
	sources *sourcestore.Store
	sandbox *sandbox.Sandbox
	mock    *httpmock.MockTransport
}

// newFixture wires a library over store. Fixtures sharing a store behave
// like tabs of one origin.
func newFixture(t *testing.T, store storage.Store, bus tabsync.Bus) *fixture {
	t.Helper()
	ctx := context.Background()
	log := logger.Discard()

	l := sandboxtest.NewLauncher()
	l.Register("gain", sandboxtest.Gain())
	sb := sandbox.New(l, sandbox.Config{}, log, nil)
	t.Cleanup(func() { _ = sb.Close() })
	_, err := sb.Install(ctx, "gain.js", "gain")
	require.NoError(t, err)

	mt := httpmock.NewMockTransport()
	sources := sourcestore.New(store.Collection(storage.AudioFileData),
		sourcestore.Config{Client: &http.Client{Transport: mt}}, log, nil)

	dec := sampleprep.NewDecoder(rate)
	pipe := pipeline.New(sources, dec, sb, log, nil)
	samples := sample.NewStore(store.Collection(storage.SampleMetadata), sources, log, sample.WithPeaksFunc(pipe.Peaks))
	cache := samplecache.New(store.Collection(storage.SampleCachedInfo), pipe, dec, bus, 0, log, nil)

	lib := New(samples, sources, cache, bus, sb, log)
	t.Cleanup(lib.Close)
	require.NoError(t, lib.Load(ctx))

	return &fixture{lib: lib, sources: sources, sandbox: sb, mock: mt}
}

func TestImport_AddsSampleWithPeaksAndInfo(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t, storage.NewMemory(), nil)
	e, err := f.lib.Import(ctx, "kick", halfSecond, &sample.UserFileInfo{Type: "audio/wav", Ext: ".wav"})
	require.NoError(t, err)

	m := e.Container.Metadata()
	assert.Equal(t, "kick", m.Name)
	assert.NotEmpty(t, m.Trim.WaveformPeaks.Positive)
	assert.InDelta(t, 0.5, e.Info.Duration, 1e-9)
	assert.Equal(t, pipeline.NoFailedPlugin, e.Info.FailedPluginIndex)

	list := f.lib.List()
	require.Len(t, list, 1)
	assert.Same(t, e, list[0])

	p, err := f.lib.Preview(ctx, e.Container.ID())
	require.NoError(t, err)
	assert.Equal(t, rate/2, p.Buffer.Length())

	_, err = f.lib.Import(ctx, "garbage", []byte("not audio"), nil)
	require.Error(t, err)
	assert.Len(t, f.lib.List(), 1)
	keys, err := f.sources.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{m.SourceFileID}, keys, "source of a failed import is dropped")
}

func TestImportExternal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t, storage.NewMemory(), nil)
	f.mock.RegisterResponder(http.MethodGet, "https://samples.test/snare.wav",
		httpmock.NewBytesResponder(http.StatusOK, halfSecond))

	e, err := f.lib.ImportExternal(ctx, "snare", "https://samples.test/snare.wav")
	require.NoError(t, err)
	assert.Equal(t, "https://samples.test/snare.wav", e.Container.Metadata().SourceFileID)

	_, err = f.lib.ImportExternal(ctx, "local", "no-dot-here")
	require.ErrorIs(t, err, ErrNotExternal)
}

func TestUpdateAndDuplicate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t, storage.NewMemory(), nil)
	e, err := f.lib.Import(ctx, "kick", halfSecond, nil)
	require.NoError(t, err)
	id := e.Container.ID()

	same, err := f.lib.Update(ctx, id, sample.SetName("kick"))
	require.NoError(t, err)
	assert.Same(t, e, same)

	faster, err := f.lib.Update(ctx, id, sample.SetPitchAdjustment(2))
	require.NoError(t, err)
	assert.NotSame(t, e, faster)
	assert.InDelta(t, 0.25, faster.Info.Duration, 1e-9)

	cur, err := f.lib.Get(id)
	require.NoError(t, err)
	assert.Same(t, faster, cur)

	_, err = f.lib.Update(ctx, id, sample.SetSlot(500))
	require.ErrorIs(t, err, sample.ErrInvalidMetadata)

	dup, err := f.lib.Duplicate(ctx, id)
	require.NoError(t, err)
	assert.NotEqual(t, id, dup.Container.ID())
	assert.Equal(t, "kick (copy)", dup.Container.Metadata().Name)
	assert.Len(t, f.lib.List(), 2)

	_, err = f.lib.Update(ctx, "missing", sample.SetName("x"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDelete_RemovesSourceWhenUnused(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t, storage.NewMemory(), nil)
	e, err := f.lib.Import(ctx, "kick", halfSecond, nil)
	require.NoError(t, err)
	dup, err := f.lib.Duplicate(ctx, e.Container.ID())
	require.NoError(t, err)
	src := e.Container.Metadata().SourceFileID

	require.NoError(t, f.lib.Delete(ctx, e.Container.ID()))
	ok, err := f.sources.Exists(ctx, src)
	require.NoError(t, err)
	assert.True(t, ok, "duplicate still uses the source")

	err = f.lib.Delete(ctx, dup.Container.ID(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
	ok, err = f.sources.Exists(ctx, src)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, f.lib.List())
}

func TestPluginFailureFlagsSamples(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t, storage.NewMemory(), nil)
	plain, err := f.lib.Import(ctx, "plain", halfSecond, nil)
	require.NoError(t, err)
	e, err := f.lib.Import(ctx, "chain", halfSecond, nil)
	require.NoError(t, err)
	e, err = f.lib.Update(ctx, e.Container.ID(),
		sample.AddPlugin("other.js", nil), sample.SetPluginBypassed(0, true), sample.AddPlugin("gain.js", map[string]float64{"gain": 1}))
	require.NoError(t, err)
	require.Equal(t, pipeline.NoFailedPlugin, e.Info.FailedPluginIndex)

	f.lib.onPluginError("gain.js", errors.New("crashed"))

	got, err := f.lib.Get(e.Container.ID())
	require.NoError(t, err)
	assert.Equal(t, 1, got.Info.FailedPluginIndex)
	assert.Same(t, e.Container, got.Container)

	untouched, err := f.lib.Get(plain.Container.ID())
	require.NoError(t, err)
	assert.Same(t, plain, untouched)
}

func TestReinstalledPluginClearsFlag(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t, storage.NewMemory(), nil)
	e, err := f.lib.Import(ctx, "chain", halfSecond, nil)
	require.NoError(t, err)
	e, err = f.lib.Update(ctx, e.Container.ID(), sample.AddPlugin("gain.js", map[string]float64{"gain": 1}))
	require.NoError(t, err)
	id := e.Container.ID()

	f.lib.onPluginError("gain.js", errors.New("crashed"))
	flagged, err := f.lib.Get(id)
	require.NoError(t, err)
	require.Equal(t, 0, flagged.Info.FailedPluginIndex)

	f.sandbox.Remove("gain.js")
	_, err = f.sandbox.Install(ctx, "gain.js", "gain")
	require.NoError(t, err)

	got, err := f.lib.Get(id)
	require.NoError(t, err)
	assert.Equal(t, pipeline.NoFailedPlugin, got.Info.FailedPluginIndex)
	assert.Same(t, e.Container, got.Container)

	stored, ok, err := f.lib.cache.Load(ctx, e.Container)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, pipeline.NoFailedPlugin, stored.Info.FailedPluginIndex)

	f.lib.onPluginError("gain.js", errors.New("crashed again"))
	_, err = f.sandbox.ReplaceSource(ctx, "gain.js", "gain")
	require.NoError(t, err)
	got, err = f.lib.Get(id)
	require.NoError(t, err)
	assert.Equal(t, pipeline.NoFailedPlugin, got.Info.FailedPluginIndex, "replaced source re-renders too")
}

func TestLoad_ClearsStaleFlags(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()

	first := newFixture(t, store, nil)
	e, err := first.lib.Import(ctx, "chain", halfSecond, nil)
	require.NoError(t, err)
	e, err = first.lib.Update(ctx, e.Container.ID(), sample.AddPlugin("gain.js", map[string]float64{"gain": 1}))
	require.NoError(t, err)
	first.lib.onPluginError("gain.js", errors.New("crashed"))

	stored, ok, err := first.lib.cache.Load(ctx, e.Container)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0, stored.Info.FailedPluginIndex)

	second := newFixture(t, store, nil)
	got, err := second.lib.Get(e.Container.ID())
	require.NoError(t, err)
	assert.Equal(t, pipeline.NoFailedPlugin, got.Info.FailedPluginIndex)
}

func TestTabsFollowEachOther(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := storage.NewMemory()
	hub := tabsync.NewHub(logger.Discard(), nil)
	tabA, tabB := hub.Tab(), hub.Tab()
	t.Cleanup(func() {
		_ = tabA.Close()
		_ = tabB.Close()
	})

	a := newFixture(t, store, tabA)
	b := newFixture(t, store, tabB)

	e, err := a.lib.Import(ctx, "kick", halfSecond, nil)
	require.NoError(t, err)
	id := e.Container.ID()

	require.Eventually(t, func() bool {
		got, err := b.lib.Get(id)
		return err == nil && got.Info.Duration > 0
	}, 2*time.Second, 5*time.Millisecond)

	_, err = a.lib.Update(ctx, id, sample.SetName("renamed"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, err := b.lib.Get(id)
		return err == nil && got.Container.Metadata().Name == "renamed"
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, a.lib.Delete(ctx, id))
	require.Eventually(t, func() bool {
		_, err := b.lib.Get(id)
		return errors.Is(err, ErrNotFound)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestExportImportZip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := newFixture(t, storage.NewMemory(), nil)
	src.mock.RegisterResponder(http.MethodGet, "https://samples.test/snare.wav",
		httpmock.NewBytesResponder(http.StatusOK, halfSecond))

	kick, err := src.lib.Import(ctx, "kick", halfSecond, &sample.UserFileInfo{Type: "audio/aiff", Ext: ".aif"})
	require.NoError(t, err)
	kick, err = src.lib.Update(ctx, kick.Container.ID(), sample.SetSlot(12), sample.SetQualityBitDepth(8))
	require.NoError(t, err)
	snare, err := src.lib.ImportExternal(ctx, "snare", "https://samples.test/snare.wav")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, src.lib.Export(ctx, &buf))
	data := buf.Bytes()

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var names []string
	for _, zf := range zr.File {
		names = append(names, zf.Name)
	}
	kickFile := path.Join(ArchiveSamples, "kick - "+kick.Container.Metadata().SourceFileID+".aif")
	assert.ElementsMatch(t, []string{ArchiveMetadata, kickFile}, names)

	index, err := readIndex(zr)
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(index.Samples[kick.Container.ID()], &doc))
	var trim map[string]any
	require.NoError(t, json.Unmarshal(doc["trim"], &trim))
	assert.Contains(t, trim, "frames")
	assert.NotContains(t, trim, "waveformPeaks")

	listed, err := ReadArchive(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	dst := newFixture(t, storage.NewMemory(), nil)
	dst.mock.RegisterResponder(http.MethodGet, "https://samples.test/snare.wav",
		httpmock.NewBytesResponder(http.StatusOK, halfSecond))

	res, err := dst.lib.ImportZip(ctx, bytes.NewReader(data), int64(len(data)), kick.Container.ID(), snare.Container.ID(), "unknown")
	require.NoError(t, err)
	assert.Len(t, res.Imported, 2)
	assert.Contains(t, res.Failed, "unknown")

	got, err := dst.lib.Get(kick.Container.ID())
	require.NoError(t, err)
	m := got.Container.Metadata()
	assert.Equal(t, 12, m.SlotNumber)
	assert.Equal(t, 8, m.QualityBitDepth)
	assert.NotEmpty(t, m.Trim.WaveformPeaks.Positive)
	assert.Equal(t, kick.Container.Metadata().SourceFileID, m.SourceFileID)

	stored, err := dst.sources.Get(ctx, m.SourceFileID)
	require.NoError(t, err)
	assert.Equal(t, halfSecond, stored)
}

func TestImportZip_RejectsOtherZips(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("readme.txt")
	require.NoError(t, err)
	_, err = io.WriteString(w, "hello")
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	f := newFixture(t, storage.NewMemory(), nil)
	_, err = f.lib.ImportZip(context.Background(), bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.ErrorIs(t, err, ErrBadArchive)

	_, err = ReadArchive(bytes.NewReader([]byte("nope")), 4)
	require.ErrorIs(t, err, ErrBadArchive)
}
