// SPDX-License-Identifier: EPL-2.0

package sourcestore

import (
	"context"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ik5/sampleprep/internal/logger"
	"github.com/ik5/sampleprep/internal/storage"
)

func newStore(t *testing.T, cfg Config) (*Store, storage.Collection) {
	t.Helper()

	blobs := storage.NewMemory().Collection(storage.AudioFileData)
	return New(blobs, cfg, logger.Discard(), nil), blobs
}

func TestIsExternal(t *testing.T) {
	t.Parallel()

	assert.True(t, IsExternal("https://example.com/kick.wav"))
	assert.True(t, IsExternal("factory/snare.wav"))
	assert.False(t, IsExternal("0b7e7f3a-8d43-4a5e-9a55-3c1f7e0e8a10"))
}

func TestStore_SetGetRemove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, blobs := newStore(t, Config{})

	id, err := s.Set(ctx, []byte("RIFF...."))
	require.NoError(t, err)
	assert.False(t, IsExternal(id))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFF...."), got)

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, keys)

	require.NoError(t, s.Remove(ctx, id))
	_, err = s.Get(ctx, id)
	assert.ErrorIs(t, err, ErrMissingSource)

	_, err = blobs.Get(ctx, id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_PutKeepsID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, blobs := newStore(t, Config{})
	require.NoError(t, s.Put(ctx, "archived-id", []byte("data")))

	got, err := blobs.Get(ctx, "archived-id")
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), got)

	require.Error(t, s.Put(ctx, "factory/kick.wav", []byte("data")))
	require.ErrorIs(t, s.Put(ctx, "x", nil), ErrEmptySource)
}

func TestStore_RejectsEmpty(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t, Config{})
	_, err := s.Set(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptySource)
}

func TestStore_ExternalFetchIsCached(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mt := httpmock.NewMockTransport()
	mt.RegisterResponder(http.MethodGet, "https://samples.test/factory/kick.wav",
		httpmock.NewBytesResponder(http.StatusOK, []byte("kick")))

	s, _ := newStore(t, Config{BaseURL: "https://samples.test/", Client: &http.Client{Transport: mt}})

	for range 3 {
		got, err := s.Get(ctx, "factory/kick.wav")
		require.NoError(t, err)
		assert.Equal(t, []byte("kick"), got)
	}

	assert.Equal(t, 1, mt.GetTotalCallCount())

	ok, err := s.Exists(ctx, "factory/kick.wav")
	require.NoError(t, err)
	assert.True(t, ok)

	// external sources are never deleted, only forgotten
	require.NoError(t, s.Remove(ctx, "factory/kick.wav"))
	_, err = s.Get(ctx, "factory/kick.wav")
	require.NoError(t, err)
	assert.Equal(t, 2, mt.GetTotalCallCount())
}

func TestStore_ExternalErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mt := httpmock.NewMockTransport()
	mt.RegisterResponder(http.MethodGet, "https://samples.test/missing.wav",
		httpmock.NewStringResponder(http.StatusNotFound, "nope"))

	s, _ := newStore(t, Config{Client: &http.Client{Transport: mt}})

	_, err := s.Get(ctx, "https://samples.test/missing.wav")
	assert.ErrorIs(t, err, ErrFetchFailed)

	_, err = s.Get(ctx, "relative/without-base.wav")
	assert.ErrorIs(t, err, ErrFetchFailed)
}

func TestStore_RecentCacheBounded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, blobs := newStore(t, Config{MaxCached: 2})

	var ids []string
	for _, b := range []string{"a", "b", "c"} {
		id, err := s.Set(ctx, []byte(b))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	assert.Equal(t, 2, s.recent.Len())

	// delete behind the cache's back: the evicted id must hit storage
	require.NoError(t, blobs.Remove(ctx, ids[0]))
	_, err := s.Get(ctx, ids[0])
	assert.ErrorIs(t, err, ErrMissingSource)

	require.NoError(t, blobs.Remove(ctx, ids[2]))
	got, err := s.Get(ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, []byte("c"), got)
}

func TestStore_Exists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, _ := newStore(t, Config{})
	id, err := s.Set(ctx, []byte("x"))
	require.NoError(t, err)

	ok, err := s.Exists(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, "not-there")
	require.NoError(t, err)
	assert.False(t, ok)
}
