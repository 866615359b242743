// SPDX-License-Identifier: EPL-2.0

package tabsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ik5/sampleprep/internal/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestHub_DeleteReachesOtherTab(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	hub := NewHub(logger.Discard(), nil)
	a, b := hub.Tab(), hub.Tab()
	defer a.Close()
	defer b.Close()

	var onB, onA, wrongType recorder
	b.Subscribe(DataSample, onB.handle)
	a.Subscribe(DataSample, onA.handle)
	b.Subscribe(DataPlugin, wrongType.handle)

	before := time.Now().UnixMilli()
	require.NoError(t, a.Publish(ctx, DataSample, []string{"s1"}, ActionDelete))

	require.Eventually(t, func() bool { return len(onB.snapshot()) > 0 }, time.Second, time.Millisecond)
	// give any duplicate a chance to show up
	time.Sleep(20 * time.Millisecond)

	got := onB.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, DataSample, got[0].DataType)
	assert.Equal(t, ActionDelete, got[0].Action)
	assert.Equal(t, []string{"s1"}, got[0].IDs)
	assert.GreaterOrEqual(t, got[0].When, before)
	assert.Equal(t, a.Origin(), got[0].Origin)

	assert.Empty(t, onA.snapshot(), "a tab does not hear itself")
	assert.Empty(t, wrongType.snapshot())
}

func TestHub_UnsubscribeAndClose(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	hub := NewHub(logger.Discard(), nil)
	a, b := hub.Tab(), hub.Tab()
	defer a.Close()

	var r recorder
	unsubscribe := b.Subscribe(DataCache, r.handle)
	unsubscribe()

	require.NoError(t, a.Publish(ctx, DataCache, []string{"x"}, ActionEdit))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, r.snapshot())

	assert.Equal(t, 2, hub.TabCount())
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.Equal(t, 1, hub.TabCount())
}

func TestFileBus_CrossProcess(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	a, err := NewFileBus(dir, logger.Discard(), nil)
	require.NoError(t, err)
	defer a.Close()
	b, err := NewFileBus(dir, logger.Discard(), nil)
	require.NoError(t, err)
	defer b.Close()

	var onA, onB recorder
	a.Subscribe(DataPlugin, onA.handle)
	b.Subscribe(DataPlugin, onB.handle)

	require.NoError(t, a.Publish(ctx, DataPlugin, []string{"gain.js"}, ActionCreate))

	require.Eventually(t, func() bool { return len(onB.snapshot()) > 0 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	got := onB.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, []string{"gain.js"}, got[0].IDs)
	assert.Equal(t, ActionCreate, got[0].Action)
	assert.Empty(t, onA.snapshot())
}
