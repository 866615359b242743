// SPDX-License-Identifier: EPL-2.0

package transfer

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ik5/sampleprep/internal/logger"
	"github.com/ik5/sampleprep/internal/pipeline"
	"github.com/ik5/sampleprep/internal/sample"
	"github.com/ik5/sampleprep/internal/storage"
)

type allSources struct{}

func (allSources) Exists(context.Context, string) (bool, error) { return true, nil }
func (allSources) Remove(context.Context, string) error { return nil }

func newSamples(t *testing.T, names ...string) []*sample.Container {
	t.Helper()
	ctx := context.Background()
	store := sample.NewStore(storage.NewMemory().Collection(storage.SampleMetadata), allSources{}, logger.Discard())

	out := make([]*sample.Container, 0, len(names))
	for i, n := range names {
		c, err := store.Create(ctx, sample.NewParams{Name: n, SourceFileID: "src-" + n, SlotNumber: i})
		require.NoError(t, err)
		out = append(out, c)
	}
	return out
}

// nameRenderer returns the sample name as its WAV. Names in broken fail
// with a plugin error unless plugins are skipped.
type nameRenderer struct {
	broken    map[string]bool
	delay     time.Duration
	fallbacks atomic.Int32
}

func (r *nameRenderer) Render(ctx context.Context, m sample.Metadata, opts ...pipeline.Option) (*pipeline.Result, error) {
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if len(opts) > 0 {
		r.fallbacks.Add(1)
		return &pipeline.Result{WAV: []byte(m.Name + "-dry")}, nil
	}
	if r.broken[m.Name] {
		return nil, &pipeline.PluginRunError{Index: 0, Plugin: "x.js", Err: errors.New("boom")}
	}
	return &pipeline.Result{WAV: []byte(m.Name)}, nil
}

type fakeWork struct {
	progress  atomic.Uint64
	done      chan struct{}
	cancelled atomic.Bool
	once      sync.Once
	res       Result
	err       error
}

func newFakeWork() *fakeWork { return &fakeWork{done: make(chan struct{})} }

func (w *fakeWork) set(p float64) { w.progress.Store(math.Float64bits(p)) }
func (w *fakeWork) Progress() float64 { return math.Float64frombits(w.progress.Load()) }
func (w *fakeWork) Done() <-chan struct{} { return w.done }
func (w *fakeWork) Result() (Result, error) { return w.res, w.err }

func (w *fakeWork) Cancel() {
	w.cancelled.Store(true)
	w.finish(Result{}, context.Canceled)
}

func (w *fakeWork) finish(res Result, err error) {
	w.once.Do(func() {
		w.res, w.err = res, err
		close(w.done)
	})
}

type fakeEncoder struct {
	mu      sync.Mutex
	work    *fakeWork
	got     []SampleData
	deleted []int
	started chan struct{}
}

func newFakeEncoder() *fakeEncoder {
	return &fakeEncoder{work: newFakeWork(), started: make(chan struct{})}
}

func (e *fakeEncoder) Start(_ context.Context, samples []SampleData) (Work, error) {
	e.mu.Lock()
	e.got = samples
	e.mu.Unlock()
	close(e.started)
	return e.work, nil
}

func (e *fakeEncoder) DeleteBuffer(_ context.Context, slots []int) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deleted = slots
	return Result{Buffer: []byte{0xde, 0x1e}}, nil
}

func TestBuild_OrderAndProgress(t *testing.T) {
	t.Parallel()

	enc := newFakeEncoder()
	b := NewBuilder(&nameRenderer{delay: time.Millisecond}, enc, time.Millisecond, 2, logger.Discard(), nil)

	var mu sync.Mutex
	var seen []float64
	job := b.Build(context.Background(), newSamples(t, "a", "b", "c", "d"), func(p float64) {
		mu.Lock()
		seen = append(seen, p)
		mu.Unlock()
	})

	<-enc.started
	enc.work.set(0.5)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, p := range seen {
			if p == 0.5 {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)

	want := Result{Buffer: []byte{1, 2, 3}, DataStartPoints: []int{0, 2}}
	enc.work.finish(want, nil)

	res, err := job.Wait()
	require.NoError(t, err)
	assert.Equal(t, want, res)

	enc.mu.Lock()
	defer enc.mu.Unlock()
	require.Len(t, enc.got, 4)
	for i, name := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, name, string(enc.got[i].WAV))
		assert.Equal(t, i, enc.got[i].SlotNumber)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1.0, seen[len(seen)-1])
}

func TestBuild_CancelStopsEncoder(t *testing.T) {
	t.Parallel()

	enc := newFakeEncoder()
	b := NewBuilder(&nameRenderer{}, enc, time.Millisecond, 0, logger.Discard(), nil)

	job := b.Build(context.Background(), newSamples(t, "a"), nil)
	<-enc.started
	job.Cancel()

	res, err := job.Wait()
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, res.Buffer)
	assert.True(t, enc.work.cancelled.Load())
}

func TestBuild_CancelDuringRender(t *testing.T) {
	t.Parallel()

	enc := newFakeEncoder()
	b := NewBuilder(&nameRenderer{delay: time.Hour}, enc, 0, 0, logger.Discard(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	job := b.Build(ctx, newSamples(t, "a", "b"), nil)
	cancel()

	_, err := job.Wait()
	require.ErrorIs(t, err, context.Canceled)
	select {
	case <-enc.started:
		t.Fatal("encoder started after cancel")
	default:
	}
}

func TestBuild_FallsBackWithoutPlugins(t *testing.T) {
	t.Parallel()

	enc := newFakeEncoder()
	r := &nameRenderer{broken: map[string]bool{"b": true}}
	b := NewBuilder(r, enc, 0, 0, logger.Discard(), nil)

	job := b.Build(context.Background(), newSamples(t, "a", "b"), nil)
	<-enc.started
	enc.work.finish(Result{Buffer: []byte{1}}, nil)

	_, err := job.Wait()
	require.NoError(t, err)
	assert.EqualValues(t, 1, r.fallbacks.Load())

	enc.mu.Lock()
	defer enc.mu.Unlock()
	assert.Equal(t, "b-dry", string(enc.got[1].WAV))
}

func TestBuild_EncoderError(t *testing.T) {
	t.Parallel()

	enc := newFakeEncoder()
	b := NewBuilder(&nameRenderer{}, enc, 0, 0, logger.Discard(), nil)

	job := b.Build(context.Background(), newSamples(t, "a"), nil)
	<-enc.started
	boom := errors.New("device busy")
	enc.work.finish(Result{}, boom)

	_, err := job.Wait()
	require.ErrorIs(t, err, boom)
}

func TestDeleteBuffer_ValidatesSlots(t *testing.T) {
	t.Parallel()

	enc := newFakeEncoder()
	b := NewBuilder(&nameRenderer{}, enc, 0, 0, logger.Discard(), nil)

	_, err := b.DeleteBuffer(context.Background(), []int{3, sample.MaxSlot + 1})
	require.Error(t, err)
	assert.Nil(t, enc.deleted)

	res, err := b.DeleteBuffer(context.Background(), []int{0, 3})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Buffer)
	assert.Equal(t, []int{0, 3}, enc.deleted)
}
