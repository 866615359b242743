// SPDX-License-Identifier: EPL-2.0

package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ik5/sampleprep/internal/logger"
)

const helperFlag = "--encoder-helper"

func isHelper() bool { return slices.Contains(os.Args, helperFlag) }

// runHelperEncoder stands in for the encoder: it concatenates the WAVs,
// reports progress per sample and hangs forever on a job with slot 99.
func runHelperEncoder() {
	var job execJob
	if err := json.NewDecoder(os.Stdin).Decode(&job); err != nil {
		fmt.Fprintln(os.Stderr, "bad job:", err)
		os.Exit(2)
	}

	if len(job.Delete) > 0 {
		_, _ = os.Stdout.Write([]byte(fmt.Sprint(job.Delete)))
		return
	}

	total := 0
	for _, s := range job.Samples {
		total += len(s.WAV)
	}
	done, starts := 0, ""
	for _, s := range job.Samples {
		if s.SlotNumber == 99 {
			time.Sleep(time.Hour)
		}
		starts += fmt.Sprintf(" %d", done)
		_, _ = os.Stdout.Write(s.WAV)
		done += len(s.WAV)
		fmt.Fprintf(os.Stderr, "progress %d %d\n", done, total)
	}
	fmt.Fprintln(os.Stderr, "starts"+starts)
	fmt.Fprintln(os.Stderr, "finished")
}

func helperEncoder() *ExecEncoder {
	return &ExecEncoder{
		Command: os.Args[0],
		Args:    []string{"-test.run=^$", "--", helperFlag},
		Log:     logger.Discard(),
	}
}

func TestExecEncoder_Start(t *testing.T) {
	t.Parallel()

	w, err := helperEncoder().Start(context.Background(), []SampleData{
		{WAV: []byte("abc"), SlotNumber: 1},
		{WAV: []byte("de"), SlotNumber: 2},
	})
	require.NoError(t, err)

	select {
	case <-w.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("encoder did not finish")
	}

	res, err := w.Result()
	require.NoError(t, err)
	assert.Equal(t, "abcde", string(res.Buffer))
	assert.Equal(t, []int{0, 3}, res.DataStartPoints)
	assert.Equal(t, 1.0, w.Progress())
}

func TestExecEncoder_Cancel(t *testing.T) {
	t.Parallel()

	w, err := helperEncoder().Start(context.Background(), []SampleData{{WAV: []byte("x"), SlotNumber: 99}})
	require.NoError(t, err)

	w.Cancel()
	select {
	case <-w.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("cancel did not stop the encoder")
	}
	_, err = w.Result()
	require.ErrorIs(t, err, context.Canceled)
}

func TestExecEncoder_DeleteBuffer(t *testing.T) {
	t.Parallel()

	res, err := helperEncoder().DeleteBuffer(context.Background(), []int{4, 7})
	require.NoError(t, err)
	assert.Equal(t, "[4 7]", string(res.Buffer))
}

func TestExecEncoder_MissingCommand(t *testing.T) {
	t.Parallel()

	_, err := (&ExecEncoder{Command: "/nonexistent/encoder"}).Start(context.Background(), nil)
	require.Error(t, err)

	_, err = (&ExecEncoder{}).Start(context.Background(), nil)
	require.Error(t, err)
}

func TestExecWork_Parse(t *testing.T) {
	t.Parallel()

	w := &execWork{log: logger.NewTextLogger(io.Discard, 0)}
	w.parse("progress 5 10")
	assert.InDelta(t, 0.5, w.Progress(), 1e-9)
	w.parse("progress 5 0")
	assert.InDelta(t, 0.5, w.Progress(), 1e-9)
	w.parse("starts 0 12 40")
	assert.Equal(t, []int{0, 12, 40}, w.starts)
	w.parse("starts 0 x")
	assert.Equal(t, []int{0, 12, 40}, w.starts)
	w.parse("")
}
