// SPDX-License-Identifier: EPL-2.0

package transfer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ik5/sampleprep/internal/logger"
)

// ExecEncoder runs an external encoder command per job. The job is written
// to its stdin as JSON and the finished stream is read from stdout. On
// stderr the command reports
//
//	progress <bytes> <total>
//	starts <offset> <offset> ...
//
// lines; anything else there is logged.
type ExecEncoder struct {
	Command string
	Args    []string
	Log     logger.Logger
}

type execJob struct {
	Samples []SampleData `json:"samples,omitempty"`
	Delete  []int        `json:"delete,omitempty"`
}

func (e *ExecEncoder) Start(ctx context.Context, samples []SampleData) (Work, error) {
	return e.start(ctx, execJob{Samples: samples})
}

func (e *ExecEncoder) DeleteBuffer(ctx context.Context, slots []int) (Result, error) {
	w, err := e.start(ctx, execJob{Delete: slots})
	if err != nil {
		return Result{}, err
	}
	select {
	case <-w.Done():
	case <-ctx.Done():
		w.Cancel()
		<-w.Done()
		return Result{}, ctx.Err()
	}
	return w.Result()
}

func (e *ExecEncoder) start(ctx context.Context, job execJob) (*execWork, error) {
	if e.Command == "" {
		return nil, errors.New("no encoder command configured")
	}
	input, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}

	log := e.Log
	if log == nil {
		log = logger.Discard()
	}

	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cmd := exec.CommandContext(wctx, e.Command, e.Args...) //nolint:gosec // command comes from configuration
	cmd.Stdin = bytes.NewReader(input)

	w := &execWork{cancel: cancel, done: make(chan struct{}), log: log}
	cmd.Stdout = &w.stdout

	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("starting encoder: %w", err)
	}

	go w.run(cmd, stderr)
	return w, nil
}

type execWork struct {
	cancel context.CancelFunc
	done   chan struct{}
	log    logger.Logger

	progress  atomic.Uint64 // float64 bits
	cancelled atomic.Bool

	stdout bytes.Buffer

	mu     sync.Mutex
	starts []int
	res    Result
	err    error
}

func (w *execWork) Progress() float64 { return math.Float64frombits(w.progress.Load()) }

func (w *execWork) Cancel() {
	w.cancelled.Store(true)
	w.cancel()
}

func (w *execWork) Done() <-chan struct{} { return w.done }

func (w *execWork) Result() (Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.res, w.err
}

func (w *execWork) run(cmd *exec.Cmd, stderr io.Reader) {
	defer close(w.done)
	defer w.cancel()

	sc := bufio.NewScanner(stderr)
	for sc.Scan() {
		w.parse(sc.Text())
	}

	err := cmd.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case w.cancelled.Load():
		w.err = context.Canceled
	case err != nil:
		w.err = fmt.Errorf("encoder failed: %w", err)
	default:
		w.res = Result{Buffer: w.stdout.Bytes(), DataStartPoints: w.starts}
		w.progress.Store(math.Float64bits(1))
	}
}

func (w *execWork) parse(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	switch fields[0] {
	case "progress":
		if len(fields) != 3 {
			break
		}
		done, err1 := strconv.ParseFloat(fields[1], 64)
		total, err2 := strconv.ParseFloat(fields[2], 64)
		if err1 != nil || err2 != nil || total <= 0 {
			break
		}
		w.progress.Store(math.Float64bits(min(1, done/total)))
		return
	case "starts":
		starts := make([]int, 0, len(fields)-1)
		for _, f := range fields[1:] {
			n, err := strconv.Atoi(f)
			if err != nil {
				w.log.Warn("bad data start point from encoder", logger.String("value", f))
				return
			}
			starts = append(starts, n)
		}
		w.mu.Lock()
		w.starts = starts
		w.mu.Unlock()
		return
	}
	w.log.Info("encoder", logger.String("stderr", line))
}
