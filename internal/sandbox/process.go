// SPDX-License-Identifier: EPL-2.0

package sandbox

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ik5/sampleprep/internal/logger"
)

const (
	// maxLineSize bounds one protocol message; base64 audio is ~5.3 bytes per sample.
	maxLineSize = 64 << 20
	stderrLimit = 16 << 10
)

// RunnerFile is the name the built-in runner is written under in each
// plugin's work dir.
const RunnerFile = "runner.js"

//go:embed runner.js
var runnerScript []byte

// Runner returns the built-in Node.js plugin runner.
func Runner() []byte { return runnerScript }

// ProcessLauncher runs each plugin in its own OS process speaking the
// line-delimited JSON protocol on stdin and stdout. The process gets an
// empty environment, a private working directory, and its own process
// group.
//
// With no Args the built-in runner is copied into the work dir and passed
// to Command, which must then be a Node.js binary. Relative Args naming
// existing files are made absolute, since the process starts elsewhere.
type ProcessLauncher struct {
	Command string
	Args    []string
	Log     logger.Logger
}

func (l *ProcessLauncher) Launch(ctx context.Context, name string) (Context, error) {
	if l.Command == "" {
		return nil, errors.New("no sandbox command configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "sampleprep-plugin-*")
	if err != nil {
		return nil, fmt.Errorf("creating plugin work dir: %w", err)
	}

	args, err := l.args(dir)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	// the process outlives ctx, so no CommandContext
	cmd := exec.Command(l.Command, args...) //nolint:gosec // command comes from configuration
	cmd.Env = []string{}
	cmd.Dir = dir
	setupProcessGroup(cmd)

	stderr := &tailBuffer{limit: stderrLimit}
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("starting plugin context: %w", err)
	}

	log := l.Log
	if log == nil {
		log = logger.Discard()
	}

	pc := &processContext{
		cmd:     cmd,
		dir:     dir,
		stdin:   stdin,
		stderr:  stderr,
		msgs:    make(chan Message),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		log:     log.With(logger.String("plugin", name), logger.Int("pid", cmd.Process.Pid)),
	}
	go pc.readLoop(stdout)

	return pc, nil
}

func (l *ProcessLauncher) args(dir string) ([]string, error) {
	if len(l.Args) == 0 {
		path := filepath.Join(dir, RunnerFile)
		if err := os.WriteFile(path, runnerScript, 0o600); err != nil {
			return nil, fmt.Errorf("writing plugin runner: %w", err)
		}
		return []string{path}, nil
	}

	args := make([]string, len(l.Args))
	for i, a := range l.Args {
		args[i] = a
		if a == "" || strings.HasPrefix(a, "-") || filepath.IsAbs(a) {
			continue
		}
		if st, err := os.Stat(a); err != nil || st.IsDir() {
			continue
		}
		abs, err := filepath.Abs(a)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", a, err)
		}
		args[i] = abs
	}
	return args, nil
}

type processContext struct {
	cmd    *exec.Cmd
	dir    string
	stderr *tailBuffer
	log    logger.Logger

	sendMu sync.Mutex
	stdin  io.WriteCloser

	msgs      chan Message
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func (p *processContext) Messages() <-chan Message { return p.msgs }

func (p *processContext) Send(m Message) error {
	line, err := json.Marshal(m)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	select {
	case <-p.done:
		return errContextExit
	default:
	}
	_, err = p.stdin.Write(line)
	return err
}

func (p *processContext) readLoop(stdout io.Reader) {
	defer close(p.done)
	defer close(p.msgs)

	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineSize)

	for sc.Scan() {
		var m Message
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			p.log.Warn("discarding malformed message from plugin context", logger.Error(err))
			continue
		}
		select {
		case p.msgs <- m:
		case <-p.closing:
			// drain so the process is never blocked writing
			for sc.Scan() {
			}
		}
	}

	err := p.cmd.Wait()
	if tail := p.stderr.String(); tail != "" || err != nil {
		p.log.Info("plugin context exited", logger.Error(err), logger.String("stderr", tail))
	}
}

func (p *processContext) Close() error {
	p.closeOnce.Do(func() {
		close(p.closing)
		_ = p.stdin.Close()
		if err := killProcessGroup(p.cmd); err != nil {
			p.closeErr = fmt.Errorf("killing plugin context: %w", err)
		}
		<-p.done
		if err := os.RemoveAll(p.dir); err != nil && p.closeErr == nil {
			p.closeErr = err
		}
	})
	return p.closeErr
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, b...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(b), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
