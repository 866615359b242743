// SPDX-License-Identifier: EPL-2.0

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/ik5/sampleprep/internal/logger"
	"github.com/ik5/sampleprep/internal/metrics"
)

type Status string

const (
	StatusInstalled Status = "installed"
	StatusBroken    Status = "broken"
	StatusMissing   Status = "missing"
)

type Config struct {
	// AckTimeout bounds how long a context may take to signal readiness
	// and to acknowledge each request.
	AckTimeout     time.Duration
	InstallTimeout time.Duration
	// A transform may take RunTimeoutPerSecond per second of audio, but
	// never less than MinRunTimeout.
	RunTimeoutPerSecond time.Duration
	MinRunTimeout       time.Duration
}

func DefaultConfig() Config {
	return Config{
		AckTimeout:          2 * time.Second,
		InstallTimeout:      5 * time.Second,
		RunTimeoutPerSecond: 5 * time.Second,
		MinRunTimeout:       time.Second,
	}
}

func (c Config) runTimeout(samples, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return c.MinRunTimeout
	}
	seconds := float64(samples) / float64(sampleRate)
	return max(c.MinRunTimeout, time.Duration(seconds*float64(c.RunTimeoutPerSecond)))
}

// ErrorFunc is notified when a plugin is torn down after a fatal failure.
type ErrorFunc func(plugin string, err error)

// InstallFunc is notified when a plugin starts running, freshly installed
// or with replaced source.
type InstallFunc func(plugin string)

type plugin struct {
	name      string
	ctx       Context
	params    map[string]ParamDef
	closeOnce sync.Once
}

// Sandbox owns one isolated context per installed plugin. All transform
// calls, across every plugin, run one at a time.
type Sandbox struct {
	launcher Launcher
	cfg      Config
	log      logger.Logger
	metrics  *metrics.Metrics

	gate *semaphore.Weighted

	mu        sync.Mutex
	plugins   map[string]*plugin
	sources   map[string]string
	listeners map[uint64]ErrorFunc
	onInstall map[uint64]InstallFunc
	nextID    uint64
	closed    bool
}

func New(launcher Launcher, cfg Config, log logger.Logger, m *metrics.Metrics) *Sandbox {
	def := DefaultConfig()
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = def.AckTimeout
	}
	if cfg.InstallTimeout <= 0 {
		cfg.InstallTimeout = def.InstallTimeout
	}
	if cfg.RunTimeoutPerSecond <= 0 {
		cfg.RunTimeoutPerSecond = def.RunTimeoutPerSecond
	}
	if cfg.MinRunTimeout <= 0 {
		cfg.MinRunTimeout = def.MinRunTimeout
	}

	return &Sandbox{
		launcher:  launcher,
		cfg:       cfg,
		log:       log.Module("sandbox"),
		metrics:   m,
		gate:      semaphore.NewWeighted(1),
		plugins:   make(map[string]*plugin),
		sources:   make(map[string]string),
		listeners: make(map[uint64]ErrorFunc),
		onInstall: make(map[uint64]InstallFunc),
	}
}

// Install starts a context for name and loads source into it. On failure
// the plugin is left broken and can be retried with Reinit.
func (s *Sandbox) Install(ctx context.Context, name, source string) (map[string]ParamDef, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if _, ok := s.plugins[name]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyInstalled, name)
	}
	s.sources[name] = source
	s.mu.Unlock()

	p, err := s.start(ctx, name, source)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed || s.plugins[name] != nil {
		s.mu.Unlock()
		s.teardown(p)
		if s.closed {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("%w: %s", ErrAlreadyInstalled, name)
	}
	s.plugins[name] = p
	s.mu.Unlock()

	s.log.Info("plugin installed", logger.String("plugin", name), logger.Int("params", len(p.params)))
	s.notifyInstalled(name)
	return maps.Clone(p.params), nil
}

// Reinit installs a broken plugin again from its last known source.
func (s *Sandbox) Reinit(ctx context.Context, name string) (map[string]ParamDef, error) {
	s.mu.Lock()
	source, ok := s.sources[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
	}
	return s.Install(ctx, name, source)
}

// ReplaceSource loads source into a fresh context and only then swaps it in
// for the live one. A failed replacement leaves the old plugin running.
func (s *Sandbox) ReplaceSource(ctx context.Context, name, source string) (map[string]ParamDef, error) {
	s.mu.Lock()
	_, ok := s.plugins[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotInstalled, name)
	}

	next, err := s.start(ctx, name, source)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.teardown(next)
		return nil, ErrClosed
	}
	old := s.plugins[name]
	s.plugins[name] = next
	s.sources[name] = source
	s.mu.Unlock()

	if old != nil {
		s.teardown(old)
	}

	s.log.Info("plugin source replaced", logger.String("plugin", name))
	s.notifyInstalled(name)
	return maps.Clone(next.params), nil
}

// Remove tears down name and forgets it.
func (s *Sandbox) Remove(name string) {
	s.mu.Lock()
	p := s.plugins[name]
	delete(s.plugins, name)
	delete(s.sources, name)
	s.mu.Unlock()

	if p != nil {
		s.teardown(p)
		s.log.Info("plugin removed", logger.String("plugin", name))
	}
}

func (s *Sandbox) Status(name string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.plugins[name]; ok {
		return StatusInstalled
	}
	if _, ok := s.sources[name]; ok {
		return StatusBroken
	}
	return StatusMissing
}

// Params returns the parameter definitions an installed plugin declared.
func (s *Sandbox) Params(name string) (map[string]ParamDef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.plugins[name]
	if !ok {
		return nil, false
	}
	return maps.Clone(p.params), true
}

// Installed lists installed plugin names in order.
func (s *Sandbox) Installed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.plugins))
}

// OnError registers fn for fatal plugin failures and returns a function
// that unregisters it.
func (s *Sandbox) OnError(fn ErrorFunc) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// OnInstall registers fn for successful installs and source replacements
// and returns a function that unregisters it. fn runs on the installing
// goroutine.
func (s *Sandbox) OnInstall(fn InstallFunc) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.onInstall[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.onInstall, id)
	}
}

func (s *Sandbox) notifyInstalled(name string) {
	s.mu.Lock()
	listeners := slices.Collect(maps.Values(s.onInstall))
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(name)
	}
}

// Transform runs samples through an installed plugin. It waits for every
// other transform in the sandbox to finish first. If ctx ends while the
// call is in flight, Transform returns ctx's error at once; the call itself
// is not interrupted and keeps the gate until the plugin answers or times
// out, and its result is dropped.
func (s *Sandbox) Transform(ctx context.Context, name string, samples []float32, sampleRate int, params map[string]float64) ([]float32, error) {
	waitStart := time.Now()
	if err := s.gate.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	s.metrics.RecordSandboxWait(time.Since(waitStart))

	type result struct {
		out []float32
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer s.gate.Release(1)
		out, err := s.transform(name, samples, sampleRate, params)
		done <- result{out, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return r.out, nil
	case <-ctx.Done():
		s.log.Debug("caller gave up on in-flight transform", logger.String("plugin", name))
		return nil, ctx.Err()
	}
}

// transform runs one call while the gate is held.
func (s *Sandbox) transform(name string, samples []float32, sampleRate int, params map[string]float64) ([]float32, error) {
	s.mu.Lock()
	p, ok := s.plugins[name]
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotInstalled, name)
	}

	start := time.Now()
	resp, err := s.call(p, Message{
		MessageType: TypeTransform,
		AudioData:   EncodeSamples(samples),
		SampleRate:  sampleRate,
		Params:      params,
	}, s.cfg.runTimeout(len(samples), sampleRate))

	var out []float32
	if err == nil && resp.Error == InvalidParametersMessage {
		s.metrics.RecordPluginCall(name, "transform", metrics.ResultInvalidInput, time.Since(start))
		s.log.Warn("plugin rejected its parameters", logger.String("plugin", name))
		return nil, fmt.Errorf("%s: %w", name, ErrInvalidParameters)
	}
	if err == nil && resp.Error != "" {
		err = pluginError(resp.Error)
	}
	if err == nil {
		out, err = DecodeSamples(resp.AudioData)
	}
	if err != nil {
		s.metrics.RecordPluginCall(name, "transform", metrics.ResultError, time.Since(start))
		return nil, s.fail(p, "transform", err)
	}
	s.metrics.RecordPluginCall(name, "transform", metrics.ResultOK, time.Since(start))
	return out, nil
}

// Close tears down every context. The sandbox cannot be used afterwards.
func (s *Sandbox) Close() error {
	s.mu.Lock()
	s.closed = true
	plugins := slices.Collect(maps.Values(s.plugins))
	clear(s.plugins)
	s.mu.Unlock()

	var errs []error
	for _, p := range plugins {
		if err := s.closeContext(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// start launches a detached context and installs source into it.
func (s *Sandbox) start(ctx context.Context, name, source string) (*plugin, error) {
	start := time.Now()

	c, err := s.launcher.Launch(ctx, name)
	if err != nil {
		s.metrics.RecordPluginCall(name, "install", metrics.ResultError, time.Since(start))
		return nil, &RuntimeError{Plugin: name, Op: "install", Err: err}
	}
	s.metrics.AddSandboxContexts(1)
	p := &plugin{name: name, ctx: c}

	err = s.awaitReady(p)
	var resp Message
	if err == nil {
		resp, err = s.call(p, Message{MessageType: TypeInstall, PluginSource: source}, s.cfg.InstallTimeout)
	}
	if err == nil && resp.Error != "" {
		err = pluginError(resp.Error)
	}
	if err != nil {
		s.teardown(p)
		s.metrics.RecordPluginCall(name, "install", metrics.ResultError, time.Since(start))
		s.log.Error("plugin failed to install", logger.String("plugin", name), logger.Error(err))
		return nil, &RuntimeError{Plugin: name, Op: "install", Err: err}
	}

	p.params = resp.ParamDefs
	if p.params == nil {
		p.params = map[string]ParamDef{}
	}
	s.metrics.RecordPluginCall(name, "install", metrics.ResultOK, time.Since(start))
	return p, nil
}

func (s *Sandbox) awaitReady(p *plugin) error {
	timer := time.NewTimer(s.cfg.AckTimeout)
	defer timer.Stop()

	for {
		select {
		case m, ok := <-p.ctx.Messages():
			if !ok {
				return errContextExit
			}
			if m.MessageType == TypeReady {
				return nil
			}
		case <-timer.C:
			return errNotReady
		}
	}
}

// call posts one request and waits for its response. The context must
// acknowledge within AckTimeout and answer within timeout.
func (s *Sandbox) call(p *plugin, req Message, timeout time.Duration) (Message, error) {
	req.MessageID = uuid.NewString()
	if err := p.ctx.Send(req); err != nil {
		return Message{}, fmt.Errorf("posting %s: %w", req.MessageType, err)
	}

	ack := time.NewTimer(s.cfg.AckTimeout)
	defer ack.Stop()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ackC := ack.C
	for {
		select {
		case m, ok := <-p.ctx.Messages():
			if !ok {
				return Message{}, errContextExit
			}
			if m.MessageID != req.MessageID {
				continue
			}
			switch m.MessageType {
			case TypeAck:
				ackC = nil
			case req.MessageType:
				return m, nil
			}
		case <-ackC:
			return Message{}, errNoAck
		case <-deadline.C:
			return Message{}, errTimeout
		}
	}
}

// fail tears p down and, if it was still the live context for its name,
// marks the plugin broken and notifies listeners.
func (s *Sandbox) fail(p *plugin, op string, cause error) error {
	rerr := &RuntimeError{Plugin: p.name, Op: op, Err: cause}

	s.mu.Lock()
	live := s.plugins[p.name] == p
	if live {
		delete(s.plugins, p.name)
	}
	listeners := slices.Collect(maps.Values(s.listeners))
	s.mu.Unlock()

	s.teardown(p)
	if !live {
		return rerr
	}

	s.log.Error("plugin torn down after failure", logger.String("plugin", p.name), logger.String("op", op), logger.Error(cause))
	for _, fn := range listeners {
		fn(p.name, rerr)
	}
	return rerr
}

func (s *Sandbox) teardown(p *plugin) {
	if err := s.closeContext(p); err != nil {
		s.log.Warn("closing plugin context", logger.String("plugin", p.name), logger.Error(err))
	}
}

// closeContext closes p's context the first time it is called for p.
// Remove and Close may race a failing call tearing down the same plugin.
func (s *Sandbox) closeContext(p *plugin) error {
	var err error
	p.closeOnce.Do(func() {
		err = p.ctx.Close()
		s.metrics.AddSandboxContexts(-1)
	})
	return err
}
