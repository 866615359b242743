// SPDX-License-Identifier: EPL-2.0

// Package sandboxtest provides an in-process plugin launcher that speaks the
// sandbox protocol with Go functions standing in for plugin code.
package sandboxtest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ik5/sampleprep/internal/sandbox"
)

// ErrInvalidParams makes a fake plugin answer with the non-fatal
// invalid-parameters error.
var ErrInvalidParams = errors.New(sandbox.InvalidParametersMessage)

type TransformFunc func(samples []float32, sampleRate int, params map[string]float64) ([]float32, error)

// Plugin is the behaviour a fake context adopts once a matching source is
// installed into it.
type Plugin struct {
	Params    map[string]sandbox.ParamDef
	Transform TransformFunc

	InstallError  string
	HangInstall   bool
	HangTransform bool
	NoAck         bool
	Delay         time.Duration
}

// Gain multiplies every sample by params["gain"] (default 1).
func Gain() Plugin {
	return Plugin{
		Params: map[string]sandbox.ParamDef{"gain": {Value: 1, Min: 0.1, Max: 5}},
		Transform: func(s []float32, _ int, p map[string]float64) ([]float32, error) {
			g, ok := p["gain"]
			if !ok {
				g = 1
			}
			if g < 0.1 || g > 5 {
				return nil, ErrInvalidParams
			}
			out := make([]float32, len(s))
			for i, v := range s {
				out[i] = v * float32(g)
			}
			return out, nil
		},
	}
}

// Failing returns a plugin whose every transform crashes.
func Failing() Plugin {
	return Plugin{Transform: func([]float32, int, map[string]float64) ([]float32, error) {
		return nil, errors.New("plugin threw")
	}}
}

type Event struct {
	Plugin string
	Start  bool
	At     time.Time
}

type Launcher struct {
	// NoReady launches contexts that never load their runtime.
	NoReady   bool
	LaunchErr error

	mu       sync.Mutex
	plugins  map[string]Plugin
	launched int
	active   int
	events   []Event
	calls    map[string]int
}

func NewLauncher() *Launcher {
	return &Launcher{plugins: map[string]Plugin{}, calls: map[string]int{}}
}

// Register binds plugin source text to a behaviour.
func (l *Launcher) Register(source string, p Plugin) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.plugins[source] = p
}

func (l *Launcher) Launch(ctx context.Context, name string) (sandbox.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	if l.LaunchErr != nil {
		l.mu.Unlock()
		return nil, l.LaunchErr
	}
	l.launched++
	l.active++
	noReady := l.NoReady
	l.mu.Unlock()

	c := &fakeContext{
		l:        l,
		name:     name,
		requests: make(chan sandbox.Message, 16),
		msgs:     make(chan sandbox.Message),
		closing:  make(chan struct{}),
	}
	c.wg.Go(func() { c.run(!noReady) })
	return c, nil
}

// Launched counts every context ever started.
func (l *Launcher) Launched() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launched
}

// Active counts contexts not yet closed.
func (l *Launcher) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Calls counts transform requests a named plugin received.
func (l *Launcher) Calls(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[name]
}

// Events returns transform start/end marks in the order they happened.
func (l *Launcher) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func (l *Launcher) mark(name string, start bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, Event{Plugin: name, Start: start, At: time.Now()})
	if start {
		l.calls[name]++
	}
}

func (l *Launcher) lookup(source string) (Plugin, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.plugins[source]
	return p, ok
}

type fakeContext struct {
	l    *Launcher
	name string

	requests chan sandbox.Message
	msgs     chan sandbox.Message
	closing  chan struct{}
	once     sync.Once
	wg       sync.WaitGroup

	plugin    Plugin
	installed bool
}

func (c *fakeContext) Messages() <-chan sandbox.Message { return c.msgs }

func (c *fakeContext) Send(m sandbox.Message) error {
	select {
	case <-c.closing:
		return errors.New("context closed")
	case c.requests <- m:
		return nil
	}
}

func (c *fakeContext) Close() error {
	c.once.Do(func() {
		close(c.closing)
		c.wg.Wait()
		c.l.mu.Lock()
		c.l.active--
		c.l.mu.Unlock()
	})
	return nil
}

func (c *fakeContext) emit(m sandbox.Message) bool {
	select {
	case c.msgs <- m:
		return true
	case <-c.closing:
		return false
	}
}

func (c *fakeContext) run(ready bool) {
	defer close(c.msgs)

	if ready && !c.emit(sandbox.Message{MessageType: sandbox.TypeReady}) {
		return
	}

	for {
		select {
		case <-c.closing:
			return
		case req := <-c.requests:
			if !c.handle(req) {
				return
			}
		}
	}
}

func (c *fakeContext) handle(req sandbox.Message) bool {
	resp := sandbox.Message{MessageType: req.MessageType, MessageID: req.MessageID}

	switch req.MessageType {
	case sandbox.TypeInstall:
		p, ok := c.l.lookup(req.PluginSource)
		if !ok || !p.NoAck {
			if !c.emit(sandbox.Message{MessageType: sandbox.TypeAck, MessageID: req.MessageID}) {
				return false
			}
		}
		switch {
		case !ok:
			resp.Error = "SyntaxError: unknown plugin source"
		case p.HangInstall:
			<-c.closing
			return false
		case p.InstallError != "":
			resp.Error = p.InstallError
		default:
			c.plugin, c.installed = p, true
			resp.ParamDefs = p.Params
		}

	case sandbox.TypeTransform:
		if !c.plugin.NoAck {
			if !c.emit(sandbox.Message{MessageType: sandbox.TypeAck, MessageID: req.MessageID}) {
				return false
			}
		}
		c.l.mark(c.name, true)

		if c.plugin.HangTransform {
			<-c.closing
			return false
		}
		if c.plugin.Delay > 0 {
			select {
			case <-time.After(c.plugin.Delay):
			case <-c.closing:
				return false
			}
		}

		samples, err := sandbox.DecodeSamples(req.AudioData)
		if err == nil && c.installed && c.plugin.Transform != nil {
			samples, err = c.plugin.Transform(samples, req.SampleRate, req.Params)
		} else if err == nil {
			err = errors.New("no plugin loaded")
		}
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.AudioData = sandbox.EncodeSamples(samples)
		}
		// marked before responding so the host cannot start another call first
		c.l.mark(c.name, false)

	default:
		resp.Error = "unknown message type"
	}

	return c.emit(resp)
}
