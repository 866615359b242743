// SPDX-License-Identifier: EPL-2.0

package sandbox

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParameters is returned when a plugin rejects its parameters.
	// The plugin stays installed.
	ErrInvalidParameters = errors.New("invalid plugin parameters")

	ErrNotInstalled     = errors.New("plugin is not installed")
	ErrAlreadyInstalled = errors.New("plugin is already installed")
	ErrUnknownPlugin    = errors.New("no source known for plugin")
	ErrClosed           = errors.New("sandbox is closed")

	errNoAck       = errors.New("context did not acknowledge the request")
	errNotReady    = errors.New("context did not signal readiness")
	errTimeout     = errors.New("plugin took too long to respond")
	errContextExit = errors.New("context exited")
)

// RuntimeError reports a fatal plugin failure. The plugin's context has
// been torn down by the time the error is returned.
type RuntimeError struct {
	Plugin string
	Op     string
	Err    error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("plugin %q failed during %s: %v", e.Plugin, e.Op, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// pluginError carries an error string reported by the plugin itself.
type pluginError string

func (e pluginError) Error() string { return string(e) }
