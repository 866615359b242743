// SPDX-License-Identifier: EPL-2.0

package sandbox

import "context"

// Context is one isolated plugin runtime.
type Context interface {
	// Send delivers a request to the runtime.
	Send(m Message) error
	// Messages yields everything the runtime writes. It is closed when the
	// runtime exits.
	Messages() <-chan Message
	// Close tears the runtime down and waits for it to exit.
	Close() error
}

// Launcher starts plugin runtimes. name is informational.
type Launcher interface {
	Launch(ctx context.Context, name string) (Context, error)
}
