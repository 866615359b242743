// SPDX-License-Identifier: EPL-2.0

// Command sampleprep prepares audio samples for transfer to a volca sample.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := &options{}
	err := rootCommand(opts).ExecuteContext(ctx)
	if opts.app != nil {
		if cerr := opts.app.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
