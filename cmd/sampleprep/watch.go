// SPDX-License-Identifier: EPL-2.0

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ik5/sampleprep/internal/tabsync"
)

func watchCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow changes made by other sampleprep instances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := opts.app

			show := func(ev tabsync.Event) {
				fmt.Fprintf(opts.stdout, "%s %s %s %s\n",
					time.UnixMilli(ev.When).Format(time.TimeOnly), ev.DataType, ev.Action, strings.Join(ev.IDs, ","))
				if ev.DataType != tabsync.DataSample || ev.Action == tabsync.ActionDelete {
					return
				}
				for _, id := range ev.IDs {
					// the library handles the same event; its view may lag a little
					if e, err := a.library.Get(id); err == nil {
						_ = printSamples(opts, e)
					}
				}
			}
			for _, dt := range []tabsync.DataType{tabsync.DataSample, tabsync.DataCache, tabsync.DataPlugin} {
				defer a.bus.Subscribe(dt, show)()
			}

			fmt.Fprintf(opts.stderr, "watching %s as %s\n", a.settings.TabSync.Dir, a.bus.Origin())
			<-cmd.Context().Done()
			return nil
		},
	}
}
