// SPDX-License-Identifier: EPL-2.0

package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ik5/sampleprep/internal/transfer"
)

func transferCommand(opts *options) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "transfer <id>...",
		Short: "Encode samples into audio to play into the device",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			samples, err := opts.app.library.Samples(args...)
			if err != nil {
				return err
			}

			job := opts.app.builder.Build(cmd.Context(), samples, func(p float64) {
				fmt.Fprintf(opts.stderr, "\rencoding %3.0f%%", p*100)
			})
			res, err := job.Wait()
			fmt.Fprintln(opts.stderr)
			if err != nil {
				return err
			}
			return writeResult(opts.stdout, out, res)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "transfer.wav", "output file, - for stdout")
	return cmd
}

func eraseCommand(opts *options) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "erase <slot>...",
		Short: "Encode audio that deletes slots on the device",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slots := make([]int, 0, len(args))
			for _, a := range args {
				n, err := strconv.Atoi(a)
				if err != nil {
					return fmt.Errorf("slot %q: %w", a, err)
				}
				slots = append(slots, n)
			}

			res, err := opts.app.builder.DeleteBuffer(cmd.Context(), slots)
			if err != nil {
				return err
			}
			return writeResult(opts.stdout, out, res)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "erase.wav", "output file, - for stdout")
	return cmd
}

func writeResult(stdout io.Writer, path string, res transfer.Result) error {
	w, err := createOutput(stdout, path)
	if err != nil {
		return err
	}
	if _, err := w.Write(res.Buffer); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
