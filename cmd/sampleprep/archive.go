// SPDX-License-Identifier: EPL-2.0

package main

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ik5/sampleprep/internal/library"
)

func exportCommand(opts *options) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export [id...]",
		Short: "Export samples, or all of them, to a zip archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := createOutput(opts.stdout, out)
			if err != nil {
				return err
			}
			if err := opts.app.library.Export(cmd.Context(), w, args...); err != nil {
				w.Close()
				return err
			}
			return w.Close()
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "volcasampler.zip", "output file, - for stdout")
	return cmd
}

func importZipCommand(opts *options) *cobra.Command {
	var listOnly bool

	cmd := &cobra.Command{
		Use:   "import-zip <file.zip> [id...]",
		Short: "Import samples, or all of them, from an exported archive",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			st, err := f.Stat()
			if err != nil {
				return err
			}

			if listOnly {
				listed, err := library.ReadArchive(f, st.Size())
				if err != nil {
					return err
				}
				slices.SortFunc(listed, func(a, b library.ArchivedSample) int { return strings.Compare(a.Name, b.Name) })
				if opts.yaml {
					return printYAML(opts.stdout, listed)
				}
				for _, s := range listed {
					fmt.Printf("%s\t%s\n", s.ID, s.Name)
				}
				return nil
			}

			res, err := opts.app.library.ImportZip(cmd.Context(), f, st.Size(), args[1:]...)
			if err != nil {
				return err
			}
			if err := printSamples(opts, res.Imported...); err != nil {
				return err
			}
			for id, ierr := range res.Failed {
				fmt.Fprintf(opts.stderr, "%s: %v\n", id, ierr)
			}
			if len(res.Failed) > 0 {
				return fmt.Errorf("%d samples not imported", len(res.Failed))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&listOnly, "list", false, "only list the samples in the archive")
	return cmd
}
