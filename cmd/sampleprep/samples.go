// SPDX-License-Identifier: EPL-2.0

package main

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ik5/sampleprep/internal/sample"
	"github.com/ik5/sampleprep/pcm"
)

func importCommand(opts *options) *cobra.Command {
	var name, url string

	cmd := &cobra.Command{
		Use:   "import [file...]",
		Short: "Import audio files as new samples",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			lib := opts.app.library

			if url != "" {
				if name == "" {
					name = strings.TrimSuffix(filepath.Base(url), filepath.Ext(url))
				}
				e, err := lib.ImportExternal(ctx, name, url)
				if err != nil {
					return err
				}
				return printSamples(opts, e)
			}
			if len(args) == 0 {
				return errors.New("nothing to import: pass files or --url")
			}

			var errs []error
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					errs = append(errs, err)
					continue
				}

				ext := strings.ToLower(filepath.Ext(path))
				sampleName := name
				if sampleName == "" || len(args) > 1 {
					sampleName = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
				}

				e, err := lib.Import(ctx, sampleName, data, &sample.UserFileInfo{Type: mime.TypeByExtension(ext), Ext: ext})
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", path, err))
					continue
				}
				if err := printSamples(opts, e); err != nil {
					return err
				}
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "sample name (default: file name)")
	cmd.Flags().StringVar(&url, "url", "", "import a sample whose source stays at this url")
	return cmd
}

func listCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List samples, newest first",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return printSamples(opts, opts.app.library.List()...)
		},
	}
}

func renderCommand(opts *options) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "render <id>",
		Short: "Write the processed sample as a WAV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := opts.app.library.Preview(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w, err := createOutput(opts.stdout, out)
			if err != nil {
				return err
			}
			if _, err := w.Write(p.WAV); err != nil {
				w.Close()
				return err
			}
			return w.Close()
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "-", "output file, - for stdout")
	return cmd
}

func updateCommand(opts *options) *cobra.Command {
	var (
		name        string
		slot        int
		bits        int
		compression bool
		scale       float64
		pitch       float64
		trim        []int
		addPlugin   string
		removeAt    int
		bypassAt    int
		enableAt    int
		params      map[string]string
	)

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a sample's parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a := opts.app
			id := args[0]

			cur, err := a.library.Get(id)
			if err != nil {
				return err
			}
			m := cur.Container.Metadata()
			f := cmd.Flags()

			var updates []sample.Update
			if f.Changed("name") {
				updates = append(updates, sample.SetName(name))
			}
			if f.Changed("slot") {
				updates = append(updates, sample.SetSlot(slot))
			}
			if f.Changed("quality") {
				updates = append(updates, sample.SetQualityBitDepth(bits))
			}
			if f.Changed("compression") {
				updates = append(updates, sample.SetUseCompression(compression))
			}
			if f.Changed("pitch") {
				updates = append(updates, sample.SetPitchAdjustment(pitch))
			}

			frames := m.Trim.Frames
			if f.Changed("trim") {
				if len(trim) != 2 {
					return errors.New("--trim takes two frame counts: lead,trail")
				}
				frames = [2]int{trim[0], trim[1]}
			}
			if f.Changed("trim") || f.Changed("scale") {
				buf, err := a.pipeline.Decode(ctx, m.SourceFileID)
				if err != nil {
					return err
				}
				frames = sample.ClampTrim(frames, buf.Length())
				mono, err := pcm.Downmix(buf.Channels, frames[0], frames[1])
				if err != nil {
					return err
				}

				if f.Changed("trim") {
					peaks, err := a.pipeline.Peaks(ctx, m.SourceFileID, frames)
					if err != nil {
						return err
					}
					updates = append(updates, sample.SetTrim(frames, peaks))
				}

				coef := m.ScaleCoefficient
				if f.Changed("scale") {
					coef = scale
				}
				// a new trim window can make the current coefficient clip
				if clamped := pcm.ClampScaleCoefficient(coef, pcm.FindPeak(mono)); clamped != m.ScaleCoefficient {
					updates = append(updates, sample.SetScaleCoefficient(clamped))
				}
			}

			if addPlugin != "" {
				defs, ok := a.plugins.Params(addPlugin)
				if !ok {
					return fmt.Errorf("plugin %s is not installed", addPlugin)
				}
				defaults := make(map[string]float64, len(defs))
				for k, d := range defs {
					defaults[k] = d.Value
				}
				updates = append(updates, sample.AddPlugin(addPlugin, defaults))
			}
			if f.Changed("remove-plugin") {
				updates = append(updates, sample.RemovePlugin(removeAt))
			}
			if f.Changed("bypass") {
				updates = append(updates, sample.SetPluginBypassed(bypassAt, true))
			}
			if f.Changed("enable") {
				updates = append(updates, sample.SetPluginBypassed(enableAt, false))
			}
			for raw, value := range params {
				idx, key, err := parseParamKey(raw)
				if err != nil {
					return err
				}
				var v float64
				if _, err := fmt.Sscan(value, &v); err != nil {
					return fmt.Errorf("param %s: %w", raw, err)
				}
				updates = append(updates, sample.SetPluginParam(idx, key, v))
			}

			e, err := a.library.Update(ctx, id, updates...)
			if err != nil {
				return err
			}
			return printSamples(opts, e)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&name, "name", "", "new name")
	fl.IntVar(&slot, "slot", 0, "device slot (0-199)")
	fl.IntVar(&bits, "quality", 16, "quality bit depth (8-16)")
	fl.BoolVar(&compression, "compression", true, "use compression on transfer")
	fl.Float64Var(&scale, "scale", 1, "amplitude multiplier, clamped so the peak stays within range")
	fl.Float64Var(&pitch, "pitch", 1, "pitch adjustment (0.5-2)")
	fl.IntSliceVar(&trim, "trim", nil, "frames to drop from start and end: lead,trail")
	fl.StringVar(&addPlugin, "add-plugin", "", "append an installed plugin with its default params")
	fl.IntVar(&removeAt, "remove-plugin", 0, "remove the plugin at this chain index")
	fl.IntVar(&bypassAt, "bypass", 0, "bypass the plugin at this chain index")
	fl.IntVar(&enableAt, "enable", 0, "stop bypassing the plugin at this chain index")
	fl.StringToStringVar(&params, "param", nil, "set plugin params: <index>.<name>=<value>")
	return cmd
}

func parseParamKey(raw string) (int, string, error) {
	idx, key, ok := strings.Cut(raw, ".")
	if !ok || key == "" {
		return 0, "", fmt.Errorf("param %q: want <index>.<name>", raw)
	}
	var i int
	if _, err := fmt.Sscan(idx, &i); err != nil {
		return 0, "", fmt.Errorf("param %q: %w", raw, err)
	}
	return i, key, nil
}

func deleteCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete samples",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.app.library.Delete(cmd.Context(), args...)
		},
	}
}

func duplicateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "duplicate <id>",
		Short: "Copy a sample under a new id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.app.library.Duplicate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printSamples(opts, e)
		},
	}
}
