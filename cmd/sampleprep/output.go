// SPDX-License-Identifier: EPL-2.0

package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ik5/sampleprep/internal/samplecache"
)

type sampleRow struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Slot         int      `yaml:"slot"`
	Duration     float64  `yaml:"duration"`
	QualityBits  int      `yaml:"qualityBitDepth"`
	Compression  bool     `yaml:"useCompression"`
	Scale        float64  `yaml:"scaleCoefficient"`
	Pitch        float64  `yaml:"pitchAdjustment"`
	Trim         [2]int   `yaml:"trimFrames,flow"`
	Plugins      []string `yaml:"plugins,omitempty"`
	FailedPlugin *int     `yaml:"failedPluginIndex,omitempty"`
	Source       string   `yaml:"sourceFileId"`
	DateSampled  string   `yaml:"dateSampled"`
}

func toRow(e *samplecache.Entry) sampleRow {
	m := e.Container.Metadata()
	r := sampleRow{
		ID:          e.Container.ID(),
		Name:        m.Name,
		Slot:        m.SlotNumber,
		Duration:    e.Info.Duration,
		QualityBits: m.QualityBitDepth,
		Compression: m.UseCompression,
		Scale:       m.ScaleCoefficient,
		Pitch:       m.PitchAdjustment,
		Trim:        m.Trim.Frames,
		Source:      m.SourceFileID,
		DateSampled: time.UnixMilli(m.DateSampled).Format(time.RFC3339),
	}
	for _, p := range m.Plugins {
		name := p.PluginName
		if p.IsBypassed {
			name += " (bypassed)"
		}
		r.Plugins = append(r.Plugins, name)
	}
	if e.Info.FailedPluginIndex >= 0 {
		idx := e.Info.FailedPluginIndex
		r.FailedPlugin = &idx
	}
	return r
}

func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func printSamples(opts *options, entries ...*samplecache.Entry) error {
	rows := make([]sampleRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, toRow(e))
	}
	if opts.yaml {
		return printYAML(opts.stdout, rows)
	}

	tw := tabwriter.NewWriter(opts.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSLOT\tDURATION\tBITS\tPLUGINS\tSTATUS")
	for _, r := range rows {
		status := "ok"
		if r.FailedPlugin != nil {
			status = fmt.Sprintf("plugin %d broken", *r.FailedPlugin)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.2fs\t%d\t%d\t%s\n", r.ID, r.Name, r.Slot, r.Duration, r.QualityBits, len(r.Plugins), status)
	}
	return tw.Flush()
}

// createOutput opens path for writing, or stdout for "-".
func createOutput(stdout io.Writer, path string) (io.WriteCloser, error) {
	if path == "-" {
		return nopWriteCloser{stdout}, nil
	}
	return os.Create(path)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
