// SPDX-License-Identifier: EPL-2.0

package sample

import (
	"maps"

	"github.com/ik5/sampleprep/pcm"
)

// Update mutates a private copy of metadata inside Container.Update.
type Update func(m *Metadata)

func SetName(name string) Update {
	return func(m *Metadata) { m.Name = name }
}

func SetSlot(slot int) Update {
	return func(m *Metadata) { m.SlotNumber = slot }
}

func SetUseCompression(on bool) Update {
	return func(m *Metadata) { m.UseCompression = on }
}

func SetQualityBitDepth(bits int) Update {
	return func(m *Metadata) { m.QualityBitDepth = bits }
}

func SetScaleCoefficient(coef float64) Update {
	return func(m *Metadata) { m.ScaleCoefficient = coef }
}

func SetPitchAdjustment(pitch float64) Update {
	return func(m *Metadata) { m.PitchAdjustment = pitch }
}

// SetTrim replaces the trim window and the peaks computed for it.
func SetTrim(frames [2]int, peaks pcm.PeakData) Update {
	return func(m *Metadata) { m.Trim = Trim{Frames: frames, WaveformPeaks: peaks} }
}

func SetPeaks(peaks pcm.PeakData) Update {
	return func(m *Metadata) { m.Trim.WaveformPeaks = peaks }
}

func SetUserFileInfo(info *UserFileInfo) Update {
	return func(m *Metadata) { m.UserFileInfo = info }
}

func SetPlugins(plugins []PluginEntry) Update {
	return func(m *Metadata) {
		m.Plugins = make([]PluginEntry, len(plugins))
		for i, p := range plugins {
			p.PluginParams = maps.Clone(p.PluginParams)
			m.Plugins[i] = p
		}
	}
}

// AddPlugin appends a plugin with the given parameter values.
func AddPlugin(name string, params map[string]float64) Update {
	return func(m *Metadata) {
		m.Plugins = append(m.Plugins, PluginEntry{PluginName: name, PluginParams: maps.Clone(params)})
	}
}

// RemovePlugin drops chain index i; out of range is a no-op.
func RemovePlugin(i int) Update {
	return func(m *Metadata) {
		if i >= 0 && i < len(m.Plugins) {
			m.Plugins = append(m.Plugins[:i], m.Plugins[i+1:]...)
		}
	}
}

// SetPluginParam sets one parameter of chain index i.
func SetPluginParam(i int, key string, value float64) Update {
	return func(m *Metadata) {
		if i < 0 || i >= len(m.Plugins) {
			return
		}
		if m.Plugins[i].PluginParams == nil {
			m.Plugins[i].PluginParams = map[string]float64{}
		}
		m.Plugins[i].PluginParams[key] = value
	}
}

func SetPluginBypassed(i int, bypassed bool) Update {
	return func(m *Metadata) {
		if i >= 0 && i < len(m.Plugins) {
			m.Plugins[i].IsBypassed = bypassed
		}
	}
}
