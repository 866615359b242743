// SPDX-License-Identifier: EPL-2.0

package sample

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/ik5/sampleprep/pcm"
)

// CurrentVersion is the metadata schema written by this package.
const CurrentVersion = "0.6.0"

const (
	MinSlot = 0
	MaxSlot = 199

	MinPitch = 0.5
	MaxPitch = 2.0

	// MinFrames is the least audio a trim window may leave.
	MinFrames = 2000
)

var ErrInvalidMetadata = errors.New("invalid sample metadata")

type Trim struct {
	Frames        [2]int       `json:"frames"`
	WaveformPeaks pcm.PeakData `json:"waveformPeaks"`
}

// UserFileInfo is set only for imported (not recorded) files.
type UserFileInfo struct {
	Type string `json:"type"`
	Ext  string `json:"ext"`
}

type PluginEntry struct {
	PluginName   string             `json:"pluginName"`
	PluginParams map[string]float64 `json:"pluginParams"`
	IsBypassed   bool               `json:"isBypassed"`
}

// Metadata is the persisted description of one sample. Values handed out by
// a Container must be treated as read-only; use Container.Update to change
// them.
type Metadata struct {
	Name             string        `json:"name"`
	SourceFileID     string        `json:"sourceFileId"`
	Trim             Trim          `json:"trim"`
	UserFileInfo     *UserFileInfo `json:"userFileInfo"`
	SlotNumber       int           `json:"slotNumber"`
	DateSampled      int64         `json:"dateSampled"`
	DateModified     int64         `json:"dateModified"`
	UseCompression   bool          `json:"useCompression"`
	// QualityBitDepth trades fidelity for transfer time on the device. It
	// does not shrink the sample's footprint in device memory.
	QualityBitDepth  int           `json:"qualityBitDepth"`
	ScaleCoefficient float64       `json:"scaleCoefficient"`
	PitchAdjustment  float64       `json:"pitchAdjustment"`
	Plugins          []PluginEntry `json:"plugins"`
	MetadataVersion  string        `json:"metadataVersion"`
}

// Defaults returns metadata with every parameter at its initial value.
func Defaults(name, sourceFileID string, now int64) Metadata {
	return Metadata{
		Name:         name,
		SourceFileID: sourceFileID,
		Trim: Trim{
			WaveformPeaks: pcm.PeakData{Positive: []float32{}, Negative: []float32{}},
		},
		SlotNumber:       0,
		DateSampled:      now,
		DateModified:     now,
		UseCompression:   true,
		QualityBitDepth:  16,
		ScaleCoefficient: 1,
		PitchAdjustment:  1,
		Plugins:          []PluginEntry{},
		MetadataVersion:  CurrentVersion,
	}
}

// Validate checks parameter ranges.
func (m Metadata) Validate() error {
	var errs []error

	if m.SourceFileID == "" {
		errs = append(errs, errors.New("sourceFileId is empty"))
	}
	if m.SlotNumber < MinSlot || m.SlotNumber > MaxSlot {
		errs = append(errs, fmt.Errorf("slotNumber %d outside [%d, %d]", m.SlotNumber, MinSlot, MaxSlot))
	}
	if err := pcm.ValidateBitDepth(m.QualityBitDepth); err != nil {
		errs = append(errs, err)
	}
	if !(m.ScaleCoefficient > 0) {
		errs = append(errs, fmt.Errorf("scaleCoefficient %v must be positive", m.ScaleCoefficient))
	}
	if m.PitchAdjustment < MinPitch || m.PitchAdjustment > MaxPitch {
		errs = append(errs, fmt.Errorf("pitchAdjustment %v outside [%v, %v]", m.PitchAdjustment, MinPitch, MaxPitch))
	}
	if m.Trim.Frames[0] < 0 || m.Trim.Frames[1] < 0 {
		errs = append(errs, fmt.Errorf("trim frames %v must not be negative", m.Trim.Frames))
	}
	for i, p := range m.Plugins {
		if p.PluginName == "" {
			errs = append(errs, fmt.Errorf("plugin %d has no name", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidMetadata, errors.Join(errs...))
	}
	return nil
}

// Clone deep-copies the mutable parts: plugin entries and their params.
// Peak slices are shared since nothing mutates them in place.
func (m Metadata) Clone() Metadata {
	out := m
	if m.UserFileInfo != nil {
		info := *m.UserFileInfo
		out.UserFileInfo = &info
	}
	out.Plugins = make([]PluginEntry, len(m.Plugins))
	for i, p := range m.Plugins {
		p.PluginParams = maps.Clone(p.PluginParams)
		out.Plugins[i] = p
	}
	return out
}

// ActivePlugins lists the chain indexes that are not bypassed.
func (m Metadata) ActivePlugins() []int {
	var idx []int
	for i, p := range m.Plugins {
		if !p.IsBypassed {
			idx = append(idx, i)
		}
	}
	return idx
}

// UsesPlugin reports whether name appears anywhere in the chain.
func (m Metadata) UsesPlugin(name string) bool {
	return slices.ContainsFunc(m.Plugins, func(p PluginEntry) bool { return p.PluginName == name })
}

// ClampTrim shrinks a trim window so at least MinFrames of a length-frame
// source remain, taking from the trailing side first. Sources shorter than
// MinFrames get no trim at all.
func ClampTrim(frames [2]int, length int) [2]int {
	lead, trail := max(0, frames[0]), max(0, frames[1])

	budget := length - MinFrames
	if budget <= 0 {
		return [2]int{0, 0}
	}
	if lead+trail <= budget {
		return [2]int{lead, trail}
	}

	excess := lead + trail - budget
	cut := min(trail, excess)
	trail -= cut
	excess -= cut
	lead -= excess
	return [2]int{lead, trail}
}
