// SPDX-License-Identifier: EPL-2.0

package sample

import (
	"maps"
	"math"
)

// legacySampleRate converts seconds-based clip values of 0.1.0 records.
const legacySampleRate = 31250

// Migration upgrades a raw document by one schema version. It must be pure
// and set metadataVersion on its result.
type Migration func(doc map[string]any) map[string]any

var migrations = map[string]Migration{
	"0.1.0": migrate010,
	"0.2.0": migrate020,
	"0.3.0": migrate030,
	"0.4.0": migrate040,
	"0.5.0": migrate050,
}

// Migrate upgrades doc to CurrentVersion. The second result reports whether
// anything changed. Documents with an unknown version are reduced to their
// name, sourceFileId and id so defaults can fill the rest.
func Migrate(doc map[string]any) (map[string]any, bool) {
	version, _ := doc["metadataVersion"].(string)
	if version == CurrentVersion {
		return doc, false
	}

	// each step must move to a different version, so len+1 steps is enough
	for range len(migrations) + 1 {
		version, _ = doc["metadataVersion"].(string)
		if version == CurrentVersion {
			return doc, true
		}

		step, ok := migrations[version]
		if !ok {
			break
		}
		doc = step(doc)
	}

	return stripToMinimal(doc), true
}

func stripToMinimal(doc map[string]any) map[string]any {
	out := map[string]any{"metadataVersion": CurrentVersion}
	for _, k := range []string{"name", "sourceFileId", "id"} {
		if v, ok := doc[k]; ok {
			out[k] = v
		}
	}
	return out
}

// 0.1.0 stored the trim window as seconds in clip and had a normalize
// switch, superseded by scaleCoefficient.
func migrate010(doc map[string]any) map[string]any {
	out := maps.Clone(doc)
	delete(out, "clip")
	delete(out, "normalize")

	frames := []any{0, 0}
	if clip, ok := doc["clip"].([]any); ok && len(clip) == 2 {
		for i, c := range clip {
			if s, ok := c.(float64); ok {
				frames[i] = int(math.Round(s * legacySampleRate))
			}
		}
	}
	out["trimFrames"] = frames
	out["metadataVersion"] = "0.2.0"
	return out
}

func migrate020(doc map[string]any) map[string]any {
	out := maps.Clone(doc)
	delete(out, "trimFrames")

	frames, ok := doc["trimFrames"].([]any)
	if !ok || len(frames) != 2 {
		frames = []any{0, 0}
	}
	out["trim"] = map[string]any{
		"frames":        frames,
		"waveformPeaks": map[string]any{"positive": []any{}, "negative": []any{}},
	}
	out["metadataVersion"] = "0.3.0"
	return out
}

func migrate030(doc map[string]any) map[string]any {
	out := maps.Clone(doc)
	if _, ok := out["userFileInfo"]; !ok {
		out["userFileInfo"] = nil
	}
	if _, ok := out["scaleCoefficient"]; !ok {
		out["scaleCoefficient"] = 1.0
	}
	out["metadataVersion"] = "0.4.0"
	return out
}

func migrate040(doc map[string]any) map[string]any {
	out := maps.Clone(doc)
	if _, ok := out["pitchAdjustment"]; !ok {
		out["pitchAdjustment"] = 1.0
	}
	out["metadataVersion"] = "0.5.0"
	return out
}

func migrate050(doc map[string]any) map[string]any {
	out := maps.Clone(doc)
	if _, ok := out["plugins"]; !ok {
		out["plugins"] = []any{}
	}
	out["metadataVersion"] = CurrentVersion
	return out
}
