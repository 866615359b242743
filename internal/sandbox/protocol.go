// SPDX-License-Identifier: EPL-2.0

package sandbox

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// Message types exchanged with a plugin context. Each message is one line
// of JSON.
const (
	TypeReady     = "ready"
	TypeAck       = "ack"
	TypeInstall   = "pluginInstall"
	TypeTransform = "sampleTransform"
)

// InvalidParametersMessage is the error text a plugin uses to reject its
// parameters without being torn down.
const InvalidParametersMessage = "Invalid parameters"

// ParamDef is a plugin's declaration of one numeric parameter.
type ParamDef struct {
	Value float64 `json:"value"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Label string  `json:"label,omitempty"`
}

// Message is the envelope for every request and response. Responses echo
// the request's MessageType and MessageID.
type Message struct {
	MessageType string `json:"messageType"`
	MessageID   string `json:"messageId,omitempty"`

	// pluginInstall
	PluginSource string              `json:"pluginSource,omitempty"`
	ParamDefs    map[string]ParamDef `json:"paramDefs,omitempty"`

	// sampleTransform
	AudioData  string             `json:"audioData,omitempty"`
	SampleRate int                `json:"sampleRate,omitempty"`
	Params     map[string]float64 `json:"params,omitempty"`

	Error string `json:"error,omitempty"`
}

// EncodeSamples packs samples as base64 little-endian float32.
func EncodeSamples(samples []float32) string {
	raw := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(s))
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodeSamples reverses EncodeSamples.
func DecodeSamples(data string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decoding audio data: %w", err)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("decoding audio data: %d bytes is not a whole number of samples", len(raw))
	}

	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return out, nil
}
