package realtime

import (
	"encoding/json"
	"fmt"
)

// Audio codec identifiers as the model protocol spells them.
const (
	CodecULaw  = "g711_ulaw"
	CodecALaw  = "g711_alaw"
	CodecPCM16 = "pcm16"
)

// SessionType is the session object's type discriminator in the GA protocol.
const SessionType = "realtime"

// TurnDetection is the server-side VAD configuration, or nil/"none" for
// manual turn taking.
type TurnDetection struct {
	Type              string   `json:"type"`
	Threshold         *float64 `json:"threshold,omitempty"`
	PrefixPaddingMS   *int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMS *int     `json:"silence_duration_ms,omitempty"`
	CreateResponse    *bool    `json:"create_response,omitempty"`
	InterruptResponse *bool    `json:"interrupt_response,omitempty"`
}

// InputTranscription asks the model to transcribe caller audio.
type InputTranscription struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
}

// PromptRef points at a stored prompt instead of inline instructions.
type PromptRef struct {
	ID      string `json:"id"`
	Version string `json:"version,omitempty"`
}

// Session keys the bridge accepts from carrier-provided overrides. Anything
// else is stripped before the payload reaches the model: the upstream rejects
// unknown fields, and the blob rides in from the control document untrusted.
var allowedOverrideKeys = map[string]struct{}{
	"instructions":              {},
	"prompt":                    {},
	"input_audio_transcription": {},
	"turn_detection":            {},
	"tools":                     {},
	"tool_choice":               {},
	"temperature":               {},
	"max_response_output_tokens": {},
	"voice":                     {},
	"input_audio_format":        {},
	"output_audio_format":       {},
	"modalities":                {},
}

// FilterSessionOverrides keeps only the allow-listed session keys.
func FilterSessionOverrides(raw map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(raw))
	for k, v := range raw {
		if _, ok := allowedOverrideKeys[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Validation bounds for session fields arriving over HTTP.
const (
	MinTemperature  = 0.0
	MaxTemperature  = 2.0
	MinVADThreshold = 0.0
	MaxVADThreshold = 1.0
	MinPrefixMS     = 0
	MaxPrefixMS     = 2000
	MinSilenceMS    = 50
	MaxSilenceMS    = 5000
)

// ValidateSession bounds-checks the recognized numeric session fields in a
// session payload. Unknown fields are left for the model to reject.
func ValidateSession(session map[string]any) error {
	if v, ok := session["temperature"]; ok {
		f, ok := toFloat(v)
		if !ok || f < MinTemperature || f > MaxTemperature {
			return fmt.Errorf("temperature must be in [%g, %g]", MinTemperature, MaxTemperature)
		}
	}
	if v, ok := session["max_response_output_tokens"]; ok {
		switch n := v.(type) {
		case string:
			if n != "inf" && n != "unbounded" {
				return fmt.Errorf("max_response_output_tokens must be a positive integer or unbounded")
			}
		default:
			f, ok := toFloat(v)
			if !ok || f <= 0 || f != float64(int64(f)) {
				return fmt.Errorf("max_response_output_tokens must be a positive integer or unbounded")
			}
		}
	}
	td, ok := session["turn_detection"].(map[string]any)
	if !ok {
		return nil
	}
	if v, ok := td["threshold"]; ok {
		f, ok := toFloat(v)
		if !ok || f < MinVADThreshold || f > MaxVADThreshold {
			return fmt.Errorf("turn_detection.threshold must be in [%g, %g]", MinVADThreshold, MaxVADThreshold)
		}
	}
	if v, ok := td["prefix_padding_ms"]; ok {
		f, ok := toFloat(v)
		if !ok || f < MinPrefixMS || f > MaxPrefixMS {
			return fmt.Errorf("turn_detection.prefix_padding_ms must be in [%d, %d]", MinPrefixMS, MaxPrefixMS)
		}
	}
	if v, ok := td["silence_duration_ms"]; ok {
		f, ok := toFloat(v)
		if !ok || f < MinSilenceMS || f > MaxSilenceMS {
			return fmt.Errorf("turn_detection.silence_duration_ms must be in [%d, %d]", MinSilenceMS, MaxSilenceMS)
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
