// Package realtime speaks the cloud model's WebSocket event protocol: session
// configuration, client events, server-event decoding, credential minting,
// and the dialer.
package realtime

import "encoding/json"

// Client event types.
const (
	EventSessionUpdate    = "session.update"
	EventInputAudioAppend = "input_audio_buffer.append"
	EventInputAudioCommit = "input_audio_buffer.commit"
	EventInputAudioClear  = "input_audio_buffer.clear"
	EventItemTruncate     = "conversation.item.truncate"
	EventResponseCreate   = "response.create"
	EventResponseCancel   = "response.cancel"
)

// Canonical server event types (GA names).
const (
	EventSessionCreated      = "session.created"
	EventSessionUpdated      = "session.updated"
	EventResponseCreated     = "response.created"
	EventResponseDone        = "response.done"
	EventResponseCancelled   = "response.cancelled"
	EventOutputItemAdded     = "response.output_item.added"
	EventOutputItemDone      = "response.output_item.done"
	EventOutputAudioDelta    = "response.output_audio.delta"
	EventOutputAudioDone     = "response.output_audio.done"
	EventTranscriptDelta     = "response.output_audio_transcript.delta"
	EventTranscriptDone      = "response.output_audio_transcript.done"
	EventOutputTextDelta     = "response.output_text.delta"
	EventOutputTextDone      = "response.output_text.done"
	EventSpeechStarted       = "input_audio_buffer.speech_started"
	EventSpeechStopped       = "input_audio_buffer.speech_stopped"
	EventInputAudioCommitted = "input_audio_buffer.committed"
	EventInputAudioCleared   = "input_audio_buffer.cleared"
	EventInputTranscriptDone = "conversation.item.input_audio_transcription.completed"
	EventInputTranscriptFail = "conversation.item.input_audio_transcription.failed"
	EventRateLimitsUpdated   = "rate_limits.updated"
	EventError               = "error"
)

// The protocol renamed several events between the preview and GA releases.
// Both spellings arrive in the wild; dispatch is keyed on the canonical name.
var legacyAliases = map[string]string{
	"response.audio.delta":            EventOutputAudioDelta,
	"response.audio.done":             EventOutputAudioDone,
	"response.audio_transcript.delta": EventTranscriptDelta,
	"response.audio_transcript.done":  EventTranscriptDone,
	"response.text.delta":             EventOutputTextDelta,
	"response.text.done":              EventOutputTextDone,
	"response.canceled":               EventResponseCancelled,
}

// CanonicalType maps a server event type to its GA name.
func CanonicalType(t string) string {
	if canonical, ok := legacyAliases[t]; ok {
		return canonical
	}
	return t
}

// ServerEvent is the decoded envelope of any model-to-client event. Only the
// fields the bridge consumes are mapped; everything else stays in the raw
// frame.
type ServerEvent struct {
	Type       string             `json:"type"`
	EventID    string             `json:"event_id,omitempty"`
	ItemID     string             `json:"item_id,omitempty"`
	ResponseID string             `json:"response_id,omitempty"`
	Delta      string             `json:"delta,omitempty"`
	Transcript string             `json:"transcript,omitempty"`
	Text       string             `json:"text,omitempty"`
	Item       *Item              `json:"item,omitempty"`
	Response   json.RawMessage    `json:"response,omitempty"`
	Session    json.RawMessage    `json:"session,omitempty"`
	Error      *EventErrorPayload `json:"error,omitempty"`
}

// Item is the conversation item attached to output_item events.
type Item struct {
	ID   string `json:"id"`
	Role string `json:"role,omitempty"`
	Type string `json:"type,omitempty"`
}

// EventErrorPayload is the payload of a model "error" event or an error field
// on a failed operation.
type EventErrorPayload struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Param   string `json:"param,omitempty"`
}

// ParseServerEvent decodes one model frame.
func ParseServerEvent(data []byte) (ServerEvent, error) {
	var ev ServerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ServerEvent{}, err
	}
	return ev, nil
}

// Client events.

type SessionUpdateEvent struct {
	Type    string         `json:"type"`
	Session map[string]any `json:"session"`
}

type InputAudioAppendEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type SimpleEvent struct {
	Type string `json:"type"`
}

type ItemTruncateEvent struct {
	Type         string `json:"type"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMS   int64  `json:"audio_end_ms"`
}

type ResponseCreateEvent struct {
	Type     string         `json:"type"`
	Response map[string]any `json:"response,omitempty"`
}
