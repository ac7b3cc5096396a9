package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/voxline/voxline/pkg/transcript"
)

const (
	// streamCadence bounds how often the tail loop polls the store.
	streamCadence     = 700 * time.Millisecond
	keepaliveInterval = 15 * time.Second
)

// LiveHandler streams a call's transcript over server-sent events and accepts
// external appends.
type LiveHandler struct {
	Store  transcript.Store
	Logger *slog.Logger
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "transcript key is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "api_error", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(streamCadence)
	defer ticker.Stop()
	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	cursor := 0
	for {
		entries, next, err := h.Store.Range(r.Context(), key, cursor)
		if err == nil {
			cursor = next
			for _, e := range entries {
				payload, err := json.Marshal(e)
				if err != nil {
					continue
				}
				if _, err := w.Write([]byte("event: line\ndata: " + string(payload) + "\n\n")); err != nil {
					return
				}
			}
			if len(entries) > 0 {
				flusher.Flush()
			}
		}

		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
		}
	}
}

// LivePushHandler appends an entry to a transcript from outside the bridge.
type LivePushHandler struct {
	Store  transcript.Store
	Logger *slog.Logger
}

func (h LivePushHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	key := r.PathValue("key")
	if key == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "transcript key is required")
		return
	}

	var body struct {
		Kind string `json:"kind"`
		Text string `json:"text"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid json body")
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}
	kind := body.Kind
	if kind != transcript.KindAudioTranscriptDelta && kind != transcript.KindTextDelta {
		kind = transcript.KindTextDelta
	}

	err := h.Store.Append(r.Context(), key, transcript.Entry{
		TimestampMS: time.Now().UnixMilli(),
		Kind:        kind,
		Text:        body.Text,
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "api_error", "append failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}
