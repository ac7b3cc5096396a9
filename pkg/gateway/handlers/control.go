package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/voxline/voxline/pkg/control"
	"github.com/voxline/voxline/pkg/gateway/config"
)

// Header names for the signed-request envelope.
const (
	headerControlTimestamp = "X-Realtime-Timestamp"
	headerControlSignature = "X-Realtime-Signature"
)

const minAdminSecretLen = 32

// ControlHandler serves the model-facing control webhook: the model POSTs
// here mid-call to pull session updates.
type ControlHandler struct {
	Config config.Config
	State  *control.State
	Logger *slog.Logger
	Now    func() time.Time
}

func (h ControlHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		// Diagnostics: the update the webhook would currently hand out.
		writeJSON(w, http.StatusOK, h.State.SessionUpdate())
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "unreadable body")
			return
		}
		if !h.authorized(r, body) {
			writeError(w, r, http.StatusUnauthorized, "authentication_error", "unauthorized")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"events": []any{h.State.SessionUpdate()},
		})
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
	}
}

// authorized accepts either the shared bearer token or a signed-request
// envelope; both are compared in constant time.
func (h ControlHandler) authorized(r *http.Request, body []byte) bool {
	if token, ok := bearerToken(r); ok && control.TokenEqual(h.Config.ControlSecret, token) {
		return true
	}

	timestamp := r.Header.Get(headerControlTimestamp)
	signature := r.Header.Get(headerControlSignature)
	if timestamp == "" || signature == "" {
		return false
	}
	now := time.Now()
	if h.Now != nil {
		now = h.Now()
	}
	err := control.VerifySignedRequest(h.Config.ControlSigningSecret, timestamp, body, signature, now, h.Config.ControlTolerance)
	if err != nil && h.Logger != nil {
		h.Logger.Warn("control webhook signature rejected", "error", err)
	}
	return err == nil
}

// ControlSettingsHandler is the runtime override editor, guarded by a
// separate admin bearer token.
type ControlSettingsHandler struct {
	Config config.Config
	State  *control.State
	Logger *slog.Logger
}

func (h ControlSettingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.adminAuthorized(r) {
		writeError(w, r, http.StatusUnauthorized, "authentication_error", "unauthorized")
		return
	}

	switch r.Method {
	case http.MethodGet:
		override, set := h.State.Override()
		writeJSON(w, http.StatusOK, map[string]any{
			"defaults": h.State.Session(),
			"override": override,
			"active":   set,
		})
	case http.MethodPost:
		var body struct {
			Session map[string]any `json:"session"`
			Clear   bool           `json:"clear"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid json body")
			return
		}
		if body.Clear {
			h.State.ClearOverride()
			writeJSON(w, http.StatusOK, map[string]any{"active": false})
			return
		}
		if body.Session == nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "session or clear is required")
			return
		}
		h.State.SetOverride(body.Session)
		if h.Logger != nil {
			h.Logger.Info("control-plane override updated", "fields", len(body.Session))
		}
		writeJSON(w, http.StatusOK, map[string]any{"active": true})
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
	}
}

func (h ControlSettingsHandler) adminAuthorized(r *http.Request) bool {
	if len(h.Config.ControlAdminSecret) < minAdminSecretLen {
		return false
	}
	token, ok := bearerToken(r)
	return ok && control.TokenEqual(h.Config.ControlAdminSecret, token)
}

func bearerToken(r *http.Request) (string, bool) {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if len(raw) <= len(prefix) || !strings.EqualFold(raw[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(raw[len(prefix):]), true
}
