package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/voxline/voxline/pkg/gateway/metrics"
	"github.com/voxline/voxline/pkg/realtime"
)

// TokenHandler mints ephemeral credentials on demand.
type TokenHandler struct {
	Minter  TokenMinter
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type tokenRequest struct {
	ExpiresAfter struct {
		Seconds int64 `json:"seconds"`
	} `json:"expires_after"`
	Session map[string]any       `json:"session"`
	Webhook *realtime.WebhookRef `json:"webhook"`
}

func (h TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}

	var req tokenRequest
	if r.Body != nil {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid json body")
			return
		}
	}

	if req.Session != nil {
		if err := realtime.ValidateSession(req.Session); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
	}

	cred, err := h.Minter.Mint(r.Context(), realtime.MintRequest{
		ExpiresAfterSeconds: req.ExpiresAfter.Seconds,
		Session:             req.Session,
		Webhook:             req.Webhook,
	})
	if err != nil {
		h.observeMint("error")
		var mintErr *realtime.MintError
		if errors.As(err, &mintErr) {
			// Forward the upstream payload so the caller can see why the
			// mint was rejected.
			status := mintErr.Status
			if status < 400 || status > 599 {
				status = http.StatusBadGateway
			}
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(status)
			if len(mintErr.Body) > 0 {
				_, _ = w.Write(mintErr.Body)
			} else {
				_ = json.NewEncoder(w).Encode(errorEnvelope{Error: apiError{Type: "mint_failed", Message: mintErr.Message}})
			}
			return
		}
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	h.observeMint("ok")
	writeJSON(w, http.StatusOK, cred)
}

func (h TokenHandler) observeMint(outcome string) {
	if h.Metrics != nil {
		h.Metrics.MintsTotal.WithLabelValues(outcome).Inc()
	}
}
