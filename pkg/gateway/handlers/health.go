package handlers

import (
	"net/http"

	"github.com/voxline/voxline/pkg/gateway/config"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// EnvCheckHandler reports which recognized env vars are present, without
// their values.
type EnvCheckHandler struct{}

func (h EnvCheckHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, config.EnvCheck())
}
