// Package handlers implements the gateway's HTTP surface.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/voxline/voxline/pkg/gateway/mw"
)

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
	ReqID   string `json:"request_id,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, errType, message string) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	writeJSON(w, status, errorEnvelope{Error: apiError{Type: errType, Message: message, ReqID: reqID}})
}

func writeXML(w http.ResponseWriter, status int, doc string) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(doc))
}
