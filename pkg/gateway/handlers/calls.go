package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/voxline/voxline/pkg/gateway/config"
	"github.com/voxline/voxline/pkg/twilio"
)

// Dispatcher is the slice of the outbound-call dispatcher the handler needs.
type Dispatcher interface {
	Place(p twilio.PlaceParams) (string, error)
}

// CallRecord is one outbound call placed by this process, kept for the
// listing endpoint. In-memory only: call history is observability, not state.
type CallRecord struct {
	CallSID   string    `json:"call_sid"`
	To        string    `json:"to"`
	From      string    `json:"from"`
	Mode      string    `json:"mode"`
	Record    bool      `json:"record"`
	CreatedAt time.Time `json:"created_at"`
}

// CallLog is a bounded ring of placed calls.
type CallLog struct {
	mu      sync.Mutex
	records []CallRecord
	limit   int
}

func NewCallLog(limit int) *CallLog {
	if limit <= 0 {
		limit = 200
	}
	return &CallLog{limit: limit}
}

func (l *CallLog) add(rec CallRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	if len(l.records) > l.limit {
		l.records = l.records[len(l.records)-l.limit:]
	}
}

func (l *CallLog) list() []CallRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]CallRecord, len(l.records))
	copy(out, l.records)
	return out
}

// CallsHandler places outbound calls and lists the ones it placed.
type CallsHandler struct {
	Config     config.Config
	Dispatcher Dispatcher
	Log        *CallLog
	Logger     *slog.Logger
}

type placeCallRequest struct {
	To             string `json:"to"`
	From           string `json:"from"`
	Mode           string `json:"mode"`
	Record         bool   `json:"record"`
	StatusCallback string `json:"status_callback"`
	Instructions   string `json:"instructions"`
	PromptID       string `json:"prompt_id"`
}

func (h CallsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"calls": h.Log.list()})
	case http.MethodPost:
		h.place(w, r)
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
	}
}

func (h CallsHandler) place(w http.ResponseWriter, r *http.Request) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if h.Dispatcher == nil {
		writeError(w, r, http.StatusServiceUnavailable, "not_configured", "carrier credentials are not configured")
		return
	}

	var req placeCallRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid json body")
		return
	}

	if !twilio.ValidE164(req.To) {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "to must be an E.164 phone number")
		return
	}
	from := req.From
	if from == "" {
		from = h.Config.TwilioFromNumber
	}
	if !twilio.ValidE164(from) {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "from must be an E.164 phone number")
		return
	}

	mode := strings.ToLower(req.Mode)
	switch mode {
	case twilio.ModeSIP, twilio.ModeStream, twilio.ModeSimple:
	default:
		mode = h.Config.TwimlDefaultMode
	}

	docURL, err := h.documentURL(mode, req)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "api_error", err.Error())
		return
	}

	sid, err := h.Dispatcher.Place(twilio.PlaceParams{
		To:             req.To,
		From:           from,
		DocumentURL:    docURL,
		Record:         req.Record,
		StatusCallback: req.StatusCallback,
	})
	if err != nil {
		logger.Error("outbound call failed", "to", req.To, "error", err)
		writeError(w, r, http.StatusBadGateway, "carrier_error", err.Error())
		return
	}

	rec := CallRecord{
		CallSID:   sid,
		To:        req.To,
		From:      from,
		Mode:      mode,
		Record:    req.Record,
		CreatedAt: time.Now().UTC(),
	}
	h.Log.add(rec)
	writeJSON(w, http.StatusCreated, rec)
}

func (h CallsHandler) documentURL(mode string, req placeCallRequest) (string, error) {
	base := h.Config.PublicBaseURL
	if base == "" {
		return "", errMissingBaseURL
	}
	q := url.Values{}
	q.Set("mode", mode)
	if req.Instructions != "" {
		q.Set("instructions", req.Instructions)
	} else if req.PromptID != "" {
		q.Set("prompt_id", req.PromptID)
	}
	return base + "/twiml?" + q.Encode(), nil
}

var errMissingBaseURL = errors.New("PUBLIC_BASE_URL is required to place outbound calls")
