package twilio

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

// Lifecycle events a status callback may subscribe to.
var statusCallbackEvents = []string{"initiated", "ringing", "answered", "completed"}

// PlaceParams describes one outbound call.
type PlaceParams struct {
	To          string
	From        string
	DocumentURL string // control-document URL the carrier fetches on answer
	Record      bool
	// StatusCallback, when set, receives the lifecycle events
	// initiated/ringing/answered/completed.
	StatusCallback string
}

type callCreator interface {
	CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error)
}

// Dispatcher places outbound calls through the carrier's REST API.
type Dispatcher struct {
	api    callCreator
	logger *slog.Logger
}

// NewDispatcher builds a dispatcher from carrier account credentials.
func NewDispatcher(accountSID, authToken string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &Dispatcher{api: client.Api, logger: logger}
}

// Place initiates an outbound call and returns the carrier call SID.
func (d *Dispatcher) Place(p PlaceParams) (string, error) {
	if !ValidE164(p.To) {
		return "", fmt.Errorf("to %q is not E.164", p.To)
	}
	if !ValidE164(p.From) {
		return "", fmt.Errorf("from %q is not E.164", p.From)
	}
	if strings.TrimSpace(p.DocumentURL) == "" {
		return "", fmt.Errorf("document url is required")
	}

	params := &api.CreateCallParams{}
	params.SetTo(p.To)
	params.SetFrom(p.From)
	params.SetUrl(p.DocumentURL)
	if p.Record {
		params.SetRecord(true)
		params.SetRecordingChannels("dual")
	}
	if cb := strings.TrimSpace(p.StatusCallback); cb != "" {
		params.SetStatusCallback(cb)
		params.SetStatusCallbackEvent(statusCallbackEvents)
		params.SetStatusCallbackMethod("POST")
	}

	resp, err := d.api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("create call: %w", err)
	}
	if resp == nil || resp.Sid == nil || *resp.Sid == "" {
		return "", fmt.Errorf("create call: no sid in carrier response")
	}
	logger := d.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("outbound call placed", "call_sid", *resp.Sid, "to", p.To)
	return *resp.Sid, nil
}
