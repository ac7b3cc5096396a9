package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/voxline/voxline/pkg/gateway/config"
	"github.com/voxline/voxline/pkg/realtime"
	"github.com/voxline/voxline/pkg/twilio"
)

const spokenMintFailure = "The assistant is unavailable right now. Please try again later."

// TokenMinter is the slice of the credential minter the document builder
// needs.
type TokenMinter interface {
	Mint(ctx context.Context, req realtime.MintRequest) (realtime.Credential, error)
}

// TwimlHandler serves the call-control document: it tells the carrier where
// to send the call's audio, minting an ephemeral credential on the way when
// the request does not carry one.
type TwimlHandler struct {
	Config config.Config
	Minter TokenMinter
	Logger *slog.Logger
}

func (h TwimlHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if !h.verifyCarrierSignature(r) {
		writeXML(w, http.StatusForbidden, twilio.ForbiddenDocument())
		return
	}

	q := r.URL.Query()
	mode := strings.ToLower(q.Get("mode"))
	switch mode {
	case twilio.ModeSIP, twilio.ModeStream, twilio.ModeSimple:
	default:
		mode = h.Config.TwimlDefaultMode
	}

	if mode == twilio.ModeSimple {
		writeXML(w, http.StatusOK, twilio.SimpleDocument("Hello. The realtime bridge is not reachable from this deployment."))
		return
	}

	token := strings.TrimSpace(q.Get("token"))
	if token == "" {
		minted, err := h.mint(r)
		if err != nil {
			logger.Error("credential mint failed for control document", "error", err)
			writeXML(w, http.StatusOK, twilio.SpokenError(spokenMintFailure))
			return
		}
		token = minted
	}

	switch mode {
	case twilio.ModeStream:
		writeXML(w, http.StatusOK, twilio.StreamDocument(h.Config.BridgeStreamURL(token)))
	case twilio.ModeSIP:
		port, _ := strconv.Atoi(q.Get("port"))
		writeXML(w, http.StatusOK, twilio.SIPDocument(token, h.Config.SIPGateway, twilio.SIPOptions{
			Scheme:    q.Get("scheme"),
			Transport: q.Get("transport"),
			Port:      port,
		}))
	}
}

// mint issues a short-lived credential using the request's overrides on top
// of the configured defaults.
func (h TwimlHandler) mint(r *http.Request) (string, error) {
	q := r.URL.Query()
	session := map[string]any{"model": h.Config.Model}
	if model := strings.TrimSpace(q.Get("model")); model != "" {
		session["model"] = model
	}
	if instructions := strings.TrimSpace(q.Get("instructions")); instructions != "" {
		session["instructions"] = instructions
	} else if promptID := strings.TrimSpace(q.Get("prompt_id")); promptID != "" {
		prompt := map[string]any{"id": promptID}
		if version := strings.TrimSpace(q.Get("prompt_version")); version != "" {
			prompt["version"] = version
		}
		session["prompt"] = prompt
	} else if h.Config.Instructions != "" {
		session["instructions"] = h.Config.Instructions
	} else if h.Config.PromptID != "" {
		prompt := map[string]any{"id": h.Config.PromptID}
		if h.Config.PromptVersion != "" {
			prompt["version"] = h.Config.PromptVersion
		}
		session["prompt"] = prompt
	}

	cred, err := h.Minter.Mint(r.Context(), realtime.MintRequest{
		ExpiresAfterSeconds: h.Config.TokenExpirySeconds,
		Session:             session,
	})
	if err != nil {
		return "", err
	}
	return cred.Token, nil
}

func (h TwimlHandler) verifyCarrierSignature(r *http.Request) bool {
	signature := r.Header.Get(twilio.SignatureHeader)
	if signature == "" || h.Config.TwilioAuthToken == "" {
		// Verification is opt-in: it takes both a signature header and a
		// configured shared token.
		return true
	}
	_ = r.ParseForm()
	return twilio.VerifySignature(h.Config.TwilioAuthToken, requestURL(r), r.PostForm, signature)
}

// requestURL reconstructs the absolute URL the carrier signed.
func requestURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		} else {
			scheme = "http"
		}
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// TwimlActionHandler is the post-dial continuation: when a SIP dial fails it
// falls back to streaming through the bridge, otherwise it hangs up cleanly.
type TwimlActionHandler struct {
	Config config.Config
	Minter TokenMinter
	Logger *slog.Logger
}

func (h TwimlActionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !(TwimlHandler{Config: h.Config}).verifyCarrierSignature(r) {
		writeXML(w, http.StatusForbidden, twilio.ForbiddenDocument())
		return
	}
	_ = r.ParseForm()
	status := strings.ToLower(r.PostForm.Get("DialCallStatus"))
	switch status {
	case "completed", "answered":
		writeXML(w, http.StatusOK, twilio.SimpleDocument("Goodbye."))
		return
	}

	// SIP leg failed; hand the carrier a stream document instead.
	th := TwimlHandler{Config: h.Config, Minter: h.Minter, Logger: h.Logger}
	token, err := th.mint(r)
	if err != nil {
		writeXML(w, http.StatusOK, twilio.SpokenError(spokenMintFailure))
		return
	}
	writeXML(w, http.StatusOK, twilio.StreamDocument(h.Config.BridgeStreamURL(token)))
}
