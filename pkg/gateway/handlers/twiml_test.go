package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/voxline/voxline/pkg/gateway/config"
	"github.com/voxline/voxline/pkg/realtime"
	"github.com/voxline/voxline/pkg/twilio"
)

type fakeMinter struct {
	cred realtime.Credential
	err  error
	got  realtime.MintRequest
}

func (f *fakeMinter) Mint(_ context.Context, req realtime.MintRequest) (realtime.Credential, error) {
	f.got = req
	if f.err != nil {
		return realtime.Credential{}, f.err
	}
	return f.cred, nil
}

func baseConfig() config.Config {
	return config.Config{
		PublicBaseURL:      "https://host",
		SIPGateway:         "sip.example.com",
		TwimlDefaultMode:   "sip",
		Model:              "gpt-realtime",
		TokenExpirySeconds: 600,
	}
}

func TestTwimlStreamMode(t *testing.T) {
	minter := &fakeMinter{cred: realtime.Credential{Token: "ek_X", ExpiresAt: 1700000600}}
	h := TwimlHandler{Config: baseConfig(), Minter: minter}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/twiml?mode=stream", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `<Stream url="wss://host/stream/twilio/ek_X"></Stream>`) {
		t.Fatalf("body = %s", body)
	}
	if !strings.Contains(body, `<Pause length="60">`) {
		t.Fatalf("missing pause: %s", body)
	}
	if minter.got.ExpiresAfterSeconds != 600 {
		t.Fatalf("expiry = %d", minter.got.ExpiresAfterSeconds)
	}
}

func TestTwimlSIPMode(t *testing.T) {
	minter := &fakeMinter{cred: realtime.Credential{Token: "ek_S"}}
	h := TwimlHandler{Config: baseConfig(), Minter: minter}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/twiml?mode=sip", nil))

	if !strings.Contains(rr.Body.String(), "<Sip>sip:ek_S@sip.example.com:5061;transport=tls</Sip>") {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestTwimlSimpleModeSkipsMint(t *testing.T) {
	minter := &fakeMinter{err: errors.New("must not be called")}
	h := TwimlHandler{Config: baseConfig(), Minter: minter}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/twiml?mode=simple", nil))

	if !strings.Contains(rr.Body.String(), "<Say>") {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestTwimlProvidedTokenSkipsMint(t *testing.T) {
	minter := &fakeMinter{err: errors.New("must not be called")}
	h := TwimlHandler{Config: baseConfig(), Minter: minter}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/twiml?mode=stream&token=ek_given", nil))

	if !strings.Contains(rr.Body.String(), "ek_given") {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestTwimlMintFailureFailsClosed(t *testing.T) {
	minter := &fakeMinter{err: errors.New("upstream down")}
	h := TwimlHandler{Config: baseConfig(), Minter: minter}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/twiml?mode=stream", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "<Say>") {
		t.Fatalf("mint failure must speak an error: %s", rr.Body.String())
	}
	if strings.Contains(rr.Body.String(), "<Stream") {
		t.Fatal("mint failure must not emit a stream document")
	}
}

func TestTwimlUnknownModeFallsBack(t *testing.T) {
	minter := &fakeMinter{cred: realtime.Credential{Token: "ek_D"}}
	h := TwimlHandler{Config: baseConfig(), Minter: minter}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/twiml?mode=bogus", nil))

	if !strings.Contains(rr.Body.String(), "<Sip>") {
		t.Fatalf("unknown mode must fall back to sip: %s", rr.Body.String())
	}
}

func TestTwimlSignatureRejection(t *testing.T) {
	cfg := baseConfig()
	cfg.TwilioAuthToken = "tok_secret"
	h := TwimlHandler{Config: cfg, Minter: &fakeMinter{}}

	form := url.Values{}
	form.Set("CallSid", "CA1")
	req := httptest.NewRequest(http.MethodPost, "https://host/twiml?mode=stream", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(twilio.SignatureHeader, "bogus-signature")
	req.Host = "host"

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "<Say>Forbidden</Say>") {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestTwimlSignatureAccepted(t *testing.T) {
	cfg := baseConfig()
	cfg.TwilioAuthToken = "tok_secret"
	h := TwimlHandler{Config: cfg, Minter: &fakeMinter{cred: realtime.Credential{Token: "ek_V"}}}

	form := url.Values{}
	form.Set("CallSid", "CA1")
	reqURL := "https://host/twiml?mode=stream"
	sig := twilio.Sign("tok_secret", reqURL, form)

	req := httptest.NewRequest(http.MethodPost, reqURL, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(twilio.SignatureHeader, sig)
	req.Host = "host"

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "ek_V") {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
}

func TestTwimlActionFallsBackToStream(t *testing.T) {
	minter := &fakeMinter{cred: realtime.Credential{Token: "ek_F"}}
	h := TwimlActionHandler{Config: baseConfig(), Minter: minter}

	form := url.Values{}
	form.Set("DialCallStatus", "failed")
	req := httptest.NewRequest(http.MethodPost, "/twiml/action", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if !strings.Contains(rr.Body.String(), `<Stream url="wss://host/stream/twilio/ek_F"`) {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestTwimlActionCompletedHangsUp(t *testing.T) {
	h := TwimlActionHandler{Config: baseConfig(), Minter: &fakeMinter{err: errors.New("must not mint")}}

	form := url.Values{}
	form.Set("DialCallStatus", "completed")
	req := httptest.NewRequest(http.MethodPost, "/twiml/action", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if !strings.Contains(rr.Body.String(), "<Hangup>") {
		t.Fatalf("body = %s", rr.Body.String())
	}
}
