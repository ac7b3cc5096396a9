package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestMinter(url string) *Minter {
	m := NewMinter("sk-test", "", "")
	m.URL = url
	return m
}

func TestMintSanitizesSession(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		_, _ = w.Write([]byte(`{"client_secret":{"value":"ek_X","expires_at":1700000600}}`))
	}))
	defer srv.Close()

	cred, err := newTestMinter(srv.URL).Mint(context.Background(), MintRequest{
		Session: map[string]any{
			"model":               "gpt-realtime",
			"instructions":        "be nice",
			"voice":               "marin",
			"temperature":         0.9,
			"turn_detection":      map[string]any{"type": "server_vad"},
			"tools":               []any{map[string]any{"name": "x"}},
			"output_audio_format": "g711_ulaw",
		},
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if cred.Token != "ek_X" || cred.ExpiresAt != 1700000600 {
		t.Fatalf("cred = %+v", cred)
	}

	session, ok := captured["session"].(map[string]any)
	if !ok {
		t.Fatalf("payload session = %v", captured["session"])
	}
	allowed := map[string]struct{}{"type": {}, "model": {}, "instructions": {}, "prompt": {}}
	for k := range session {
		if _, ok := allowed[k]; !ok {
			t.Fatalf("field %q leaked into mint payload", k)
		}
	}
	if session["type"] != "realtime" || session["model"] != "gpt-realtime" {
		t.Fatalf("session = %v", session)
	}
	if _, ok := captured["server"]; ok {
		t.Fatal("server field must be absent without a webhook ref")
	}
}

func TestSanitizeMintSessionCoercesPromptVersion(t *testing.T) {
	out := SanitizeMintSession(map[string]any{
		"prompt": map[string]any{"id": "pmpt_1", "version": float64(3)},
	})
	prompt := out["prompt"].(map[string]any)
	if prompt["version"] != "3" {
		t.Fatalf("version = %v (%T)", prompt["version"], prompt["version"])
	}

	out = SanitizeMintSession(map[string]any{
		"prompt": map[string]any{"id": "pmpt_1", "version": "7"},
	})
	if out["prompt"].(map[string]any)["version"] != "7" {
		t.Fatal("string version must pass through")
	}
}

func TestMintForwardsWebhookRef(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		_, _ = w.Write([]byte(`{"value":"ek_Y","expires_at":1}`))
	}))
	defer srv.Close()

	_, err := newTestMinter(srv.URL).Mint(context.Background(), MintRequest{
		Webhook: &WebhookRef{URL: "https://host/control", Secret: "s"},
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	server, ok := captured["server"].(map[string]any)
	if !ok || server["url"] != "https://host/control" || server["secret"] != "s" {
		t.Fatalf("server = %v", captured["server"])
	}
}

func TestMintResponseShapes(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"nested", `{"client_secret":{"value":"ek_Z","expires_at":42}}`},
		{"flat secret", `{"client_secret":"ek_Z","expires_at":42}`},
		{"bare value", `{"value":"ek_Z","expires_at":42}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cred, err := parseMintResponse(200, []byte(tc.body))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if cred.Token != "ek_Z" || cred.ExpiresAt != 42 {
				t.Fatalf("cred = %+v", cred)
			}
		})
	}
}

func TestMintUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid model"}}`))
	}))
	defer srv.Close()

	_, err := newTestMinter(srv.URL).Mint(context.Background(), MintRequest{})
	var mintErr *MintError
	if !errors.As(err, &mintErr) {
		t.Fatalf("err = %v, want *MintError", err)
	}
	if mintErr.Status != http.StatusBadRequest || mintErr.Message != "invalid model" {
		t.Fatalf("mintErr = %+v", mintErr)
	}
}

func TestMintMissingValueIsFatal(t *testing.T) {
	if _, err := parseMintResponse(200, []byte(`{"expires_at":42}`)); err == nil {
		t.Fatal("missing value must be an error")
	}
}

func TestMintExpiryBounds(t *testing.T) {
	m := newTestMinter("http://unused")
	if _, err := m.Mint(context.Background(), MintRequest{ExpiresAfterSeconds: 10}); err == nil {
		t.Fatal("expiry below minimum must be rejected")
	}
	if _, err := m.Mint(context.Background(), MintRequest{ExpiresAfterSeconds: 7200}); err == nil {
		t.Fatal("expiry above maximum must be rejected")
	}
}
