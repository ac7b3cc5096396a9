package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultCredentialURL is the model's ephemeral-credential endpoint.
const DefaultCredentialURL = "https://api.openai.com/v1/realtime/client_secrets"

// MintTimeout bounds the outbound call. There is no retry; callers re-mint.
const MintTimeout = 15 * time.Second

// Expiry bounds accepted by the credential endpoint.
const (
	MinExpirySeconds     = 60
	MaxExpirySeconds     = 3600
	DefaultExpirySeconds = 600
)

// The credential endpoint accepts only this subset of session fields; the
// rest of the configuration is applied later via session.update.
var mintSessionKeys = map[string]struct{}{
	"type":         {},
	"model":        {},
	"instructions": {},
	"prompt":       {},
}

// WebhookRef forwards an optional control-webhook the model should pull
// session updates from mid-call.
type WebhookRef struct {
	URL    string `json:"url"`
	Secret string `json:"secret,omitempty"`
}

// MintRequest describes one credential mint.
type MintRequest struct {
	ExpiresAfterSeconds int64
	Session             map[string]any
	Webhook             *WebhookRef
}

// Credential is a single-use opaque token plus its absolute expiry.
type Credential struct {
	Token     string `json:"value"`
	ExpiresAt int64  `json:"expires_at"`
}

// MintError carries the upstream failure so HTTP callers can forward it.
type MintError struct {
	Status  int
	Body    []byte
	Message string
}

func (e *MintError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("mint credential: %s (upstream status %d)", e.Message, e.Status)
	}
	return fmt.Sprintf("mint credential: upstream status %d", e.Status)
}

// Minter issues ephemeral credentials against the model's credential
// endpoint.
type Minter struct {
	URL        string
	APIKey     string
	OrgID      string
	ProjectID  string
	HTTPClient *http.Client
}

func NewMinter(apiKey, orgID, projectID string) *Minter {
	return &Minter{
		URL:        DefaultCredentialURL,
		APIKey:     apiKey,
		OrgID:      orgID,
		ProjectID:  projectID,
		HTTPClient: &http.Client{Timeout: MintTimeout},
	}
}

// Mint POSTs a sanitized session payload and returns the credential.
func (m *Minter) Mint(ctx context.Context, req MintRequest) (Credential, error) {
	if strings.TrimSpace(m.APIKey) == "" {
		return Credential{}, fmt.Errorf("api key is not configured")
	}

	expires := req.ExpiresAfterSeconds
	if expires <= 0 {
		expires = DefaultExpirySeconds
	}
	if expires < MinExpirySeconds || expires > MaxExpirySeconds {
		return Credential{}, fmt.Errorf("expires_after.seconds must be in [%d, %d]", MinExpirySeconds, MaxExpirySeconds)
	}

	payload := map[string]any{
		"expires_after": map[string]any{
			"anchor":  "created_at",
			"seconds": expires,
		},
		"session": SanitizeMintSession(req.Session),
	}
	if req.Webhook != nil && strings.TrimSpace(req.Webhook.URL) != "" {
		server := map[string]any{"url": req.Webhook.URL}
		if req.Webhook.Secret != "" {
			server["secret"] = req.Webhook.Secret
		}
		payload["server"] = server
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Credential{}, fmt.Errorf("marshal mint payload: %w", err)
	}

	url := m.URL
	if url == "" {
		url = DefaultCredentialURL
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Credential{}, fmt.Errorf("build mint request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+m.APIKey)
	if m.OrgID != "" {
		httpReq.Header.Set("OpenAI-Organization", m.OrgID)
	}
	if m.ProjectID != "" {
		httpReq.Header.Set("OpenAI-Project", m.ProjectID)
	}

	client := m.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: MintTimeout}
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return Credential{}, fmt.Errorf("mint credential: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Credential{}, fmt.Errorf("read mint response: %w", err)
	}
	return parseMintResponse(resp.StatusCode, respBody)
}

// SanitizeMintSession restricts the session payload to the fields the
// credential endpoint accepts and coerces a numeric prompt.version to string.
func SanitizeMintSession(session map[string]any) map[string]any {
	out := map[string]any{"type": SessionType}
	for k, v := range session {
		if _, ok := mintSessionKeys[k]; !ok {
			continue
		}
		out[k] = v
	}
	if prompt, ok := out["prompt"].(map[string]any); ok {
		clean := make(map[string]any, len(prompt))
		for k, v := range prompt {
			clean[k] = v
		}
		if version, ok := clean["version"]; ok {
			if f, isNum := toFloat(version); isNum {
				clean["version"] = strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", f), "0"), ".")
				if f == float64(int64(f)) {
					clean["version"] = fmt.Sprintf("%d", int64(f))
				}
			}
		}
		out["prompt"] = clean
	}
	return out
}

func parseMintResponse(status int, body []byte) (Credential, error) {
	var envelope struct {
		ClientSecret json.RawMessage    `json:"client_secret"`
		Value        string             `json:"value"`
		ExpiresAt    int64              `json:"expires_at"`
		Error        *EventErrorPayload `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil && status < 400 {
		return Credential{}, &MintError{Status: status, Body: body, Message: "unparseable credential response"}
	}

	if envelope.Error != nil {
		return Credential{}, &MintError{Status: status, Body: body, Message: envelope.Error.Message}
	}
	if status >= 400 {
		return Credential{}, &MintError{Status: status, Body: body, Message: http.StatusText(status)}
	}

	// Three shapes are accepted:
	//   {client_secret: {value, expires_at}}
	//   {client_secret: "...", expires_at}
	//   {value: "...", expires_at}
	if len(envelope.ClientSecret) > 0 {
		var nested struct {
			Value     string `json:"value"`
			ExpiresAt int64  `json:"expires_at"`
		}
		if err := json.Unmarshal(envelope.ClientSecret, &nested); err == nil && nested.Value != "" {
			expires := nested.ExpiresAt
			if expires == 0 {
				expires = envelope.ExpiresAt
			}
			return Credential{Token: nested.Value, ExpiresAt: expires}, nil
		}
		var flat string
		if err := json.Unmarshal(envelope.ClientSecret, &flat); err == nil && flat != "" {
			return Credential{Token: flat, ExpiresAt: envelope.ExpiresAt}, nil
		}
	}
	if envelope.Value != "" {
		return Credential{Token: envelope.Value, ExpiresAt: envelope.ExpiresAt}, nil
	}
	return Credential{}, &MintError{Status: status, Body: body, Message: "credential response has no value"}
}
