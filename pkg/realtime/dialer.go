package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultModelURL is the realtime WebSocket base.
const DefaultModelURL = "wss://api.openai.com/v1/realtime"

// HandshakeTimeout bounds the model WebSocket handshake.
const HandshakeTimeout = 15 * time.Second

// Dialer opens authenticated model WebSockets.
type Dialer struct {
	BaseURL string
	// UseSubprotocolAuth switches from the Authorization header to the
	// realtime/insecure-api-key subprotocol pair (the browser fallback).
	UseSubprotocolAuth bool
	HandshakeTimeout   time.Duration
}

// Dial connects to the model for the given model id, authenticating with the
// supplied token (an API key or ephemeral credential).
func (d *Dialer) Dial(ctx context.Context, model, token string) (*websocket.Conn, error) {
	base := d.BaseURL
	if base == "" {
		base = DefaultModelURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse model url: %w", err)
	}
	q := u.Query()
	q.Set("model", model)
	u.RawQuery = q.Encode()

	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = HandshakeTimeout
	}
	dialer := websocket.Dialer{
		HandshakeTimeout:  timeout,
		EnableCompression: false,
	}

	header := http.Header{}
	if d.UseSubprotocolAuth {
		dialer.Subprotocols = []string{"realtime", "openai-insecure-api-key." + token}
	} else {
		header.Set("Authorization", "Bearer "+token)
	}
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("model handshake: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("model handshake: %w", err)
	}
	return conn, nil
}
