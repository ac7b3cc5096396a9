package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voxline/voxline/pkg/control"
	"github.com/voxline/voxline/pkg/realtime"
	"github.com/voxline/voxline/pkg/transcript"
)

// Connection states, for logging.
const (
	stateAwaitingStart          = "awaiting_start"
	stateConnecting             = "connecting"
	stateAwaitingSessionCreated = "awaiting_session_created"
	stateActive                 = "active"
	stateResponseActive         = "response_active"
	stateClosing                = "closing"
)

// Config tunes the per-call relay.
type Config struct {
	// Model id sent on the model connect URL.
	Model string
	// PathPrefix is the mount point of the bridge endpoint; the credential
	// may ride in the path segment after it.
	PathPrefix string
	// HeartbeatInterval paces WebSocket pings on both sockets so idle
	// proxies keep long silences alive. Default 25 s.
	HeartbeatInterval time.Duration
	// WriteTimeout bounds individual socket writes. Default 5 s.
	WriteTimeout time.Duration
}

// Observer receives bridge lifecycle counters. Satisfied by
// gateway/metrics.Metrics; nil disables observation.
type Observer interface {
	CallStarted()
	CallEnded()
	FramesDropped(n int)
	ModelEvent(kind string)
}

// Handler owns the carrier-facing WebSocket endpoint: one call per
// connection, each call an independent relay with its own two sockets, pacer,
// and heartbeat.
type Handler struct {
	Config      Config
	Control     *control.State
	Transcripts transcript.Store
	Logger      *slog.Logger
	Observer    Observer

	// Dial opens the model socket; overridable in tests.
	Dial func(ctx context.Context, model, token string) (*websocket.Conn, error)

	// Tracks live calls for graceful drain.
	wg sync.WaitGroup
}

// ServeHTTP upgrades the carrier connection and runs the call to completion.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if !websocket.IsWebSocketUpgrade(r) {
		w.Header().Set("Upgrade", "websocket")
		http.Error(w, "upgrade required", http.StatusUpgradeRequired)
		return
	}

	token := h.credentialFromRequest(r)

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	// Echo the first requested subprotocol; the carrier refuses the upgrade
	// without it.
	if requested := firstSubprotocol(r); requested != "" {
		upgrader.Subprotocols = []string{requested}
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("carrier upgrade failed", "error", err)
		return
	}

	if token == "" {
		logger.Warn("carrier connected without credential")
		closeWS(conn, websocket.ClosePolicyViolation, "missing credential")
		_ = conn.Close()
		return
	}

	c := &call{
		handler: h,
		cfg:     h.Config,
		carrier: conn,
		token:   token,
		logger:  logger,
		state:   stateAwaitingStart,
	}
	c.ctx, c.cancel = context.WithCancel(r.Context())

	h.wg.Add(1)
	if h.Observer != nil {
		h.Observer.CallStarted()
	}
	defer func() {
		if h.Observer != nil {
			h.Observer.CallEnded()
		}
		h.wg.Done()
	}()

	c.run()
}

// Wait blocks until every active call has finished or ctx expires.
func (h *Handler) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// credentialFromRequest tries, in order: a URL path segment after the mount
// point, the `secret` query parameter, and a form-encoded fallback. Some
// carriers strip query strings, so the path form is tried first.
func (h *Handler) credentialFromRequest(r *http.Request) string {
	rest := strings.TrimPrefix(r.URL.Path, h.Config.PathPrefix)
	rest = strings.Trim(rest, "/")
	if rest != "" {
		if seg, err := url.PathUnescape(strings.SplitN(rest, "/", 2)[0]); err == nil && seg != "" {
			return seg
		}
	}
	if secret := r.URL.Query().Get("secret"); secret != "" {
		return secret
	}
	if err := r.ParseForm(); err == nil {
		if secret := r.PostForm.Get("secret"); secret != "" {
			return secret
		}
	}
	return ""
}

func firstSubprotocol(r *http.Request) string {
	raw := r.Header.Get("Sec-WebSocket-Protocol")
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(strings.SplitN(raw, ",", 2)[0])
}

// call is the per-connection session record. The carrier read loop, the
// model read loop, the pacer, and the heartbeat are the only routines that
// touch it.
type call struct {
	handler *Handler
	cfg     Config
	logger  *slog.Logger
	token   string

	ctx    context.Context
	cancel context.CancelFunc

	carrier   *websocket.Conn
	carrierMu sync.Mutex

	model   *websocket.Conn
	modelMu sync.Mutex

	streamSID string
	callSID   string

	stateMu sync.Mutex
	state   string

	// Written by the carrier loop, read by the model loop.
	latestMediaMS atomic.Int64
	// sessionConfigured flips after the initial session.update is sent;
	// audio is never forwarded before it.
	sessionConfigured atomic.Bool

	// Model-loop-only per-response state.
	lastAssistantItem   string
	responseStartMS     int64
	haveResponseStart   bool
	responseActive      bool
	interruptedThisTurn bool

	// Carrier-provided overrides, filtered to the allow-list.
	overrides map[string]json.RawMessage
	// Remembered for per-turn response.create overrides.
	turnVoice        string
	turnOutputFormat string
	turnTemperature  *float64
	turnMaxTokens    json.RawMessage

	buffer    *FrameBuffer
	startedAt time.Time

	closeOnce sync.Once
}

func (c *call) setState(s string) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

func (c *call) currentState() string {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *call) run() {
	defer c.teardown(websocket.CloseNormalClosure, "call ended")
	c.startedAt = time.Now()
	c.readCarrier()
}

// readCarrier is the carrier-side loop; its return ends the call.
func (c *call) readCarrier() {
	for {
		_, data, err := c.carrier.ReadMessage()
		if err != nil {
			c.logger.Info("carrier socket closed", "call_sid", c.callSID, "error", err)
			return
		}

		var frame carrierFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			// One malformed frame never ends a call.
			c.logger.Warn("malformed carrier frame dropped", "call_sid", c.callSID, "error", err)
			continue
		}

		switch frame.Event {
		case carrierEventConnected:
			// Informational preamble before start.
		case carrierEventStart:
			if frame.Start == nil {
				c.logger.Warn("start frame without start payload")
				continue
			}
			if err := c.handleStart(frame.Start); err != nil {
				c.logger.Error("bridge start failed", "call_sid", c.callSID, "error", err)
				c.teardown(websocket.CloseInternalServerErr, "model connect failed")
				return
			}
		case carrierEventMedia:
			c.handleCarrierMedia(frame.Media)
		case carrierEventMark:
			c.handleCarrierMark(frame.Mark)
		case carrierEventStop:
			c.logger.Info("carrier stop", "call_sid", c.callSID)
			return
		default:
			c.logger.Debug("unhandled carrier event", "event", frame.Event)
		}
	}
}

func (c *call) handleStart(start *carrierStart) error {
	c.streamSID = start.StreamSid
	c.callSID = start.CallSid
	c.setState(stateConnecting)
	c.logger = c.logger.With("stream_sid", c.streamSID, "call_sid", c.callSID)
	c.logger.Info("carrier stream started")

	c.parseOverrides(start.CustomParameters)

	c.buffer = NewFrameBuffer(c.sendCarrierMedia, c.logger, WithDropObserver(func(n int) {
		if c.handler.Observer != nil {
			c.handler.Observer.FramesDropped(n)
		}
	}))

	dial := c.handler.Dial
	if dial == nil {
		dial = func(ctx context.Context, model, token string) (*websocket.Conn, error) {
			return (&realtime.Dialer{}).Dial(ctx, model, token)
		}
	}
	dialCtx, cancel := context.WithTimeout(c.ctx, realtime.HandshakeTimeout)
	defer cancel()
	conn, err := dial(dialCtx, c.cfg.Model, c.token)
	if err != nil {
		return fmt.Errorf("dial model: %w", err)
	}

	c.modelMu.Lock()
	c.model = conn
	c.modelMu.Unlock()
	c.setState(stateAwaitingSessionCreated)

	go c.readModel(conn)
	go c.heartbeat()
	return nil
}

// parseOverrides decodes the base64 JSON blob the control document may attach
// as a custom parameter and filters it to the allowed session keys.
func (c *call) parseOverrides(params map[string]string) {
	blob := params[sessionParameterName]
	if blob == "" {
		return
	}
	decoded, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		c.logger.Warn("undecodable session parameter ignored", "error", err)
		return
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(decoded, &raw); err != nil {
		c.logger.Warn("unparseable session parameter ignored", "error", err)
		return
	}
	c.overrides = realtime.FilterSessionOverrides(raw)

	if v, ok := c.overrides["voice"]; ok {
		_ = json.Unmarshal(v, &c.turnVoice)
	}
	if v, ok := c.overrides["output_audio_format"]; ok {
		_ = json.Unmarshal(v, &c.turnOutputFormat)
	}
	if v, ok := c.overrides["temperature"]; ok {
		var f float64
		if json.Unmarshal(v, &f) == nil {
			c.turnTemperature = &f
		}
	}
	if v, ok := c.overrides["max_response_output_tokens"]; ok {
		c.turnMaxTokens = v
	}
}

func (c *call) handleCarrierMedia(media *carrierMedia) {
	if media == nil {
		return
	}
	if ts, err := strconv.ParseInt(media.Timestamp, 10, 64); err == nil {
		c.latestMediaMS.Store(ts)
	}
	// Until the session is configured the carrier is ahead of us; frames are
	// dropped rather than buffered because the carrier is not paced by us.
	if !c.sessionConfigured.Load() {
		return
	}
	c.writeModel(realtime.InputAudioAppendEvent{
		Type:  realtime.EventInputAudioAppend,
		Audio: media.Payload,
	})
}

func (c *call) handleCarrierMark(mark *carrierMark) {
	if mark == nil || mark.Name != commitMarkName {
		return
	}
	if !c.sessionConfigured.Load() {
		return
	}
	c.writeModel(realtime.SimpleEvent{Type: realtime.EventInputAudioCommit})
	c.writeModel(realtime.ResponseCreateEvent{
		Type:     realtime.EventResponseCreate,
		Response: c.responseOverrides(),
	})
}

// responseOverrides builds the per-turn response.create overrides: voice,
// temperature, token cap, and the output format (μ-law unless overridden).
func (c *call) responseOverrides() map[string]any {
	response := map[string]any{}
	if c.turnVoice != "" {
		response["voice"] = c.turnVoice
	}
	if c.turnTemperature != nil {
		response["temperature"] = *c.turnTemperature
	}
	if len(c.turnMaxTokens) > 0 {
		var v any
		if json.Unmarshal(c.turnMaxTokens, &v) == nil {
			response["max_output_tokens"] = v
		}
	}
	format := c.turnOutputFormat
	if format == "" {
		format = realtime.CodecULaw
	}
	response["output_audio_format"] = format
	return response
}

// readModel is the model-side loop.
func (c *call) readModel(conn *websocket.Conn) {
	defer c.teardown(websocket.CloseNormalClosure, "model closed")
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Info("model socket closed", "call_sid", c.callSID, "error", err)
			return
		}
		ev, err := realtime.ParseServerEvent(data)
		if err != nil {
			c.logger.Warn("malformed model event dropped", "error", err)
			continue
		}
		c.handleModelEvent(ev)
	}
}

func (c *call) handleModelEvent(ev realtime.ServerEvent) {
	kind := realtime.CanonicalType(ev.Type)
	if c.handler.Observer != nil {
		c.handler.Observer.ModelEvent(kind)
	}

	switch kind {
	case realtime.EventSessionCreated:
		c.sendSessionUpdate()
	case realtime.EventSessionUpdated:
		c.logger.Info("model session updated")
	case realtime.EventResponseCreated:
		c.setState(stateResponseActive)
		c.responseActive = true
		c.interruptedThisTurn = false
	case realtime.EventOutputItemAdded, realtime.EventOutputItemDone:
		if ev.Item != nil && ev.Item.ID != "" {
			c.lastAssistantItem = ev.Item.ID
		} else if ev.ItemID != "" {
			c.lastAssistantItem = ev.ItemID
		}
	case realtime.EventOutputAudioDelta:
		c.handleAudioDelta(ev)
	case realtime.EventTranscriptDelta:
		c.appendTranscript(transcript.KindAudioTranscriptDelta, firstNonEmpty(ev.Delta, ev.Transcript))
	case realtime.EventOutputTextDelta:
		c.appendTranscript(transcript.KindTextDelta, firstNonEmpty(ev.Delta, ev.Text))
	case realtime.EventOutputTextDone:
		// Text stream completion; nothing to reset.
	case realtime.EventOutputAudioDone, realtime.EventTranscriptDone,
		realtime.EventResponseDone, realtime.EventResponseCancelled:
		c.setState(stateActive)
		c.responseActive = false
		c.haveResponseStart = false
		c.responseStartMS = 0
	case realtime.EventSpeechStarted:
		c.handleBargeIn()
	case realtime.EventSpeechStopped, realtime.EventInputAudioCommitted, realtime.EventInputAudioCleared:
		// Input buffer bookkeeping; nothing to relay.
	case realtime.EventInputTranscriptDone:
		c.logger.Info("caller transcript", "transcript", ev.Transcript)
	case realtime.EventInputTranscriptFail:
		c.logger.Warn("caller transcription failed")
	case realtime.EventRateLimitsUpdated:
		c.logger.Info("model rate limits updated")
	case realtime.EventError:
		// The protocol keeps the connection open across error events.
		if ev.Error != nil {
			c.logger.Warn("model error event", "code", ev.Error.Code, "message", ev.Error.Message)
		} else {
			c.logger.Warn("model error event")
		}
	default:
		c.logger.Debug("unhandled model event", "type", ev.Type)
	}
}

// sendSessionUpdate merges carrier overrides over control-plane defaults and
// forces the telephony codec, then marks the session configured.
func (c *call) sendSessionUpdate() {
	session := map[string]any{"type": realtime.SessionType}
	for k, raw := range c.overrides {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			session[k] = v
		}
	}
	if c.handler.Control != nil {
		for k, v := range c.handler.Control.Session() {
			if _, ok := session[k]; !ok {
				session[k] = v
			}
		}
	}
	// The carrier speaks μ-law 8 kHz and nothing else; a mismatched override
	// or default would produce noise on the wire.
	session["input_audio_format"] = realtime.CodecULaw
	session["output_audio_format"] = realtime.CodecULaw

	c.writeModel(realtime.SessionUpdateEvent{Type: realtime.EventSessionUpdate, Session: session})
	c.sessionConfigured.Store(true)
	c.setState(stateActive)
	c.logger.Info("session configured", "override_fields", len(c.overrides))
}

func (c *call) handleAudioDelta(ev realtime.ServerEvent) {
	if ev.ItemID != "" {
		c.lastAssistantItem = ev.ItemID
	}
	if !c.haveResponseStart {
		c.responseStartMS = c.latestMediaMS.Load()
		c.haveResponseStart = true
	}

	audio, err := base64.StdEncoding.DecodeString(ev.Delta)
	if err != nil {
		c.logger.Warn("undecodable audio delta dropped", "error", err)
		return
	}
	if c.buffer != nil {
		c.buffer.Enqueue(audio)
	}

	// A mark per delta lets the carrier tell us how far playback got.
	c.writeCarrier(carrierMarkOut{
		Event:     carrierEventMark,
		StreamSid: c.streamSID,
		Mark:      carrierMark{Name: "delta-" + uuid.NewString()},
	})
}

// handleBargeIn implements the interruption protocol: stop our egress, flush
// the carrier's playback buffer, and tell the model exactly how much of the
// response the caller actually heard.
func (c *call) handleBargeIn() {
	if c.buffer != nil {
		c.buffer.Clear()
	}
	c.writeCarrier(carrierClearOut{Event: carrierEventClear, StreamSid: c.streamSID})

	if c.responseActive && c.lastAssistantItem != "" && !c.interruptedThisTurn {
		var audioEndMS int64
		if c.haveResponseStart {
			audioEndMS = c.latestMediaMS.Load() - c.responseStartMS
			if audioEndMS < 0 {
				audioEndMS = 0
			}
		}
		c.writeModel(realtime.ItemTruncateEvent{
			Type:         realtime.EventItemTruncate,
			ItemID:       c.lastAssistantItem,
			ContentIndex: 0,
			AudioEndMS:   audioEndMS,
		})
		c.interruptedThisTurn = true
		c.logger.Info("assistant truncated for barge-in", "item_id", c.lastAssistantItem, "audio_end_ms", audioEndMS)
	}

	c.lastAssistantItem = ""
	c.haveResponseStart = false
	c.responseStartMS = 0
}

func (c *call) appendTranscript(kind, text string) {
	if text == "" || c.handler.Transcripts == nil {
		return
	}
	key := c.callSID
	if key == "" {
		key = c.streamSID
	}
	if key == "" {
		return
	}
	_ = c.handler.Transcripts.Append(c.ctx, key, transcript.Entry{
		TimestampMS: time.Since(c.startedAt).Milliseconds(),
		Kind:        kind,
		Text:        text,
	})
}

// heartbeat pings both sockets so intermediate proxies keep idle connections
// open through long silences.
func (c *call) heartbeat() {
	interval := c.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 25 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.writeTimeout())
			_ = c.carrier.WriteControl(websocket.PingMessage, nil, deadline)
			c.modelMu.Lock()
			model := c.model
			c.modelMu.Unlock()
			if model != nil {
				_ = model.WriteControl(websocket.PingMessage, nil, deadline)
			}
		}
	}
}

func (c *call) writeTimeout() time.Duration {
	if c.cfg.WriteTimeout > 0 {
		return c.cfg.WriteTimeout
	}
	return 5 * time.Second
}

// sendCarrierMedia is the frame-buffer sink: one paced μ-law frame out.
func (c *call) sendCarrierMedia(frame []byte) error {
	return c.writeCarrier(carrierMediaOut{
		Event:     carrierEventMedia,
		StreamSid: c.streamSID,
		Media:     carrierMediaBody{Payload: base64.StdEncoding.EncodeToString(frame)},
	})
}

func (c *call) writeCarrier(v any) error {
	c.carrierMu.Lock()
	defer c.carrierMu.Unlock()
	_ = c.carrier.SetWriteDeadline(time.Now().Add(c.writeTimeout()))
	return c.carrier.WriteJSON(v)
}

func (c *call) writeModel(v any) {
	c.modelMu.Lock()
	defer c.modelMu.Unlock()
	if c.model == nil {
		return
	}
	_ = c.model.SetWriteDeadline(time.Now().Add(c.writeTimeout()))
	if err := c.model.WriteJSON(v); err != nil {
		c.logger.Warn("model write failed", "error", err)
	}
}

// teardown is the single closing transition: both sockets closed, pacer and
// heartbeat stopped. Safe to call from either read loop.
func (c *call) teardown(code int, reason string) {
	c.closeOnce.Do(func() {
		c.setState(stateClosing)
		c.cancel()
		if c.buffer != nil {
			c.buffer.Shutdown()
		}

		closeWS(c.carrier, code, reason)
		_ = c.carrier.Close()

		c.modelMu.Lock()
		model := c.model
		c.model = nil
		c.modelMu.Unlock()
		if model != nil {
			closeWS(model, websocket.CloseNormalClosure, "call ended")
			_ = model.Close()
		}
		c.logger.Info("bridge closed", "call_sid", c.callSID, "state", c.currentState(), "reason", reason)
	})
}

func closeWS(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
