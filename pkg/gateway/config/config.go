package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the process configuration, loaded once at startup.
type Config struct {
	Addr string

	// Deployment.
	PublicBaseURL string // https base the carrier can reach
	BridgeWSURL   string // external bridge WebSocket override, if split-host

	// Model side.
	OpenAIAPIKey      string
	OpenAIOrgID       string
	OpenAIProjectID   string
	ModelWSBaseURL    string
	CredentialBaseURL string
	SIPGateway        string

	// Carrier side.
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	// Control-plane auth.
	ControlSecret        string
	ControlSigningSecret string
	ControlAdminSecret   string
	ControlTolerance     time.Duration

	// Transcript backend.
	RedisURL string

	// Control-document defaults.
	TwimlDefaultMode string
	// CredentialInQuery switches the stream URL from a path-segment
	// credential to a ?secret= query parameter for carriers that keep query
	// strings intact.
	CredentialInQuery bool

	// Bridge tuning.
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration

	// Session defaults (the control plane's bottom layer).
	Model               string
	Voice               string
	Modalities          []string
	Temperature         float64
	MaxOutputTokens     string // positive integer or "inf"
	TurnDetectionMode   string // "server_vad" or "none"
	VADThreshold        float64
	VADPrefixMS         int
	VADSilenceMS        int
	VADCreateResponse   bool
	InputSampleRate     int
	CodecPreference     string
	TranscriptionOn     bool
	TranscriptionModel  string
	TranscriptionLang   string
	TranscriptionPrompt string
	NoiseReduction      string // "off" or "near_field"
	Instructions        string
	PromptID            string
	PromptVersion       string
	TokenExpirySeconds  int64

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

// LoadFromEnv reads and validates the configuration.
func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                 envOr("VOXLINE_ADDR", ":8080"),
		PublicBaseURL:        strings.TrimRight(envOr("PUBLIC_BASE_URL", ""), "/"),
		BridgeWSURL:          strings.TrimRight(envOr("BRIDGE_WS_URL", ""), "/"),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		OpenAIOrgID:          os.Getenv("OPENAI_ORG_ID"),
		OpenAIProjectID:      os.Getenv("OPENAI_PROJECT_ID"),
		ModelWSBaseURL:       envOr("REALTIME_WS_URL", "wss://api.openai.com/v1/realtime"),
		CredentialBaseURL:    envOr("REALTIME_CREDENTIAL_URL", "https://api.openai.com/v1/realtime/client_secrets"),
		SIPGateway:           envOr("REALTIME_SIP_GATEWAY", "sip.api.openai.com"),
		TwilioAccountSID:     os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:      os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:     os.Getenv("TWILIO_FROM_NUMBER"),
		ControlSecret:        os.Getenv("REALTIME_CONTROL_SECRET"),
		ControlSigningSecret: os.Getenv("REALTIME_CONTROL_SIGNING_SECRET"),
		ControlAdminSecret:   os.Getenv("REALTIME_CONTROL_ADMIN_SECRET"),
		ControlTolerance:     time.Duration(envInt64Or("REALTIME_CONTROL_TOLERANCE_SECONDS", 300)) * time.Second,
		RedisURL:             os.Getenv("REDIS_URL"),
		TwimlDefaultMode:     strings.ToLower(envOr("TWIML_DEFAULT_MODE", "sip")),
		CredentialInQuery:    envBoolOr("TWIML_CREDENTIAL_IN_QUERY", false),
		HeartbeatInterval:    envDurationOr("BRIDGE_HEARTBEAT_INTERVAL", 25*time.Second),
		WriteTimeout:         envDurationOr("BRIDGE_WRITE_TIMEOUT", 5*time.Second),
		Model:                envOr("REALTIME_MODEL", "gpt-realtime"),
		Voice:                envOr("REALTIME_VOICE", "marin"),
		Modalities:           splitCSV(envOr("REALTIME_MODALITIES", "audio,text")),
		Temperature:          envFloat64Or("REALTIME_TEMPERATURE", 0.8),
		MaxOutputTokens:      envOr("REALTIME_MAX_OUTPUT_TOKENS", "inf"),
		TurnDetectionMode:    strings.ToLower(envOr("REALTIME_TURN_DETECTION", "server_vad")),
		VADThreshold:         envFloat64Or("REALTIME_VAD_THRESHOLD", 0.5),
		VADPrefixMS:          envIntOr("REALTIME_VAD_PREFIX_MS", 300),
		VADSilenceMS:         envIntOr("REALTIME_VAD_SILENCE_MS", 500),
		VADCreateResponse:    envBoolOr("REALTIME_VAD_CREATE_RESPONSE", true),
		InputSampleRate:      envIntOr("REALTIME_INPUT_SAMPLE_RATE", 8000),
		CodecPreference:      envOr("REALTIME_AUDIO_CODEC", "g711_ulaw"),
		TranscriptionOn:      envBoolOr("REALTIME_TRANSCRIPTION_ENABLED", false),
		TranscriptionModel:   envOr("REALTIME_TRANSCRIPTION_MODEL", "whisper-1"),
		TranscriptionLang:    os.Getenv("REALTIME_TRANSCRIPTION_LANGUAGE"),
		TranscriptionPrompt:  os.Getenv("REALTIME_TRANSCRIPTION_PROMPT"),
		NoiseReduction:       strings.ToLower(envOr("REALTIME_NOISE_REDUCTION", "off")),
		Instructions:         os.Getenv("REALTIME_INSTRUCTIONS"),
		PromptID:             os.Getenv("REALTIME_PROMPT_ID"),
		PromptVersion:        os.Getenv("REALTIME_PROMPT_VERSION"),
		TokenExpirySeconds:   envInt64Or("REALTIME_TOKEN_EXPIRY_SECONDS", 600),
		ReadHeaderTimeout:    envDurationOr("VOXLINE_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:  envDurationOr("VOXLINE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.TwimlDefaultMode {
	case "sip", "stream", "simple":
	default:
		return Config{}, fmt.Errorf("TWIML_DEFAULT_MODE must be one of sip|stream|simple")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return Config{}, fmt.Errorf("REALTIME_TEMPERATURE must be in [0, 2]")
	}
	if cfg.MaxOutputTokens != "inf" && cfg.MaxOutputTokens != "unbounded" {
		n, err := strconv.Atoi(cfg.MaxOutputTokens)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("REALTIME_MAX_OUTPUT_TOKENS must be a positive integer or inf")
		}
	}
	switch cfg.TurnDetectionMode {
	case "server_vad", "none", "off":
	default:
		return Config{}, fmt.Errorf("REALTIME_TURN_DETECTION must be server_vad|none")
	}
	if cfg.VADThreshold < 0 || cfg.VADThreshold > 1 {
		return Config{}, fmt.Errorf("REALTIME_VAD_THRESHOLD must be in [0, 1]")
	}
	if cfg.VADPrefixMS < 0 || cfg.VADPrefixMS > 2000 {
		return Config{}, fmt.Errorf("REALTIME_VAD_PREFIX_MS must be in [0, 2000]")
	}
	if cfg.VADSilenceMS < 50 || cfg.VADSilenceMS > 5000 {
		return Config{}, fmt.Errorf("REALTIME_VAD_SILENCE_MS must be in [50, 5000]")
	}
	switch cfg.NoiseReduction {
	case "off", "near_field":
	default:
		return Config{}, fmt.Errorf("REALTIME_NOISE_REDUCTION must be off|near_field")
	}
	if cfg.TokenExpirySeconds < 60 || cfg.TokenExpirySeconds > 3600 {
		return Config{}, fmt.Errorf("REALTIME_TOKEN_EXPIRY_SECONDS must be in [60, 3600]")
	}
	if cfg.Instructions != "" && cfg.PromptID != "" {
		return Config{}, fmt.Errorf("REALTIME_INSTRUCTIONS and REALTIME_PROMPT_ID are mutually exclusive")
	}
	if cfg.HeartbeatInterval <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_HEARTBEAT_INTERVAL must be > 0")
	}
	if cfg.WriteTimeout <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_WRITE_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXLINE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOXLINE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.PublicBaseURL != "" {
		if _, err := url.Parse(cfg.PublicBaseURL); err != nil {
			return Config{}, fmt.Errorf("PUBLIC_BASE_URL is not a valid url: %w", err)
		}
	}

	return cfg, nil
}

// SessionDefaults builds the control plane's default session payload from the
// environment-derived configuration.
func (c Config) SessionDefaults() map[string]any {
	session := map[string]any{
		"type":                "realtime",
		"model":               c.Model,
		"voice":               c.Voice,
		"modalities":          c.Modalities,
		"temperature":         c.Temperature,
		"input_audio_format":  c.CodecPreference,
		"output_audio_format": c.CodecPreference,
	}
	if c.MaxOutputTokens == "inf" || c.MaxOutputTokens == "unbounded" {
		session["max_response_output_tokens"] = "inf"
	} else if n, err := strconv.Atoi(c.MaxOutputTokens); err == nil {
		session["max_response_output_tokens"] = n
	}
	if c.Instructions != "" {
		session["instructions"] = c.Instructions
	} else if c.PromptID != "" {
		prompt := map[string]any{"id": c.PromptID}
		if c.PromptVersion != "" {
			prompt["version"] = c.PromptVersion
		}
		session["prompt"] = prompt
	}
	switch c.TurnDetectionMode {
	case "none", "off":
		session["turn_detection"] = nil
	default:
		session["turn_detection"] = map[string]any{
			"type":                "server_vad",
			"threshold":           c.VADThreshold,
			"prefix_padding_ms":   c.VADPrefixMS,
			"silence_duration_ms": c.VADSilenceMS,
			"create_response":     c.VADCreateResponse,
			"interrupt_response":  true,
		}
	}
	if c.TranscriptionOn {
		transcription := map[string]any{"model": c.TranscriptionModel}
		if c.TranscriptionLang != "" {
			transcription["language"] = c.TranscriptionLang
		}
		if c.TranscriptionPrompt != "" {
			transcription["prompt"] = c.TranscriptionPrompt
		}
		session["input_audio_transcription"] = transcription
	}
	if c.NoiseReduction == "near_field" {
		session["input_audio_noise_reduction"] = map[string]any{"type": "near_field"}
	}
	return session
}

// BridgeStreamURL is the WebSocket URL the control document hands the
// carrier, with the credential embedded in the path or query.
func (c Config) BridgeStreamURL(token string) string {
	base := c.BridgeWSURL
	if base == "" {
		base = wsBase(c.PublicBaseURL)
	}
	base = strings.TrimRight(base, "/") + "/stream/twilio"
	if c.CredentialInQuery {
		return base + "?secret=" + url.QueryEscape(token)
	}
	return base + "/" + url.PathEscape(token)
}

func wsBase(httpBase string) string {
	switch {
	case strings.HasPrefix(httpBase, "https://"):
		return "wss://" + strings.TrimPrefix(httpBase, "https://")
	case strings.HasPrefix(httpBase, "http://"):
		return "ws://" + strings.TrimPrefix(httpBase, "http://")
	default:
		return httpBase
	}
}

// EnvCheck reports which recognized env vars are present.
func EnvCheck() map[string]map[string]bool {
	required := []string{"OPENAI_API_KEY", "PUBLIC_BASE_URL"}
	optional := []string{
		"OPENAI_ORG_ID", "OPENAI_PROJECT_ID",
		"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_FROM_NUMBER",
		"BRIDGE_WS_URL", "REDIS_URL",
		"REALTIME_CONTROL_SECRET", "REALTIME_CONTROL_SIGNING_SECRET",
		"REALTIME_CONTROL_ADMIN_SECRET", "REALTIME_CONTROL_TOLERANCE_SECONDS",
		"REALTIME_MODEL", "REALTIME_VOICE", "REALTIME_MODALITIES",
		"REALTIME_TEMPERATURE", "REALTIME_MAX_OUTPUT_TOKENS",
		"REALTIME_TURN_DETECTION", "REALTIME_VAD_THRESHOLD",
		"REALTIME_VAD_PREFIX_MS", "REALTIME_VAD_SILENCE_MS",
		"REALTIME_VAD_CREATE_RESPONSE", "REALTIME_INPUT_SAMPLE_RATE",
		"REALTIME_AUDIO_CODEC", "REALTIME_TRANSCRIPTION_ENABLED",
		"REALTIME_TRANSCRIPTION_MODEL", "REALTIME_TRANSCRIPTION_LANGUAGE",
		"REALTIME_TRANSCRIPTION_PROMPT", "REALTIME_NOISE_REDUCTION",
		"REALTIME_INSTRUCTIONS", "REALTIME_PROMPT_ID", "REALTIME_PROMPT_VERSION",
		"REALTIME_TOKEN_EXPIRY_SECONDS", "TWIML_DEFAULT_MODE",
	}
	report := map[string]map[string]bool{
		"required": make(map[string]bool, len(required)),
		"optional": make(map[string]bool, len(optional)),
	}
	for _, key := range required {
		report["required"][key] = strings.TrimSpace(os.Getenv(key)) != ""
	}
	for _, key := range optional {
		report["optional"][key] = strings.TrimSpace(os.Getenv(key)) != ""
	}
	return report
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
