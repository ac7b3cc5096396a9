// Package server wires the HTTP surface: routes, middleware, and the shared
// process state behind them.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/voxline/voxline/pkg/bridge"
	"github.com/voxline/voxline/pkg/control"
	"github.com/voxline/voxline/pkg/gateway/config"
	"github.com/voxline/voxline/pkg/gateway/handlers"
	"github.com/voxline/voxline/pkg/gateway/metrics"
	"github.com/voxline/voxline/pkg/gateway/mw"
	"github.com/voxline/voxline/pkg/realtime"
	"github.com/voxline/voxline/pkg/transcript"
	"github.com/voxline/voxline/pkg/twilio"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	controlState *control.State
	transcripts  transcript.Store
	minter       *realtime.Minter
	dispatcher   *twilio.Dispatcher
	bridge       *bridge.Handler
	metrics      *metrics.Metrics
	callLog      *handlers.CallLog
}

func New(cfg config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	minter := realtime.NewMinter(cfg.OpenAIAPIKey, cfg.OpenAIOrgID, cfg.OpenAIProjectID)
	if cfg.CredentialBaseURL != "" {
		minter.URL = cfg.CredentialBaseURL
	}

	var dispatcher *twilio.Dispatcher
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		dispatcher = twilio.NewDispatcher(cfg.TwilioAccountSID, cfg.TwilioAuthToken, logger)
	}

	m := metrics.New("voxline")
	controlState := control.NewState(cfg.SessionDefaults())
	transcripts := transcript.New(cfg.RedisURL, logger)

	dialer := &realtime.Dialer{BaseURL: cfg.ModelWSBaseURL}
	bridgeHandler := &bridge.Handler{
		Config: bridge.Config{
			Model:             cfg.Model,
			PathPrefix:        "/stream/twilio",
			HeartbeatInterval: cfg.HeartbeatInterval,
			WriteTimeout:      cfg.WriteTimeout,
		},
		Control:     controlState,
		Transcripts: transcripts,
		Logger:      logger.With("component", "bridge"),
		Observer:    m,
		Dial:        dialer.Dial,
	}

	s := &Server{
		cfg:          cfg,
		logger:       logger,
		mux:          http.NewServeMux(),
		controlState: controlState,
		transcripts:  transcripts,
		minter:       minter,
		dispatcher:   dispatcher,
		bridge:       bridgeHandler,
		metrics:      m,
		callLog:      handlers.NewCallLog(0),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/health", handlers.HealthHandler{})
	s.mux.Handle("/env-check", handlers.EnvCheckHandler{})
	s.mux.Handle("/metrics", s.metrics.Handler())

	s.mux.Handle("/twiml", handlers.TwimlHandler{
		Config: s.cfg,
		Minter: s.minter,
		Logger: s.logger,
	})
	s.mux.Handle("/twiml/action", handlers.TwimlActionHandler{
		Config: s.cfg,
		Minter: s.minter,
		Logger: s.logger,
	})
	s.mux.Handle("/stream/twilio", s.bridge)
	s.mux.Handle("/stream/twilio/", s.bridge)
	s.mux.Handle("/realtime-token", handlers.TokenHandler{
		Minter:  s.minter,
		Metrics: s.metrics,
		Logger:  s.logger,
	})

	callsHandler := handlers.CallsHandler{
		Config: s.cfg,
		Log:    s.callLog,
		Logger: s.logger,
	}
	if s.dispatcher != nil {
		callsHandler.Dispatcher = s.dispatcher
	}
	s.mux.Handle("/calls", callsHandler)

	s.mux.Handle("/control", handlers.ControlHandler{
		Config: s.cfg,
		State:  s.controlState,
		Logger: s.logger,
	})
	s.mux.Handle("/control/settings", handlers.ControlSettingsHandler{
		Config: s.cfg,
		State:  s.controlState,
		Logger: s.logger,
	})

	s.mux.Handle("GET /live/{key}", handlers.LiveHandler{
		Store:  s.transcripts,
		Logger: s.logger,
	})
	s.mux.Handle("POST /live/{key}/push", handlers.LivePushHandler{
		Store:  s.transcripts,
		Logger: s.logger,
	})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// WaitCalls blocks until active bridge calls finish or ctx expires.
func (s *Server) WaitCalls(ctx context.Context) bool {
	return s.bridge.Wait(ctx)
}
