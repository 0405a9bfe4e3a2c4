package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashita-ai/kotoba/internal/auth"
	"github.com/ashita-ai/kotoba/internal/completion"
	"github.com/ashita-ai/kotoba/internal/model"
	"github.com/ashita-ai/kotoba/internal/ratelimit"
	"github.com/ashita-ai/kotoba/internal/storage"
)

// Server is the Kotoba HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Config holds the dependencies and settings for creating a Server.
// Index and Limiter are nil-safe: no index drops the component from the
// health report, no limiter disables throttling.
type Config struct {
	DB          *storage.DB
	JWTMgr      *auth.JWTManager
	Completions *completion.Service
	Index       IndexHealth
	Limiter     ratelimit.Limiter
	Logger      *slog.Logger

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	ProtocolVersion     model.ProtocolVersion
	MaxRequestBodyBytes int64
}

// New creates an HTTP server with all routes configured.
func New(cfg Config) *Server {
	h := &Handlers{
		db:              cfg.DB,
		jwtMgr:          cfg.JWTMgr,
		completions:     cfg.Completions,
		index:           cfg.Index,
		logger:          cfg.Logger,
		version:         cfg.Version,
		protocolVersion: cfg.ProtocolVersion,
		maxBodyBytes:    cfg.MaxRequestBodyBytes,
	}

	mux := http.NewServeMux()

	// Token exchange and health are open; everything else goes through the
	// auth middleware.
	mux.HandleFunc("POST /auth/token", h.HandleAuthToken)
	mux.HandleFunc("GET /healthz", h.HandleHealth)

	mux.HandleFunc("GET /v1/models", h.HandleListModels)
	mux.HandleFunc("POST /v1/sessions", h.HandleCreateSession)
	mux.HandleFunc("GET /v1/sessions/{session_id}/messages", h.HandleSessionMessages)
	mux.HandleFunc("POST /v1/completions", h.HandleCompletion)
	mux.HandleFunc("POST /v1/completions/stream", h.HandleCompletionStream)

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}

	// Middleware chain, outermost first:
	// request ID -> tracing -> logging -> auth -> rate limit -> recovery.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = rateLimitMiddleware(limiter, cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Handler returns the root handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
