// Package api exposes the orchestrator over HTTP.
//
// Routes:
//
//	POST /query                          submit a question
//	GET  /query/{id}                     fetch a record
//	POST /approve/{id}                   approve or reject a pending record
//	GET  /history                        list records, newest first
//	POST /conversations                  start a session
//	GET  /conversations/{id}             fetch a session
//	POST /conversations/{id}/query       ask within a session
//	GET  /conversations/{id}/stream      ask within a session, as server-sent events
//	GET  /conversations/{id}/history     a session's records, oldest first
//	GET  /cache/stats                    query cache counters
//	POST /cache/flush                    drop cached results
//	GET  /health                         liveness
//
// Errors are JSON {"error": {"code", "message"}}. Unknown ids map to 404,
// invalid lifecycle transitions to 409, rejected input to 400, and the
// per-IP rate limit to 429.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/randalmurphal/sqlflow/pkg/sqlflow"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/orchestrator"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/pipeline"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/querycache"
)

// Service is the orchestrator surface the handlers use.
type Service interface {
	Submit(ctx context.Context, question string) (*sqlflow.QueryRecord, error)
	SubmitInSession(ctx context.Context, question, sessionID string) (*sqlflow.QueryRecord, error)
	Stream(ctx context.Context, question, sessionID string) <-chan pipeline.Event
	Approve(ctx context.Context, id string, approved bool, modifiedSQL string) (*sqlflow.QueryRecord, error)
	Record(ctx context.Context, id string) (*sqlflow.QueryRecord, error)
	History(ctx context.Context, limit, offset int) (*orchestrator.HistoryPage, error)
	CreateSession(ctx context.Context) (*sqlflow.SessionInfo, error)
	Session(ctx context.Context, id string) (*sqlflow.SessionInfo, error)
	SessionHistory(ctx context.Context, id string) ([]*sqlflow.QueryRecord, error)
	CacheStats() querycache.Stats
	FlushCache()
}

// Config holds the HTTP server configuration.
type Config struct {
	Addr            string
	CORSOrigins     []string
	RateLimit       int // requests per minute per IP; zero disables
	MaxBodySize     int64
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the server defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8000",
		CORSOrigins:     []string{"*"},
		RateLimit:       60,
		MaxBodySize:     1 << 20,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Server serves the HTTP API.
type Server struct {
	cfg    Config
	svc    Service
	router chi.Router
	logger *slog.Logger
}

// New creates a Server with every route registered. A nil logger discards.
func New(cfg Config, svc Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{cfg: cfg, svc: svc, logger: logger}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.cfg.RateLimit > 0 {
			r.Use(httprate.Limit(s.cfg.RateLimit, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
					writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				}),
			))
		}

		r.Post("/query", s.handleSubmit)
		r.Get("/query/{id}", s.handleGetRecord)
		r.Post("/approve/{id}", s.handleApprove)
		r.Get("/history", s.handleHistory)

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", s.handleCreateSession)
			r.Get("/{id}", s.handleGetSession)
			r.Post("/{id}/query", s.handleSessionQuery)
			r.Get("/{id}/stream", s.handleStream)
			r.Get("/{id}/history", s.handleSessionHistory)
		})

		r.Get("/cache/stats", s.handleCacheStats)
		r.Post("/cache/flush", s.handleCacheFlush)
	})

	s.router = r
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests for up to the shutdown timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen: %w", err)
		}
		return nil
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// requestLogger logs one line per request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", chimw.GetReqID(r.Context()),
			)
		})
	}
}
