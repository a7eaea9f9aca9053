// =============================================================================
// HTTP API SERVER - INGEST INTERFACE FOR BATCHRELAY
// =============================================================================
//
// WHAT IS THIS?
// The inbound adapter in front of the batching pipeline. It turns one HTTP
// request into at most one pipeline submission and maps the pipeline's
// answer back to a status code.
//
// ENDPOINT OVERVIEW:
//
//   POST /log       one JSON record → 200 accepted | 503 queue full
//   GET  /healthz   plain-text liveness ("OK")
//   GET  /livez     JSON liveness with uptime
//   GET  /readyz    JSON readiness (?verbose=true adds checks)
//   GET  /stats     pipeline counters
//   GET  /metrics   Prometheus exposition
//   GET  /version   build information
//
// =============================================================================

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"batchrelay/internal/metrics"
	"batchrelay/internal/model"
	"batchrelay/internal/pipeline"
	"batchrelay/internal/security"
)

// Response bodies on /log and /healthz are plain text; clients match on them.
const (
	msgAccepted     = "Log Payload Accepted"
	msgQueueFull    = "Queue is full, please retry later"
	msgShuttingDown = "Service is shutting down, please retry later"
	msgRateLimited  = "Too many requests, please retry later"
)

// Ingestor is the part of the pipeline the API needs.
type Ingestor interface {
	SubmitErr(record model.LogPayload) error
	Stats() pipeline.Stats
	Running() bool
	Degraded() bool
}

// =============================================================================
// API SERVER
// =============================================================================

// Server is the HTTP API server for batchrelay.
type Server struct {
	ingestor   Ingestor
	config     ServerConfig
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger
	metrics    *metrics.Registry
	keys       *security.KeyRing
	limiter    *rate.Limiter
	health     *HealthState
}

// ServerConfig holds API server configuration.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// MaxBodyBytes caps a /log request body.
	MaxBodyBytes int64

	// RateLimit is accepted /log requests per second; 0 disables limiting.
	RateLimit float64

	// RateBurst is the limiter bucket size; 0 derives it from RateLimit.
	RateBurst int
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         ":8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		MaxBodyBytes: 1 << 20,
	}
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics sets the registry behind /metrics and request recording.
func WithMetrics(r *metrics.Registry) Option {
	return func(s *Server) { s.metrics = r }
}

// WithKeyRing enables API key checks on /log.
func WithKeyRing(k *security.KeyRing) Option {
	return func(s *Server) { s.keys = k }
}

// NewServer creates a new API server.
func NewServer(ing Ingestor, config ServerConfig, opts ...Option) *Server {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultServerConfig().MaxBodyBytes
	}

	s := &Server{
		ingestor: ing,
		config:   config,
		router:   chi.NewRouter(),
		health:   NewHealthState(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "api")
	if s.keys == nil {
		s.keys = security.NewKeyRing(nil, s.logger)
	}
	if config.RateLimit > 0 {
		burst := config.RateBurst
		if burst <= 0 {
			burst = int(math.Max(1, math.Ceil(config.RateLimit)))
		}
		s.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}

	// Set up middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)

	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         config.Addr,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

// registerRoutes sets up all API endpoints using chi router.
func (s *Server) registerRoutes() {
	// Health & Stats
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/livez", s.handleLivez)
	s.router.Get("/readyz", s.handleReadyz)
	s.router.Get("/stats", s.handleStats)
	s.router.Get("/version", s.handleVersion)
	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	// Ingest
	s.router.Group(func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))
		r.Use(s.keys.Middleware)
		r.Use(s.rateLimitMiddleware)
		r.Post("/log", s.handleLog)
	})
}

// Router exposes the handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Health returns the probe state.
func (s *Server) Health() *HealthState {
	return s.health
}

// loggingMiddleware logs and measures all HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	var httpMetrics *metrics.HTTPMetrics
	if s.metrics != nil {
		httpMetrics = s.metrics.HTTP
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)

		status := wrapped.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)

		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		httpMetrics.RecordRequest(r.Method, route, status, elapsed)

		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", wrapped.BytesWritten(),
			"duration", elapsed.String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// rateLimitMiddleware answers 429 once the token bucket is empty.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			http.Error(w, msgRateLimited, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// SERVER LIFECYCLE
// =============================================================================

// Serve accepts connections on l until Stop. It returns nil after a
// graceful stop.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("starting HTTP API server", "addr", l.Addr().String())
	s.health.SetReady(true)
	if err := s.httpServer.Serve(l); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe starts the server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Stop marks the server not ready and gracefully shuts it down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	s.health.SetReady(false)
	return s.httpServer.Shutdown(ctx)
}

// =============================================================================
// INGEST HANDLER
// =============================================================================

// handleLog handles POST /log.
func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)

	payload, err := model.DecodeLogPayload(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.errorResponse(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		resp := map[string]interface{}{
			"error":  err.Error(),
			"status": http.StatusBadRequest,
		}
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			resp["fields"] = verr.Fields
		}
		s.writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	switch err := s.ingestor.SubmitErr(payload); {
	case err == nil:
		writeText(w, http.StatusOK, msgAccepted)
	case errors.Is(err, pipeline.ErrQueueFull):
		w.Header().Set("Retry-After", "1")
		writeText(w, http.StatusServiceUnavailable, msgQueueFull)
	case errors.Is(err, pipeline.ErrPipelineClosed):
		w.Header().Set("Connection", "close")
		writeText(w, http.StatusServiceUnavailable, msgShuttingDown)
	default:
		s.logger.Error("submit failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "internal error")
	}
}

// =============================================================================
// STATS HANDLER
// =============================================================================

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime":   s.health.Uptime().String(),
		"pipeline": s.ingestor.Stats(),
	})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to write response", "error", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":  message,
		"status": status,
	})
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
