// =============================================================================
// HEALTH CHECK ENDPOINTS
// =============================================================================
//
// ENDPOINT OVERVIEW:
//
//   /healthz  "OK" while the process serves HTTP. Kept as plain text for
//             existing load balancer checks.
//   /livez    JSON liveness; fails only if SetLive(false) was called.
//   /readyz   JSON readiness; fails before Serve, after Stop, and while the
//             pipeline is not running. ?verbose=true adds per-check detail.
//
// A degraded pipeline (last batch exhausted its retries under the continue
// policy) is reported as "warn" and stays ready: records are still accepted
// and the sink may recover.
//
// =============================================================================

package api

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// HEALTH CHECK STATE
// =============================================================================

// HealthState tracks the server's health status for probes.
type HealthState struct {
	// ready is set once the listener is serving.
	ready atomic.Bool

	// live should always be true unless there's a fatal error.
	live atomic.Bool

	startTime time.Time

	mu     sync.RWMutex
	checks map[string]HealthCheck
}

// HealthCheck is a function that checks a specific component's health.
type HealthCheck func(ctx context.Context) HealthCheckResult

// HealthCheckResult contains the result of a health check.
type HealthCheckResult struct {
	Status  string `json:"status"`            // "pass", "warn", "fail"
	Message string `json:"message,omitempty"` // Human-readable message
	Latency string `json:"latency,omitempty"` // Time taken for check
}

const (
	statusPass = "pass"
	statusWarn = "warn"
	statusFail = "fail"
)

// NewHealthState creates a new health state tracker.
func NewHealthState() *HealthState {
	h := &HealthState{
		startTime: time.Now(),
		checks:    make(map[string]HealthCheck),
	}
	h.live.Store(true)
	return h
}

// SetReady marks the server as ready to receive traffic.
func (h *HealthState) SetReady(ready bool) {
	h.ready.Store(ready)
}

// SetLive marks the server as alive.
func (h *HealthState) SetLive(live bool) {
	h.live.Store(live)
}

// AddCheck registers a named health check shown on /readyz?verbose=true.
func (h *HealthState) AddCheck(name string, check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// IsReady returns whether the server is ready for traffic.
func (h *HealthState) IsReady() bool {
	return h.ready.Load()
}

// IsLive returns whether the server is alive.
func (h *HealthState) IsLive() bool {
	return h.live.Load()
}

// Uptime returns how long the server has been running.
func (h *HealthState) Uptime() time.Duration {
	return time.Since(h.startTime)
}

// =============================================================================
// HEALTH CHECK HANDLERS
// =============================================================================

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, "OK")
}

// handleLivez handles GET /livez.
func (s *Server) handleLivez(w http.ResponseWriter, r *http.Request) {
	if !s.health.IsLive() {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    statusFail,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"uptime":    s.health.Uptime().String(),
			"message":   "server is not alive",
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    statusPass,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    s.health.Uptime().String(),
	})
}

// handleReadyz handles GET /readyz.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	var message string
	switch {
	case !s.health.IsReady():
		message = "server is not ready"
	case s.ingestor == nil || !s.ingestor.Running():
		message = "pipeline is not running"
	}

	resp := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if verbose {
		resp["checks"] = s.runHealthChecks(r.Context())
	}

	if message != "" {
		resp["status"] = statusFail
		resp["message"] = message
		s.writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	resp["status"] = statusPass
	resp["uptime"] = s.health.Uptime().String()
	if s.ingestor.Degraded() {
		resp["status"] = statusWarn
		resp["message"] = "last batch exhausted its retries"
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// runHealthChecks executes the built-in and registered checks.
func (s *Server) runHealthChecks(ctx context.Context) map[string]HealthCheckResult {
	results := make(map[string]HealthCheckResult)

	results["pipeline_running"] = s.checkPipelineRunning(ctx)
	results["last_delivery"] = s.checkLastDelivery(ctx)

	s.health.mu.RLock()
	names := make([]string, 0, len(s.health.checks))
	for name := range s.health.checks {
		names = append(names, name)
	}
	s.health.mu.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		s.health.mu.RLock()
		check := s.health.checks[name]
		s.health.mu.RUnlock()

		start := time.Now()
		result := check(ctx)
		result.Latency = time.Since(start).String()
		results[name] = result
	}

	return results
}

func (s *Server) checkPipelineRunning(ctx context.Context) HealthCheckResult {
	start := time.Now()
	if s.ingestor == nil || !s.ingestor.Running() {
		return HealthCheckResult{
			Status:  statusFail,
			Message: "pipeline not running",
			Latency: time.Since(start).String(),
		}
	}
	stats := s.ingestor.Stats()
	result := HealthCheckResult{Status: statusPass, Latency: time.Since(start).String()}
	if stats.QueueCapacity > 0 && stats.QueueLength == stats.QueueCapacity {
		result.Status = statusWarn
		result.Message = "queue is full"
	}
	return result
}

func (s *Server) checkLastDelivery(ctx context.Context) HealthCheckResult {
	start := time.Now()
	if s.ingestor == nil {
		return HealthCheckResult{Status: statusFail, Message: "pipeline not initialized"}
	}
	stats := s.ingestor.Stats()
	result := HealthCheckResult{Status: statusPass, Latency: time.Since(start).String()}
	switch {
	case stats.LastOutcome == "":
		result.Message = "no batch delivered yet"
	case s.ingestor.Degraded():
		result.Status = statusWarn
		result.Message = "batch " + stats.LastBatchID + " " + stats.LastOutcome
	default:
		result.Message = stats.LastOutcome + " at " + stats.LastDelivery.UTC().Format(time.RFC3339)
	}
	return result
}

// =============================================================================
// VERSION & INFO ENDPOINT
// =============================================================================

// Version information (set at build time via ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// handleVersion handles GET /version - Returns version information.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":    Version,
		"git_commit": GitCommit,
		"build_time": BuildTime,
	})
}
