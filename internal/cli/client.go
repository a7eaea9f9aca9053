// =============================================================================
// CLI HTTP CLIENT - TALKS TO A RUNNING BATCHRELAY
// =============================================================================
//
// HTTP ENDPOINTS USED:
//
//   POST /log       submit one record (plain-text answer)
//   GET  /healthz   liveness ("OK")
//   GET  /readyz    readiness JSON
//   GET  /stats     pipeline counters
//   GET  /version   build information
//
// /log answers 4xx/5xx as part of normal operation (queue full, invalid
// record), so SendRecord returns those as a SendResult rather than an error.
// Only transport failures are errors there.
//
// =============================================================================

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// requestIDHeader is what the server's request-id middleware reads.
const requestIDHeader = "X-Request-Id"

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration for the CLI HTTP client.
type ClientConfig struct {
	// ServerURL is the base URL of the batchrelay server (e.g., "http://localhost:8080")
	ServerURL string

	// Timeout is the HTTP request timeout
	Timeout time.Duration

	// APIKey is sent as a bearer token when set
	APIKey string
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ServerURL: DefaultServer,
		Timeout:   30 * time.Second,
	}
}

// ClientConfig converts resolved settings into a client configuration.
func (r Resolved) ClientConfig() ClientConfig {
	return ClientConfig{ServerURL: r.Server, Timeout: r.Timeout, APIKey: r.APIKey}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is the HTTP client for CLI operations.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
}

// NewClient creates a new CLI HTTP client.
func NewClient(config ClientConfig) *Client {
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// APIError is a non-2xx answer from a JSON endpoint.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// ErrorResponse is the server's JSON error body. Probe endpoints use
// "message" instead of "error".
type ErrorResponse struct {
	Error   string       `json:"error"`
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields,omitempty"`
}

// FieldError names one field that failed validation.
type FieldError struct {
	Field string `json:"field" yaml:"field"`
	Rule  string `json:"rule" yaml:"rule"`
}

// =============================================================================
// HTTP HELPERS
// =============================================================================

// newRequest builds a request against the configured server with the common
// headers set.
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u, err := url.JoinPath(c.config.ServerURL, path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(requestIDHeader, uuid.NewString())
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	return req, nil
}

// do executes req and returns the status and the full body.
func (c *Client) do(req *http.Request) (int, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// getJSON fetches path and decodes the body into result. Any status >= 400
// becomes an APIError.
func (c *Client) getJSON(ctx context.Context, path string, result interface{}) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	status, body, err := c.do(req)
	if err != nil {
		return err
	}
	if status >= 400 {
		return &APIError{StatusCode: status, Message: errorMessage(body)}
	}
	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// errorMessage extracts the "error" field of a JSON body, falling back to the
// raw text.
func errorMessage(body []byte) string {
	var errResp ErrorResponse
	if json.Unmarshal(body, &errResp) == nil {
		if errResp.Error != "" {
			return errResp.Error
		}
		if errResp.Message != "" {
			return errResp.Message
		}
	}
	return strings.TrimSpace(string(body))
}

// =============================================================================
// RECORD SUBMISSION
// =============================================================================

// SendResult is the server's answer to one POST /log.
type SendResult struct {
	Line       int          `json:"line,omitempty" yaml:"line,omitempty"`
	StatusCode int          `json:"status" yaml:"status"`
	Accepted   bool         `json:"accepted" yaml:"accepted"`
	Message    string       `json:"message" yaml:"message"`
	Fields     []FieldError `json:"fields,omitempty" yaml:"fields,omitempty"`
	RetryAfter string       `json:"retry_after,omitempty" yaml:"retry_after,omitempty"`
	RequestID  string       `json:"request_id" yaml:"request_id"`
}

// SendRecord posts one JSON record to /log.
func (c *Client) SendRecord(ctx context.Context, record json.RawMessage) (*SendResult, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/log", bytes.NewReader(record))
	if err != nil {
		return nil, err
	}

	status, body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	result := &SendResult{
		StatusCode: status,
		Accepted:   status == http.StatusOK,
		RequestID:  req.Header.Get(requestIDHeader),
	}
	var errResp ErrorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		result.Message = errResp.Error
		result.Fields = errResp.Fields
	} else {
		result.Message = strings.TrimSpace(string(body))
	}
	if status == http.StatusServiceUnavailable || status == http.StatusTooManyRequests {
		result.RetryAfter = "1s"
	}
	return result, nil
}

// =============================================================================
// STATUS ENDPOINTS
// =============================================================================

// PipelineStats mirrors the pipeline counters served on /stats.
type PipelineStats struct {
	Running          bool      `json:"running" yaml:"running"`
	Degraded         bool      `json:"degraded" yaml:"degraded"`
	QueueLength      int       `json:"queue_length" yaml:"queue_length"`
	QueueCapacity    int       `json:"queue_capacity" yaml:"queue_capacity"`
	Accepted         int64     `json:"records_accepted" yaml:"records_accepted"`
	RejectedFull     int64     `json:"records_rejected_queue_full" yaml:"records_rejected_queue_full"`
	RejectedClosed   int64     `json:"records_rejected_closed" yaml:"records_rejected_closed"`
	BatchesDelivered int64     `json:"batches_delivered" yaml:"batches_delivered"`
	BatchesRejected  int64     `json:"batches_client_rejected" yaml:"batches_client_rejected"`
	BatchesExhausted int64     `json:"batches_exhausted" yaml:"batches_exhausted"`
	LastOutcome      string    `json:"last_outcome,omitempty" yaml:"last_outcome,omitempty"`
	LastBatchID      string    `json:"last_batch_id,omitempty" yaml:"last_batch_id,omitempty"`
	LastDelivery     time.Time `json:"last_delivery" yaml:"last_delivery"`
	StartedAt        time.Time `json:"started_at" yaml:"started_at"`
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	Uptime   string        `json:"uptime" yaml:"uptime"`
	Pipeline PipelineStats `json:"pipeline" yaml:"pipeline"`
}

// Stats fetches pipeline counters.
func (c *Client) Stats(ctx context.Context) (*StatsResponse, error) {
	var resp StatsResponse
	if err := c.getJSON(ctx, "/stats", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HealthResponse combines /healthz and /readyz.
type HealthResponse struct {
	Live    bool   `json:"live" yaml:"live"`
	Ready   bool   `json:"ready" yaml:"ready"`
	Status  string `json:"status" yaml:"status"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
	Uptime  string `json:"uptime,omitempty" yaml:"uptime,omitempty"`
}

// Health probes /healthz and then /readyz. A not-ready server is reported in
// the response, not as an error.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return nil, err
	}
	status, body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	resp := &HealthResponse{Live: status == http.StatusOK && strings.TrimSpace(string(body)) == "OK"}
	if !resp.Live {
		resp.Status = "fail"
		resp.Message = fmt.Sprintf("healthz returned %d", status)
		return resp, nil
	}

	var ready struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Uptime  string `json:"uptime"`
	}
	err = c.getJSON(ctx, "/readyz", &ready)
	var apiErr *APIError
	switch {
	case err == nil:
		resp.Ready = true
		resp.Status = ready.Status
		resp.Message = ready.Message
		resp.Uptime = ready.Uptime
	case errors.As(err, &apiErr):
		resp.Status = "fail"
		resp.Message = apiErr.Message
	default:
		return nil, err
	}
	return resp, nil
}

// VersionInfo is the body of GET /version.
type VersionInfo struct {
	Version   string `json:"version" yaml:"version"`
	GitCommit string `json:"git_commit" yaml:"git_commit"`
	BuildTime string `json:"build_time" yaml:"build_time"`
}

// Version fetches the server's build information.
func (c *Client) Version(ctx context.Context) (*VersionInfo, error) {
	var info VersionInfo
	if err := c.getJSON(ctx, "/version", &info); err != nil {
		return nil, err
	}
	return &info, nil
}
