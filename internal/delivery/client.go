// =============================================================================
// DELIVERY CLIENT - POST A BATCH, CLASSIFY, RETRY
// =============================================================================
//
// WHAT IS THIS?
// The last hop of the pipeline. A drained batch is encoded as a JSON array
// (record order preserved) and POSTed to the sink. Each attempt produces a
// PostResult; the attempt loop turns the sequence of results into exactly one
// Outcome.
//
// ATTEMPT LOOP (maxRetries = 3):
//
//   attempt 1 ──► 503 ──► wait ──► attempt 2 ──► 503 ──► wait ──►
//   attempt 3 ──► 503 ──► wait ──► attempt 4 ──► 503 ──► ExhaustedRetries
//                                                        (no wait after last)
//
//   attempt 1 ──► 401 ──► ClientRejected(401)            (no wait, no retry)
//   attempt 1 ──► 500 ──► wait ──► attempt 2 ──► 200 ──► Success(200)
//
// CANCELLATION:
// The loop runs under a context. If it is cancelled during a wait, the loop
// stops at once and the batch is ExhaustedRetries.
//
// REDIRECTS:
// The HTTP client does not follow redirects. A 3xx is a retryable
// OtherFailure, never a success.
//
// =============================================================================

package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go"
	"github.com/dustin/go-humanize"

	"batchrelay/internal/metrics"
)

// BatchIDHeader carries the dispatcher's batch ID to the sink.
const BatchIDHeader = "X-Batch-Id"

// maxErrorBody bounds how much of a failed response body is kept for logs.
const maxErrorBody = 512

// Config holds delivery client configuration.
type Config struct {
	// SinkURL is the absolute http(s) URL batches are POSTed to.
	SinkURL string

	// RequestTimeout bounds a single POST, not the whole retry loop.
	// Default: 10s
	RequestTimeout time.Duration

	// UserAgent is sent with every request.
	UserAgent string
}

// DefaultConfig returns defaults for everything but the sink URL.
func DefaultConfig(sinkURL string) Config {
	return Config{
		SinkURL:        sinkURL,
		RequestTimeout: 10 * time.Second,
		UserAgent:      "batchrelay",
	}
}

// Option configures a Client.
type Option func(*options)

type options struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.DeliveryMetrics
}

// WithHTTPClient replaces the underlying HTTP client. Its redirect policy is
// overridden so that 3xx answers reach the classifier.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics recorder. nil disables recording.
func WithMetrics(m *metrics.DeliveryMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// Client POSTs batches of T to a single sink.
//
// Client holds no per-batch state and is safe for concurrent use, although
// the pipeline only ever calls it from its dispatch worker.
type Client[T any] struct {
	config     Config
	sinkURL    string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.DeliveryMetrics
}

// NewClient creates a delivery client.
func NewClient[T any](config Config, opts ...Option) (*Client[T], error) {
	u, err := url.Parse(config.SinkURL)
	if err != nil {
		return nil, fmt.Errorf("invalid sink url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid sink url %q: scheme must be http or https", config.SinkURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid sink url %q: missing host", config.SinkURL)
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 10 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = "batchrelay"
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	hc := &http.Client{}
	if o.httpClient != nil {
		copied := *o.httpClient
		hc = &copied
	}
	hc.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &Client[T]{
		config:     config,
		sinkURL:    u.String(),
		httpClient: hc,
		logger:     o.logger.With("component", "delivery", "sink", u.Redacted()),
		metrics:    o.metrics,
	}, nil
}

// SinkURL returns the configured sink.
func (c *Client[T]) SinkURL() string {
	return c.sinkURL
}

// =============================================================================
// DELIVER - THE ATTEMPT LOOP
// =============================================================================

// Deliver sends batch with up to maxRetries+1 attempts, waiting wait between
// attempts, and returns the terminal outcome. Negative maxRetries is treated
// as zero.
func (c *Client[T]) Deliver(ctx context.Context, batch []T, maxRetries int, wait time.Duration) Outcome {
	if maxRetries < 0 {
		maxRetries = 0
	}
	total := uint(maxRetries + 1)
	batchID := BatchIDFromContext(ctx)

	var (
		attempts int
		last     PostResult
	)

	err := retry.Do(
		func() error {
			attempts++
			last = c.Post(ctx, batch)
			if last.Retryable() {
				c.logger.Warn("delivery attempt failed",
					"batch_id", batchID,
					"attempt", attempts,
					"max_attempts", total,
					"result", last.Kind.String(),
					"status", last.StatusCode,
					"error", last.Cause,
				)
			}
			return last.Err()
		},
		retry.Attempts(total),
		retry.Delay(wait),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, ErrClientRejected)
		}),
		retry.OnRetry(func(n uint, err error) {
			// Also invoked after the final attempt, where no wait follows.
			if n+1 < total {
				c.metrics.RecordRetry()
			}
		}),
	)

	switch {
	case err == nil && last.Kind == ResultSuccess:
		return Success(last.StatusCode, attempts)
	case last.Kind == ResultClientError:
		c.logger.Error("sink rejected batch, dropping it",
			"batch_id", batchID,
			"status", last.StatusCode,
			"records", len(batch),
		)
		return ClientRejected(last.StatusCode, attempts)
	default:
		return ExhaustedRetries(attempts, err)
	}
}

// =============================================================================
// POST - ONE ATTEMPT
// =============================================================================

// Post performs a single POST of batch and classifies the result. It never
// returns an error; every failure is a PostResult kind.
func (c *Client[T]) Post(ctx context.Context, batch []T) PostResult {
	body, err := encodeBatch(batch)
	if err != nil {
		c.metrics.RecordAttempt(ResultOtherFailure.String(), 0, 0)
		return PostResult{Kind: ResultOtherFailure, Cause: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.sinkURL, bytes.NewReader(body))
	if err != nil {
		c.metrics.RecordAttempt(ResultOtherFailure.String(), 0, 0)
		return PostResult{Kind: ResultOtherFailure, Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)
	if id := BatchIDFromContext(ctx); id != "" {
		req.Header.Set(BatchIDHeader, id)
	}

	timer := metrics.NewTimer(nil)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		result := PostResult{Kind: ResultNetworkFailure, Cause: err}
		c.metrics.RecordAttempt(result.Kind.String(), len(body), timer.ObserveDuration())
		return result
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	// Drain the rest so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	result := PostResult{Kind: classifyStatus(resp.StatusCode), StatusCode: resp.StatusCode}
	if result.Kind != ResultSuccess && len(snippet) > 0 {
		result.Cause = fmt.Errorf("sink responded %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	c.metrics.RecordAttempt(result.Kind.String(), len(body), timer.ObserveDuration())

	c.logger.Debug("delivery attempt",
		"batch_id", BatchIDFromContext(ctx),
		"records", len(batch),
		"size", humanize.Bytes(uint64(len(body))),
		"status", resp.StatusCode,
	)

	return result
}

// encodeBatch renders batch as a JSON array. A nil batch encodes as [].
func encodeBatch[T any](batch []T) ([]byte, error) {
	if batch == nil {
		batch = []T{}
	}
	body, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}
	return body, nil
}

// =============================================================================
// BATCH ID PROPAGATION
// =============================================================================

type batchIDKey struct{}

// ContextWithBatchID tags ctx with a batch ID for logs and the X-Batch-Id header.
func ContextWithBatchID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, batchIDKey{}, id)
}

// BatchIDFromContext returns the batch ID set by ContextWithBatchID, or "".
func BatchIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(batchIDKey{}).(string)
	return id
}
