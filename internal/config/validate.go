package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"
)

// =============================================================================
// CONFIG VALIDATION
// =============================================================================
//
// Every problem is collected before returning so that a broken deployment is
// fixed in one edit instead of one restart per mistake.
//
// =============================================================================

// ValidationError holds one or more configuration validation failures.
type ValidationError struct {
	Errors []string
}

// Error formats all validation errors as a numbered list.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0])
	}

	var b strings.Builder
	b.WriteString("configuration validation failed:\n")
	for i, err := range e.Errors {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, err)
	}
	return b.String()
}

// Validate checks the configuration for common mistakes.
// Returns nil if valid, or a *ValidationError with all problems found.
func (c *Config) Validate() error {
	var errs []string

	// Listeners
	if c.HTTPAddr == "" {
		errs = append(errs, "http_addr: must not be empty")
	} else if err := validateAddress(c.HTTPAddr); err != nil {
		errs = append(errs, fmt.Sprintf("http_addr: invalid: %v", err))
	}
	if c.GRPCAddr != "" {
		if err := validateAddress(c.GRPCAddr); err != nil {
			errs = append(errs, fmt.Sprintf("grpc_addr: invalid: %v", err))
		}
		if c.GRPCAddr == c.HTTPAddr {
			errs = append(errs, "grpc_addr: must differ from http_addr")
		}
	}

	// Sink
	errs = append(errs, validateSinkURL(c.SinkURL)...)
	errs = append(errs, positiveDuration("request_timeout", c.RequestTimeout)...)
	errs = append(errs, c.validateSinkTLS()...)

	// Batching
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Sprintf("batch_size: must be > 0, got %d", c.BatchSize))
	}
	if c.MaxQueueSize <= 0 {
		errs = append(errs, fmt.Sprintf("max_queue_size: must be > 0, got %d", c.MaxQueueSize))
	}
	errs = append(errs, positiveDuration("flush_interval", c.FlushInterval)...)

	// Retries
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Sprintf("max_retries: must be >= 0, got %d", c.MaxRetries))
	}
	if c.RetryWait < 0 {
		errs = append(errs, fmt.Sprintf("retry_wait: must be >= 0, got %s", c.RetryWait))
	}

	// Shutdown
	errs = append(errs, positiveDuration("worker_stop_timeout", c.WorkerStopTimeout)...)
	errs = append(errs, positiveDuration("scheduler_stop_timeout", c.SchedulerStopTimeout)...)
	errs = append(errs, positiveDuration("shutdown_timeout", c.ShutdownTimeout)...)

	// Ingest
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Sprintf("max_body_bytes: must be > 0, got %d", c.MaxBodyBytes))
	}
	if c.IngestRateLimit < 0 {
		errs = append(errs, fmt.Sprintf("ingest_rate_limit: must be >= 0, got %g", c.IngestRateLimit))
	}
	if c.IngestBurst < 0 {
		errs = append(errs, fmt.Sprintf("ingest_burst: must be >= 0, got %d", c.IngestBurst))
	}
	for i, key := range c.APIKeys {
		if strings.TrimSpace(key) == "" {
			errs = append(errs, fmt.Sprintf("api_keys[%d]: must not be blank", i))
		}
	}

	// Logging
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log_level: must be one of debug, info, warn, error, got %q", c.LogLevel))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log_format: must be text or json, got %q", c.LogFormat))
	}

	switch strings.ToLower(c.OnExhausted) {
	case "exit", "continue":
	default:
		errs = append(errs, fmt.Sprintf("on_exhausted: must be exit or continue, got %q", c.OnExhausted))
	}

	if !c.DisableMetrics && c.MetricsNamespace == "" {
		errs = append(errs, "metrics_namespace: must not be empty when metrics are enabled")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// validateSinkURL checks that the sink is an absolute http(s) URL.
func validateSinkURL(raw string) []string {
	if raw == "" {
		return []string{"sink_url: must not be empty"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return []string{fmt.Sprintf("sink_url: cannot parse %q: %v", raw, err)}
	}
	var errs []string
	if u.Scheme != "http" && u.Scheme != "https" {
		errs = append(errs, fmt.Sprintf("sink_url: scheme must be http or https, got %q", u.Scheme))
	}
	if u.Host == "" {
		errs = append(errs, "sink_url: missing host")
	}
	return errs
}

// validateSinkTLS checks that referenced files exist and that the client
// certificate and key come as a pair.
func (c *Config) validateSinkTLS() []string {
	var errs []string
	if (c.SinkCertFile == "") != (c.SinkKeyFile == "") {
		errs = append(errs, "sink_cert_file, sink_key_file: must be set together")
	}
	for _, f := range []struct{ key, path string }{
		{"sink_ca_file", c.SinkCAFile},
		{"sink_cert_file", c.SinkCertFile},
		{"sink_key_file", c.SinkKeyFile},
	} {
		if f.path == "" {
			continue
		}
		info, err := os.Stat(f.path)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: cannot access %q: %v", f.key, f.path, err))
		} else if info.IsDir() {
			errs = append(errs, fmt.Sprintf("%s: %q is a directory", f.key, f.path))
		}
	}
	if (c.SinkCAFile != "" || c.SinkCertFile != "") && !strings.HasPrefix(c.SinkURL, "https://") {
		errs = append(errs, "sink_url: TLS files are configured but the sink is not https")
	}
	return errs
}

func positiveDuration(key string, d time.Duration) []string {
	if d <= 0 {
		return []string{fmt.Sprintf("%s: must be > 0, got %s", key, d)}
	}
	return nil
}

// validateAddress checks that a string is a valid host:port or :port address.
func validateAddress(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("must be host:port format: %w", err)
	}
	if port == "" {
		return fmt.Errorf("port must not be empty")
	}
	return nil
}
