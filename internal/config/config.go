// =============================================================================
// CONFIGURATION - ONE STRUCT, THREE SOURCES
// =============================================================================
//
// Values are resolved in this order, later sources winning:
//
//   1. Default and the env-default tags below
//   2. the YAML file (skipped when it does not exist)
//   3. BATCHRELAY_* environment variables, including those preloaded from .env
//
// =============================================================================

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"batchrelay/internal/delivery"
	"batchrelay/internal/metrics"
	"batchrelay/internal/pipeline"
	"batchrelay/internal/security"
)

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "config.yaml"

// Config is the complete process configuration.
//
// cleanenv applies env-default to any field that is still zero after the file
// is read. Fields where an explicit zero must survive, either because it is
// legal or because Validate has to reject it, carry no env-default and get
// their default from Default instead. Booleans default to false for the same
// reason.
type Config struct {
	HTTPAddr string `yaml:"http_addr" env:"BATCHRELAY_HTTP_ADDR" env-default:":8080" env-description:"HTTP listen address for the ingest API"`
	GRPCAddr string `yaml:"grpc_addr" env:"BATCHRELAY_GRPC_ADDR" env-description:"gRPC health listen address, empty disables it"`

	SinkURL                string        `yaml:"sink_url" env:"BATCHRELAY_SINK_URL" env-description:"absolute http(s) URL batches are POSTed to"`
	RequestTimeout         time.Duration `yaml:"request_timeout" env:"BATCHRELAY_REQUEST_TIMEOUT" env-default:"10s" env-description:"timeout of a single POST attempt"`
	SinkCAFile             string        `yaml:"sink_ca_file" env:"BATCHRELAY_SINK_CA_FILE" env-description:"PEM bundle trusted for the sink certificate"`
	SinkCertFile           string        `yaml:"sink_cert_file" env:"BATCHRELAY_SINK_CERT_FILE" env-description:"client certificate presented to the sink"`
	SinkKeyFile            string        `yaml:"sink_key_file" env:"BATCHRELAY_SINK_KEY_FILE" env-description:"private key of the client certificate"`
	SinkInsecureSkipVerify bool          `yaml:"sink_insecure_skip_verify" env:"BATCHRELAY_SINK_INSECURE_SKIP_VERIFY" env-default:"false" env-description:"skip sink certificate verification (testing only)"`

	BatchSize       int           `yaml:"batch_size" env:"BATCHRELAY_BATCH_SIZE" env-description:"records per batch and size trigger threshold (default 100)"`
	FlushInterval   time.Duration `yaml:"flush_interval" env:"BATCHRELAY_FLUSH_INTERVAL" env-description:"timer trigger period (default 5s)"`
	MaxQueueSize    int           `yaml:"max_queue_size" env:"BATCHRELAY_MAX_QUEUE_SIZE" env-description:"queue capacity (default 10000)"`
	MaxRetries      int           `yaml:"max_retries" env:"BATCHRELAY_MAX_RETRIES" env-description:"attempts after the first one (default 3)"`
	RetryWait       time.Duration `yaml:"retry_wait" env:"BATCHRELAY_RETRY_WAIT" env-description:"pause between attempts (default 2s)"`
	OnExhausted     string        `yaml:"on_exhausted" env:"BATCHRELAY_ON_EXHAUSTED" env-default:"exit" env-description:"exit (status 1) or continue when a batch exhausts its retries"`

	WorkerStopTimeout    time.Duration `yaml:"worker_stop_timeout" env:"BATCHRELAY_WORKER_STOP_TIMEOUT" env-default:"30s" env-description:"wait for the dispatch worker at shutdown"`
	SchedulerStopTimeout time.Duration `yaml:"scheduler_stop_timeout" env:"BATCHRELAY_SCHEDULER_STOP_TIMEOUT" env-default:"5s" env-description:"wait for the timer loop at shutdown"`
	ShutdownTimeout      time.Duration `yaml:"shutdown_timeout" env:"BATCHRELAY_SHUTDOWN_TIMEOUT" env-default:"45s" env-description:"overall shutdown deadline"`

	MaxBodyBytes    int64    `yaml:"max_body_bytes" env:"BATCHRELAY_MAX_BODY_BYTES" env-default:"1048576" env-description:"largest accepted request body"`
	IngestRateLimit float64  `yaml:"ingest_rate_limit" env:"BATCHRELAY_INGEST_RATE_LIMIT" env-description:"accepted requests per second, 0 disables limiting"`
	IngestBurst     int      `yaml:"ingest_burst" env:"BATCHRELAY_INGEST_BURST" env-description:"rate limiter burst, 0 derives it from the rate"`
	APIKeys         []string `yaml:"api_keys" env:"BATCHRELAY_API_KEYS" env-description:"comma separated keys accepted on /log, empty disables auth"`

	LogLevel  string `yaml:"log_level" env:"BATCHRELAY_LOG_LEVEL" env-default:"info" env-description:"debug, info, warn or error"`
	LogFormat string `yaml:"log_format" env:"BATCHRELAY_LOG_FORMAT" env-default:"text" env-description:"text or json"`

	DisableMetrics   bool   `yaml:"disable_metrics" env:"BATCHRELAY_DISABLE_METRICS" env-default:"false" env-description:"turn off /metrics and all recording"`
	MetricsNamespace string `yaml:"metrics_namespace" env:"BATCHRELAY_METRICS_NAMESPACE" env-default:"batchrelay" env-description:"prometheus metric prefix"`
}

// Load resolves the configuration. A missing file at path is not an error;
// an unreadable or malformed one is. The result is not validated.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load(".env")

	cfg := Default()
	if path != "" {
		_, err := os.Stat(path)
		switch {
		case err == nil:
			if err := cleanenv.ReadConfig(path, cfg); err != nil {
				return nil, fmt.Errorf("config error: %w", err)
			}
			return cfg, nil
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("config error: %w", err)
		}
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	return cfg, nil
}

// Default returns the defaults of the fields that have no env-default tag.
func Default() *Config {
	return &Config{
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
		MaxQueueSize:  10000,
		MaxRetries:    3,
		RetryWait:     2 * time.Second,
	}
}

// Describe returns the environment variable table.
func Describe() (string, error) {
	header := "Environment variables (BATCHRELAY_*):"
	return cleanenv.GetDescription(&Config{}, &header)
}

// PipelineSettings maps the config onto pipeline settings.
func (c *Config) PipelineSettings() pipeline.Settings {
	policy := pipeline.FatalExit
	if strings.EqualFold(c.OnExhausted, pipeline.FatalContinue.String()) {
		policy = pipeline.FatalContinue
	}
	return pipeline.Settings{
		BatchSize:            c.BatchSize,
		FlushInterval:        c.FlushInterval,
		MaxQueueSize:         c.MaxQueueSize,
		MaxRetries:           c.MaxRetries,
		RetryWait:            c.RetryWait,
		FatalPolicy:          policy,
		WorkerStopTimeout:    c.WorkerStopTimeout,
		SchedulerStopTimeout: c.SchedulerStopTimeout,
	}
}

// DeliveryConfig maps the config onto the delivery client config.
func (c *Config) DeliveryConfig() delivery.Config {
	dc := delivery.DefaultConfig(c.SinkURL)
	dc.RequestTimeout = c.RequestTimeout
	return dc
}

// SinkTLS maps the config onto the sink TLS settings.
func (c *Config) SinkTLS() security.ClientTLSConfig {
	return security.ClientTLSConfig{
		CAFile:             c.SinkCAFile,
		CertFile:           c.SinkCertFile,
		KeyFile:            c.SinkKeyFile,
		InsecureSkipVerify: c.SinkInsecureSkipVerify,
	}
}

// MetricsConfig maps the config onto the metrics registry config.
func (c *Config) MetricsConfig() metrics.Config {
	mc := metrics.DefaultConfig()
	mc.Enabled = !c.DisableMetrics
	mc.Namespace = c.MetricsNamespace
	return mc
}
