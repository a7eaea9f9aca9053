// =============================================================================
// CLI CONFIGURATION - CONFIG FILE AND CONTEXT MANAGEMENT
// =============================================================================
//
// Contexts name batchrelay endpoints ("local", "staging", ...) so that
// commands do not need --server on every call.
//
// CONFIGURATION PRECEDENCE (highest to lowest):
//
//   1. command-line flag
//   2. BATCHRELAY_* environment variable
//   3. current (or BATCHRELAY_CONTEXT) context in ~/.batchrelay/config.yaml
//   4. built-in default
//
// CONFIG FILE FORMAT (~/.batchrelay/config.yaml):
//
//   current-context: local
//   contexts:
//     local:
//       server: http://localhost:8080
//       timeout: 30
//     prod:
//       server: https://relay.example.com
//       api-key: s3cret
//
// =============================================================================

package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultServer is used when nothing else names a server.
const DefaultServer = "http://localhost:8080"

// Config represents the CLI configuration file.
type Config struct {
	// CurrentContext is the name of the active context
	CurrentContext string `yaml:"current-context"`

	// Contexts maps context names to their configurations
	Contexts map[string]*ContextConfig `yaml:"contexts"`
}

// ContextConfig describes one batchrelay endpoint.
type ContextConfig struct {
	Server  string `yaml:"server"`
	APIKey  string `yaml:"api-key,omitempty"`
	Timeout int    `yaml:"timeout,omitempty"` // seconds
}

// DefaultConfigDir returns the default config directory (~/.batchrelay).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".batchrelay"
	}
	return filepath.Join(home, ".batchrelay")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// LoadConfigFromPath loads configuration from path. A missing file yields
// DefaultConfig.
func LoadConfigFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if config.Contexts == nil {
		config.Contexts = make(map[string]*ContextConfig)
	}
	return &config, nil
}

// DefaultConfig returns a single "local" context.
func DefaultConfig() *Config {
	return &Config{
		CurrentContext: "local",
		Contexts: map[string]*ContextConfig{
			"local": {Server: DefaultServer, Timeout: 30},
		},
	}
}

// SaveToPath writes the configuration with owner-only permissions.
func (c *Config) SaveToPath(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// CONTEXT OPERATIONS
// =============================================================================

// Context returns the named context, or the current one when name is empty.
func (c *Config) Context(name string) (*ContextConfig, error) {
	if name == "" {
		name = c.CurrentContext
	}
	if name == "" {
		return nil, errors.New("no current context set")
	}
	ctx, ok := c.Contexts[name]
	if !ok {
		return nil, fmt.Errorf("context %q not found", name)
	}
	return ctx, nil
}

// SetContext creates or replaces a context.
func (c *Config) SetContext(name string, ctx *ContextConfig) {
	if c.Contexts == nil {
		c.Contexts = make(map[string]*ContextConfig)
	}
	c.Contexts[name] = ctx
}

// UseContext sets the current context.
func (c *Config) UseContext(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("context %q not found", name)
	}
	c.CurrentContext = name
	return nil
}

// ListContexts returns all context names, sorted.
func (c *Config) ListContexts() []string {
	names := make([]string, 0, len(c.Contexts))
	for name := range c.Contexts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Redacted returns a copy with API keys masked, for display.
func (c *Config) Redacted() *Config {
	out := &Config{CurrentContext: c.CurrentContext, Contexts: make(map[string]*ContextConfig, len(c.Contexts))}
	for name, ctx := range c.Contexts {
		copied := *ctx
		if copied.APIKey != "" {
			copied.APIKey = "<redacted>"
		}
		out.Contexts[name] = &copied
	}
	return out
}

// =============================================================================
// ENVIRONMENT VARIABLE OVERRIDES
// =============================================================================

// Environment variable names
const (
	EnvServer  = "BATCHRELAY_SERVER"
	EnvContext = "BATCHRELAY_CONTEXT"
	EnvAPIKey  = "BATCHRELAY_API_KEY"
	EnvTimeout = "BATCHRELAY_TIMEOUT"
)

// Resolved is the effective connection settings for one invocation.
type Resolved struct {
	Context string
	Server  string
	APIKey  string
	Timeout time.Duration
}

// Flags are the connection-related command-line values; zero means unset.
type Flags struct {
	Context string
	Server  string
	APIKey  string
	Timeout time.Duration
}

// Resolve applies flag > env > context > default to every setting.
func Resolve(flags Flags, config *Config) Resolved {
	r := Resolved{Context: first(flags.Context, os.Getenv(EnvContext))}

	var ctx *ContextConfig
	if config != nil {
		if c, err := config.Context(r.Context); err == nil {
			ctx = c
			if r.Context == "" {
				r.Context = config.CurrentContext
			}
		}
	}
	if ctx == nil {
		ctx = &ContextConfig{}
	}

	r.Server = first(flags.Server, os.Getenv(EnvServer), ctx.Server, DefaultServer)
	r.APIKey = first(flags.APIKey, os.Getenv(EnvAPIKey), ctx.APIKey)

	r.Timeout = 30 * time.Second
	switch {
	case flags.Timeout > 0:
		r.Timeout = flags.Timeout
	case os.Getenv(EnvTimeout) != "":
		if d, err := parseTimeout(os.Getenv(EnvTimeout)); err == nil {
			r.Timeout = d
		}
	case ctx.Timeout > 0:
		r.Timeout = time.Duration(ctx.Timeout) * time.Second
	}
	return r
}

// parseTimeout accepts a Go duration or a plain number of seconds.
func parseTimeout(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q", s)
	}
	return time.Duration(n) * time.Second, nil
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
