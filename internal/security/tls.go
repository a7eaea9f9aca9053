// =============================================================================
// SINK TLS - TRUST AND CLIENT CERTIFICATES FOR OUTBOUND DELIVERY
// =============================================================================
//
// ┌─────────────────────────────────────────────────────────────────────────────┐
// │ MODES                                                                       │
// │                                                                             │
// │   nothing set        → system roots, no client certificate                 │
// │   CAFile             → private CA appended to the system roots             │
// │   CertFile + KeyFile → mutual TLS, certificate presented to the sink       │
// │   InsecureSkipVerify → no verification at all (testing only)               │
// └─────────────────────────────────────────────────────────────────────────────┘
//
// =============================================================================

package security

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// ClientTLSConfig holds outbound TLS settings.
type ClientTLSConfig struct {
	// CAFile is a PEM bundle trusted in addition to the system roots.
	CAFile string

	// CertFile and KeyFile are the client certificate for mutual TLS.
	CertFile string
	KeyFile  string

	// InsecureSkipVerify disables certificate verification (FOR TESTING ONLY)
	InsecureSkipVerify bool

	// ServerName overrides the name used for verification (SNI).
	ServerName string
}

// IsZero reports whether nothing is configured.
func (c ClientTLSConfig) IsZero() bool {
	return c == ClientTLSConfig{}
}

// NewTLSConfig creates a tls.Config, or nil when nothing is configured.
func (c ClientTLSConfig) NewTLSConfig() (*tls.Config, error) {
	if c.IsZero() {
		return nil, nil
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return nil, errors.New("client certificate and key must be set together")
	}

	// Floor at TLS 1.2 to prevent downgrade attacks (gosec G402).
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.InsecureSkipVerify, //nolint:gosec // opt-in for testing
		ServerName:         c.ServerName,
	}

	if c.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
		slog.Info("loaded sink client certificate", "cert", c.CertFile)
	}

	if c.CAFile != "" {
		caCert, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert: %w", err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA cert %s", c.CAFile)
		}
		tlsConfig.RootCAs = pool
		slog.Info("loaded sink CA certificate", "ca", c.CAFile)
	}

	if c.InsecureSkipVerify {
		slog.Warn("sink certificate verification disabled - NOT FOR PRODUCTION")
	}

	return tlsConfig, nil
}

// NewHTTPClient returns an HTTP client for the sink. Connection pooling
// follows http.DefaultTransport; only the TLS settings differ.
func (c ClientTLSConfig) NewHTTPClient() (*http.Client, error) {
	tlsConfig, err := c.NewTLSConfig()
	if err != nil {
		return nil, err
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if tlsConfig != nil {
		transport.TLSClientConfig = tlsConfig
	}
	transport.IdleConnTimeout = 90 * time.Second
	return &http.Client{Transport: transport}, nil
}
