// =============================================================================
// API KEY AUTHENTICATION
// =============================================================================
//
// FLOW:
//   Client ──[X-API-Key: abc123]──► batchrelay ──[hash + compare]──► Grant/Deny
//
// Keys come from configuration. Only their SHA-256 hashes are kept in memory
// and every candidate is compared in constant time against each of them.
//
// =============================================================================

package security

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

var (
	// ErrNoAPIKey is returned when no API key is provided
	ErrNoAPIKey = errors.New("no API key provided")

	// ErrInvalidAPIKey is returned when the API key is not configured
	ErrInvalidAPIKey = errors.New("invalid API key")
)

// KeyRing validates API keys against a fixed set.
type KeyRing struct {
	hashes [][sha256.Size]byte
	logger *slog.Logger
}

// NewKeyRing creates a key ring. Blank keys are ignored; an empty ring
// disables authentication.
func NewKeyRing(keys []string, logger *slog.Logger) *KeyRing {
	if logger == nil {
		logger = slog.Default()
	}
	k := &KeyRing{logger: logger.With("component", "auth")}
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		k.hashes = append(k.hashes, sha256.Sum256([]byte(key)))
	}
	return k
}

// Enabled reports whether any key is configured.
func (k *KeyRing) Enabled() bool {
	return k != nil && len(k.hashes) > 0
}

// Validate checks a raw key.
func (k *KeyRing) Validate(raw string) error {
	if raw == "" {
		return ErrNoAPIKey
	}
	sum := sha256.Sum256([]byte(raw))
	match := 0
	for i := range k.hashes {
		match |= subtle.ConstantTimeCompare(sum[:], k.hashes[i][:])
	}
	if match != 1 {
		return ErrInvalidAPIKey
	}
	return nil
}

// contextKey is a private type for context keys
type contextKey string

// KeyIDContextKey holds a short, non-reversible identifier of the caller's key.
const KeyIDContextKey contextKey = "api_key_id"

// KeyIDFromContext returns the key identifier set by Middleware.
func KeyIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(KeyIDContextKey).(string)
	return id
}

// Middleware rejects requests without a configured key with 401.
// It is a pass-through when the ring is empty.
//
// Key extraction order:
//  1. Authorization: Bearer <key>
//  2. X-API-Key: <key>
func (k *KeyRing) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !k.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		raw := extractAPIKey(r)
		if err := k.Validate(raw); err != nil {
			k.logger.Warn("authentication failed",
				"path", r.URL.Path,
				"method", r.Method,
				"error", err,
				"remote_addr", r.RemoteAddr,
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="batchrelay"`)
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), KeyIDContextKey, keyID(raw))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// keyID is the first 8 hex characters of the key hash, safe to log.
func keyID(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:4])
}

// extractAPIKey extracts the API key from the request.
func extractAPIKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}
