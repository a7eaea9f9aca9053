package security

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestKeyRing_Validate(t *testing.T) {
	ring := NewKeyRing([]string{"alpha", " beta ", ""}, quietLogger())

	if !ring.Enabled() {
		t.Fatal("expected ring with keys to be enabled")
	}

	tests := []struct {
		key  string
		want error
	}{
		{"alpha", nil},
		{"beta", nil},
		{"", ErrNoAPIKey},
		{"gamma", ErrInvalidAPIKey},
		{"alph", ErrInvalidAPIKey},
	}
	for _, tt := range tests {
		if err := ring.Validate(tt.key); !errors.Is(err, tt.want) {
			t.Errorf("Validate(%q) = %v, want %v", tt.key, err, tt.want)
		}
	}
}

func TestKeyRing_Middleware(t *testing.T) {
	var seenKeyID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenKeyID = KeyIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name     string
		keys     []string
		header   string
		value    string
		wantCode int
		wantID   bool
	}{
		{name: "auth disabled", keys: nil, wantCode: http.StatusOK},
		{name: "x-api-key", keys: []string{"k1"}, header: "X-API-Key", value: "k1", wantCode: http.StatusOK, wantID: true},
		{name: "bearer", keys: []string{"k1"}, header: "Authorization", value: "Bearer k1", wantCode: http.StatusOK, wantID: true},
		{name: "missing", keys: []string{"k1"}, wantCode: http.StatusUnauthorized},
		{name: "wrong", keys: []string{"k1"}, header: "X-API-Key", value: "k2", wantCode: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seenKeyID = ""
			handler := NewKeyRing(tt.keys, quietLogger()).Middleware(next)

			req := httptest.NewRequest(http.MethodPost, "/log", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("Expected status %d, got %d", tt.wantCode, rec.Code)
			}
			if tt.wantID && len(seenKeyID) != 8 {
				t.Errorf("expected 8-char key id in context, got %q", seenKeyID)
			}
			if rec.Code == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected WWW-Authenticate header on 401")
			}
		})
	}
}
