package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"batchrelay/internal/config"
)

// sink collects every batch POSTed to it.
type sink struct {
	mu      sync.Mutex
	batches [][]json.RawMessage
	status  int
}

func (s *sink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var batch []json.RawMessage
	_ = json.NewDecoder(r.Body).Decode(&batch)
	s.mu.Lock()
	s.batches = append(s.batches, batch)
	status := s.status
	s.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
}

func (s *sink) records() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func testConfig(sinkURL string) *config.Config {
	cfg := config.Default()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.SinkURL = sinkURL
	cfg.RequestTimeout = 2 * time.Second
	cfg.BatchSize = 3
	cfg.FlushInterval = time.Hour
	cfg.MaxQueueSize = 100
	cfg.MaxRetries = 0
	cfg.RetryWait = 0
	cfg.OnExhausted = "exit"
	cfg.WorkerStopTimeout = 5 * time.Second
	cfg.SchedulerStopTimeout = time.Second
	cfg.ShutdownTimeout = 10 * time.Second
	cfg.MaxBodyBytes = 1 << 20
	cfg.LogLevel = "error"
	cfg.LogFormat = "text"
	cfg.MetricsNamespace = "batchrelay"
	return cfg
}

// startApp runs the app on loopback listeners and returns its base URL and a
// stop function that returns run's error.
func startApp(t *testing.T, cfg *config.Config, exit func(int)) (string, func() error) {
	t.Helper()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Failed to validate config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := newApp(cfg, logger, exit)
	if err != nil {
		t.Fatalf("Failed to build app: %v", err)
	}

	httpL, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.run(ctx, httpL, nil) }()

	stop := func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(15 * time.Second):
			t.Fatal("app did not stop")
			return nil
		}
	}
	t.Cleanup(func() { cancel() })
	return "http://" + httpL.Addr().String(), stop
}

func postRecord(t *testing.T, base string, i int) int {
	t.Helper()
	body := fmt.Sprintf(`{"user_id":%d,"total":1.5,"title":"t","completed":false}`, i)
	resp, err := http.Post(base+"/log", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to post record: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestApp_DeliversAndDrainsOnShutdown(t *testing.T) {
	s := &sink{}
	srv := httptest.NewServer(s)
	defer srv.Close()

	base, stop := startApp(t, testConfig(srv.URL), func(int) { t.Error("exit must not be called") })

	for i := 0; i < 5; i++ {
		if code := postRecord(t, base, i); code != http.StatusOK {
			t.Fatalf("record %d: expected 200, got %d", i, code)
		}
	}

	// 3 records cross the size trigger; the other 2 wait for shutdown.
	deadline := time.Now().Add(5 * time.Second)
	for s.records() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := s.records(); got != 3 {
		t.Fatalf("expected one full batch before shutdown, sink has %d records", got)
	}

	if err := stop(); err != nil {
		t.Fatalf("Failed to stop cleanly: %v", err)
	}
	if got := s.records(); got != 5 {
		t.Errorf("expected all 5 records after drain, sink has %d", got)
	}
}

func TestApp_ExitPolicy(t *testing.T) {
	s := &sink{status: http.StatusInternalServerError}
	srv := httptest.NewServer(s)
	defer srv.Close()

	exited := make(chan int, 1)
	base, stop := startApp(t, testConfig(srv.URL), func(code int) { exited <- code })

	for i := 0; i < 3; i++ {
		postRecord(t, base, i)
	}

	select {
	case code := <-exited:
		if code != 1 {
			t.Errorf("expected exit code 1, got %d", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("exit was not called after retries were exhausted")
	}

	resp, err := http.Get(base + "/livez")
	if err != nil {
		t.Fatalf("Failed to get livez: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected livez to fail after fatal exit, got %d", resp.StatusCode)
	}

	_ = stop()
}

func TestValidateCommand_Print(t *testing.T) {
	t.Setenv("BATCHRELAY_SINK_URL", "http://sink.local/ingest")
	t.Setenv("BATCHRELAY_API_KEYS", "secret-key")
	configPath = t.TempDir() + "/missing.yaml"
	validatePrint = true
	t.Cleanup(func() { validatePrint = false; configPath = config.DefaultPath })

	var out bytes.Buffer
	validateCmd.SetOut(&out)
	if err := runValidate(validateCmd, nil); err != nil {
		t.Fatalf("Failed to validate: %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "sink_url: http://sink.local/ingest") {
		t.Errorf("expected effective sink in output:\n%s", got)
	}
	if !strings.Contains(got, "flush_interval: 5s") {
		t.Errorf("expected durations as strings:\n%s", got)
	}
	if strings.Contains(got, "secret-key") {
		t.Errorf("api key leaked:\n%s", got)
	}
}

func TestValidateCommand_Invalid(t *testing.T) {
	t.Setenv("BATCHRELAY_SINK_URL", "")
	t.Setenv("BATCHRELAY_BATCH_SIZE", "0")
	configPath = t.TempDir() + "/missing.yaml"
	t.Cleanup(func() { configPath = config.DefaultPath })

	err := runValidate(validateCmd, nil)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "sink_url") {
		t.Errorf("expected sink_url problem, got %v", err)
	}
}
