package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestRegistry() *Registry {
	config := DefaultConfig()
	config.IncludeGoCollector = false
	config.IncludeProcessCollector = false
	return NewRegistry(config, nil)
}

func TestNewRegistry(t *testing.T) {
	registry := newTestRegistry()

	if registry == nil {
		t.Fatal("expected registry to be non-nil")
	}
	if registry.Pipeline == nil {
		t.Error("expected Pipeline metrics to be initialized")
	}
	if registry.Delivery == nil {
		t.Error("expected Delivery metrics to be initialized")
	}
	if registry.HTTP == nil {
		t.Error("expected HTTP metrics to be initialized")
	}
}

func TestPipelineMetrics_AcceptReject(t *testing.T) {
	registry := newTestRegistry()

	registry.Pipeline.RecordAccepted(1)
	registry.Pipeline.RecordAccepted(2)
	registry.Pipeline.RecordRejected("queue_full")

	if got := testutil.ToFloat64(registry.Pipeline.RecordsAccepted); got != 2 {
		t.Errorf("RecordsAccepted: expected 2, got %v", got)
	}
	if got := testutil.ToFloat64(registry.Pipeline.QueueDepth); got != 2 {
		t.Errorf("QueueDepth: expected 2, got %v", got)
	}
	if got := testutil.ToFloat64(registry.Pipeline.RecordsRejected.WithLabelValues("queue_full")); got != 1 {
		t.Errorf("RecordsRejected{queue_full}: expected 1, got %v", got)
	}
}

func TestPipelineMetrics_RecordBatch(t *testing.T) {
	registry := newTestRegistry()

	registry.Pipeline.RecordBatch("success", 10, 50*time.Millisecond)
	registry.Pipeline.RecordBatch("success", 3, 10*time.Millisecond)
	registry.Pipeline.RecordBatch("exhausted_retries", 10, 6*time.Second)

	if got := testutil.ToFloat64(registry.Pipeline.Batches.WithLabelValues("success")); got != 2 {
		t.Errorf("Batches{success}: expected 2, got %v", got)
	}
	if got := testutil.ToFloat64(registry.Pipeline.Batches.WithLabelValues("exhausted_retries")); got != 1 {
		t.Errorf("Batches{exhausted_retries}: expected 1, got %v", got)
	}
	if count := testutil.CollectAndCount(registry.Pipeline.BatchSize); count != 1 {
		t.Errorf("BatchSize: expected 1 series, got %d", count)
	}
}

func TestDeliveryMetrics_RecordAttempt(t *testing.T) {
	registry := newTestRegistry()

	registry.Delivery.RecordAttempt("server_error", 100, time.Millisecond)
	registry.Delivery.RecordRetry()
	registry.Delivery.RecordAttempt("success", 100, time.Millisecond)

	if got := testutil.ToFloat64(registry.Delivery.Attempts.WithLabelValues("server_error")); got != 1 {
		t.Errorf("Attempts{server_error}: expected 1, got %v", got)
	}
	if got := testutil.ToFloat64(registry.Delivery.Retries); got != 1 {
		t.Errorf("Retries: expected 1, got %v", got)
	}
	if got := testutil.ToFloat64(registry.Delivery.BytesSent); got != 200 {
		t.Errorf("BytesSent: expected 200, got %v", got)
	}
}

func TestHTTPMetrics_UnmatchedRoute(t *testing.T) {
	registry := newTestRegistry()

	registry.HTTP.RecordRequest(http.MethodGet, "", http.StatusNotFound, time.Millisecond)

	got := testutil.ToFloat64(registry.HTTP.Requests.WithLabelValues("GET", "unmatched", "404"))
	if got != 1 {
		t.Errorf("Requests{unmatched}: expected 1, got %v", got)
	}
}

func TestDisabledRegistry_NoOps(t *testing.T) {
	config := DefaultConfig()
	config.Enabled = false
	registry := NewRegistry(config, nil)

	// Subsystems are nil; recording must not panic.
	registry.Pipeline.RecordAccepted(1)
	registry.Delivery.RecordAttempt("success", 1, time.Millisecond)
	registry.HTTP.RecordRequest("GET", "/", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	registry.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "Metrics disabled") {
		t.Errorf("expected disabled marker, got %q", rec.Body.String())
	}
}

func TestHandler_ProducesPrometheusOutput(t *testing.T) {
	registry := newTestRegistry()

	registry.Pipeline.RecordAccepted(1)
	registry.Pipeline.SetQueueCapacity(10000)
	registry.Pipeline.RecordDispatchRequest(TriggerSize)
	registry.Delivery.RecordAttempt("success", 512, 5*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	registry.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	body := rec.Body.String()
	expectedMetrics := []string{
		"batchrelay_pipeline_records_accepted_total",
		"batchrelay_pipeline_queue_capacity",
		"batchrelay_pipeline_dispatch_requests_total",
		"batchrelay_delivery_attempts_total",
		"batchrelay_delivery_bytes_sent_total",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(body, metric) {
			t.Errorf("expected metric %s in output, not found", metric)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if !config.Enabled {
		t.Error("expected Enabled to be true by default")
	}
	if config.Namespace != "batchrelay" {
		t.Errorf("expected Namespace batchrelay, got %s", config.Namespace)
	}

	buckets := config.HistogramBuckets
	if last := buckets[len(buckets)-1]; last < 10 {
		t.Errorf("expected last bucket to cover retried batches, got %v", last)
	}
	for i := 1; i < len(buckets); i++ {
		if buckets[i] <= buckets[i-1] {
			t.Errorf("buckets not in ascending order: %v <= %v", buckets[i], buckets[i-1])
		}
	}
}
