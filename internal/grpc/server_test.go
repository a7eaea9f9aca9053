// =============================================================================
// GRPC SERVER TESTS
// =============================================================================
//
// The server runs on an in-memory bufconn listener; clients dial it through
// a context dialer, so no ports are opened.
// =============================================================================

package grpc

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
	testingclock "k8s.io/utils/clock/testing"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type testServer struct {
	server *Server
	client healthpb.HealthClient
	clock  *testingclock.FakeClock
	ready  *atomic.Bool
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	ready := &atomic.Bool{}
	ready.Store(true)
	fake := testingclock.NewFakeClock(time.Now())

	config := DefaultServerConfig()
	config.RefreshInterval = time.Second
	server := NewServer(ready.Load, config,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(fake),
	)

	listener := bufconn.Listen(1 << 20)
	go server.Serve(listener)

	// The refresh ticker must exist before tests step the clock.
	deadline := time.Now().Add(2 * time.Second)
	for !fake.HasWaiters() {
		if time.Now().After(deadline) {
			t.Fatal("refresh loop never started")
		}
		time.Sleep(time.Millisecond)
	}

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.Stop(ctx)
	})

	return &testServer{
		server: server,
		client: healthpb.NewHealthClient(conn),
		clock:  fake,
		ready:  ready,
	}
}

func (ts *testServer) check(t *testing.T, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := ts.client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Failed to check health of %q: %v", service, err)
	}
	return resp.GetStatus()
}

func waitForStatus(t *testing.T, ts *testServer, service string, want healthpb.HealthCheckResponse_ServingStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ts.check(t, service) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("service %q never reached %s", service, want)
}

// =============================================================================
// TESTS
// =============================================================================

func TestHealth_ServingWhenProbePasses(t *testing.T) {
	ts := setupTestServer(t)

	for _, service := range []string{"", IngestService} {
		if got := ts.check(t, service); got != healthpb.HealthCheckResponse_SERVING {
			t.Errorf("service %q: expected SERVING, got %s", service, got)
		}
	}
}

func TestHealth_RefreshFollowsProbe(t *testing.T) {
	ts := setupTestServer(t)

	ts.ready.Store(false)
	ts.clock.Step(time.Second)
	waitForStatus(t, ts, IngestService, healthpb.HealthCheckResponse_NOT_SERVING)

	ts.ready.Store(true)
	ts.clock.Step(time.Second)
	waitForStatus(t, ts, IngestService, healthpb.HealthCheckResponse_SERVING)
}

func TestHealth_DrainIsSticky(t *testing.T) {
	ts := setupTestServer(t)

	ts.server.Drain()
	if got := ts.check(t, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING after Drain, got %s", got)
	}

	// A passing probe must not flip it back.
	ts.server.Refresh()
	ts.clock.Step(time.Second)
	time.Sleep(20 * time.Millisecond)
	if got := ts.check(t, IngestService); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("expected drain to hold, got %s", got)
	}
}

func TestHealth_UnknownService(t *testing.T) {
	ts := setupTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := ts.client.Check(ctx, &healthpb.HealthCheckRequest{Service: "nope"}); err == nil {
		t.Error("expected NotFound for unknown service")
	}
}

func TestServer_StopWithoutServe(t *testing.T) {
	server := NewServer(func() bool { return true }, DefaultServerConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	server.Stop(ctx)
}

func TestServer_ServeAfterStopReturns(t *testing.T) {
	server := NewServer(func() bool { return true }, DefaultServerConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	server.Stop(ctx)

	listener := bufconn.Listen(1 << 20)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(listener) }()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Failed to return cleanly from Serve after Stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve still blocking after Stop")
	}

	if _, err := listener.Accept(); err == nil {
		t.Error("expected listener to be closed")
	}
	resp, err := server.health.Check(context.Background(), &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Failed to check health: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("expected NOT_SERVING after Stop, got %s", resp.Status)
	}
}
