// =============================================================================
// gRPC SERVER - HEALTH PROBES FOR BATCHRELAY
// =============================================================================
//
// WHAT IS THIS?
// An optional second listener that speaks the standard grpc.health.v1
// protocol, so orchestrators and service meshes that probe over gRPC see the
// same readiness the HTTP /readyz endpoint reports.
//
// SERVICES:
//
//   ""                     overall status
//   batchrelay.v1.Ingest   SERVING while the pipeline accepts records
//
// Status is refreshed from a Probe on a fixed interval and forced to
// NOT_SERVING by Drain at the start of shutdown.
//
// =============================================================================

package grpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"k8s.io/utils/clock"
)

// IngestService is the health service name of the ingest path.
const IngestService = "batchrelay.v1.Ingest"

// Probe reports whether the ingest path can take records.
type Probe func() bool

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds gRPC server configuration.
type ServerConfig struct {
	// Address to listen on (e.g., ":9090")
	Address string

	// RefreshInterval is how often the Probe is consulted.
	RefreshInterval time.Duration

	// Keepalive settings
	KeepaliveTime    time.Duration // How often to ping if no activity
	KeepaliveTimeout time.Duration // How long to wait for ping response

	// EnableReflection enables gRPC reflection for grpcurl and friends.
	EnableReflection bool
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:          ":9090",
		RefreshInterval:  time.Second,
		KeepaliveTime:    30 * time.Second,
		KeepaliveTimeout: 10 * time.Second,
		EnableReflection: true,
	}
}

// =============================================================================
// SERVER STRUCT
// =============================================================================

// Server is the gRPC health server.
type Server struct {
	config     ServerConfig
	probe      Probe
	grpcServer *grpc.Server
	health     *health.Server
	logger     *slog.Logger
	clock      clock.WithTicker

	// mu protects server state
	mu       sync.Mutex
	running  bool
	stopped  bool
	draining bool
	listener net.Listener
	stopCh   chan struct{}
	done     chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithClock replaces the clock driving probe refreshes.
func WithClock(c clock.WithTicker) Option {
	return func(s *Server) { s.clock = c }
}

// NewServer creates a new gRPC server. Nothing is served until Serve.
func NewServer(probe Probe, config ServerConfig, opts ...Option) *Server {
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = DefaultServerConfig().RefreshInterval
	}

	s := &Server{
		config: config,
		probe:  probe,
		health: health.NewServer(),
		clock:  clock.RealClock{},
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "grpc")

	grpcOpts := []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    config.KeepaliveTime,
			Timeout: config.KeepaliveTimeout,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			PermitWithoutStream: true,
			MinTime:             10 * time.Second,
		}),
		grpc.ChainUnaryInterceptor(
			unaryLoggingInterceptor(s.logger),
			unaryRecoveryInterceptor(s.logger),
		),
		grpc.ChainStreamInterceptor(
			streamLoggingInterceptor(s.logger),
			streamRecoveryInterceptor(s.logger),
		),
	}
	s.grpcServer = grpc.NewServer(grpcOpts...)

	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	if config.EnableReflection {
		reflection.Register(s.grpcServer)
	}

	s.Refresh()
	return s
}

// =============================================================================
// HEALTH STATUS
// =============================================================================

// Refresh consults the probe and publishes the result.
func (s *Server) Refresh() {
	s.mu.Lock()
	draining := s.draining
	s.mu.Unlock()
	if draining {
		return
	}

	st := healthpb.HealthCheckResponse_NOT_SERVING
	if s.probe != nil && s.probe() {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(IngestService, st)
}

// Drain reports NOT_SERVING for every service from now on. RPCs are still
// answered so probes can observe the change.
func (s *Server) Drain() {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	s.health.Shutdown()
	s.logger.Info("gRPC health set to NOT_SERVING")
}

func (s *Server) refreshLoop() {
	defer close(s.done)
	ticker := s.clock.NewTicker(s.config.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C():
			s.Refresh()
		case <-s.stopCh:
			return
		}
	}
}

// =============================================================================
// SERVER LIFECYCLE
// =============================================================================

// Serve accepts connections on l and blocks until Stop. After Stop it closes
// l and returns nil at once.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		_ = l.Close()
		return nil
	}
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.listener = l
	s.running = true
	s.mu.Unlock()

	go s.refreshLoop()

	s.logger.Info("gRPC server starting",
		"address", l.Addr().String(),
		"reflection", s.config.EnableReflection,
	)
	if err := s.grpcServer.Serve(l); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// ListenAndServe listens on the configured address and serves.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	return s.Serve(l)
}

// Stop drains the health status and shuts down, waiting for in-flight RPCs
// until ctx ends.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()

	s.Drain()
	if !wasRunning {
		s.grpcServer.Stop()
		s.logger.Info("gRPC server stopped before serving")
		return
	}
	close(s.stopCh)
	<-s.done

	s.logger.Info("gRPC server stopping...")
	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcServer.Stop()
		<-stopped
	}
	s.logger.Info("gRPC server stopped")
}

// Address returns the address the server is listening on.
// Useful when using port 0 for dynamic port assignment.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Address
}

// =============================================================================
// INTERCEPTORS (MIDDLEWARE)
// =============================================================================

// unaryLoggingInterceptor logs unary RPC calls. Health checks are frequent
// and only logged at debug level.
func unaryLoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		level := slog.LevelDebug
		if err != nil {
			level = slog.LevelError
		}
		logger.Log(ctx, level, "gRPC unary",
			"method", info.FullMethod,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)

		return resp, err
	}
}

// unaryRecoveryInterceptor catches panics and converts them to errors.
func unaryRecoveryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("gRPC panic recovered",
					"method", info.FullMethod,
					"panic", r,
				)
				err = status.Errorf(codes.Internal, "internal server error")
			}
		}()

		return handler(ctx, req)
	}
}

// streamLoggingInterceptor logs streaming RPC calls (health Watch).
func streamLoggingInterceptor(logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()

		err := handler(srv, ss)

		level := slog.LevelDebug
		if err != nil && status.Code(err) != codes.Canceled {
			level = slog.LevelError
		}
		logger.Log(ss.Context(), level, "gRPC stream",
			"method", info.FullMethod,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)

		return err
	}
}

// streamRecoveryInterceptor catches panics in streaming RPCs.
func streamRecoveryInterceptor(logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("gRPC stream panic recovered",
					"method", info.FullMethod,
					"panic", r,
				)
				err = status.Errorf(codes.Internal, "internal server error")
			}
		}()

		return handler(srv, ss)
	}
}
