// =============================================================================
// SERVE COMMAND - RUN THE RELAY
// =============================================================================
//
// STARTUP:
//   config → logger → metrics → sink client → pipeline → HTTP API → gRPC health
//
// SHUTDOWN (SIGINT/SIGTERM, or a listener failing):
//
//   1. gRPC health reports NOT_SERVING
//   2. HTTP API stops accepting and finishes in-flight requests
//   3. pipeline drains the queue to the sink
//   4. gRPC server stops
//
// The whole sequence is bounded by shutdown_timeout. Any failure, including
// records left undelivered when the deadline hits, exits with status 1.
//
// =============================================================================

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"batchrelay/internal/api"
	"batchrelay/internal/config"
	"batchrelay/internal/delivery"
	grpcserver "batchrelay/internal/grpc"
	"batchrelay/internal/metrics"
	"batchrelay/internal/model"
	"batchrelay/internal/pipeline"
	"batchrelay/internal/security"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingest API and the batching pipeline",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	a, err := newApp(cfg, logger, os.Exit)
	if err != nil {
		return err
	}

	httpL, grpcL, err := a.listen()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return a.run(ctx, httpL, grpcL)
}

// =============================================================================
// APPLICATION WIRING
// =============================================================================

// app owns every long-lived component of one relay process.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.Registry
	pipeline *pipeline.Pipeline[model.LogPayload]
	api      *api.Server

	// grpc is nil when grpc_addr is empty.
	grpc *grpcserver.Server
}

// newApp builds the components without starting anything. exit is called
// with status 1 when a batch exhausts its retries under the exit policy.
func newApp(cfg *config.Config, logger *slog.Logger, exit func(code int)) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewRegistry(cfg.MetricsConfig(), logger),
	}

	httpClient, err := cfg.SinkTLS().NewHTTPClient()
	if err != nil {
		return nil, fmt.Errorf("failed to configure sink TLS: %w", err)
	}

	sender, err := delivery.NewClient[model.LogPayload](cfg.DeliveryConfig(),
		delivery.WithHTTPClient(httpClient),
		delivery.WithLogger(logger),
		delivery.WithMetrics(a.metrics.Delivery),
	)
	if err != nil {
		return nil, err
	}

	a.pipeline, err = pipeline.New[model.LogPayload](cfg.PipelineSettings(), sender,
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(a.metrics.Pipeline),
		pipeline.WithExitFunc(a.fatalExit(exit)),
	)
	if err != nil {
		return nil, err
	}

	apiConfig := api.DefaultServerConfig()
	apiConfig.Addr = cfg.HTTPAddr
	apiConfig.MaxBodyBytes = cfg.MaxBodyBytes
	apiConfig.RateLimit = cfg.IngestRateLimit
	apiConfig.RateBurst = cfg.IngestBurst

	a.api = api.NewServer(a.pipeline, apiConfig,
		api.WithLogger(logger),
		api.WithMetrics(a.metrics),
		api.WithKeyRing(security.NewKeyRing(cfg.APIKeys, logger)),
	)

	if cfg.GRPCAddr != "" {
		grpcConfig := grpcserver.DefaultServerConfig()
		grpcConfig.Address = cfg.GRPCAddr
		a.grpc = grpcserver.NewServer(a.pipeline.Running, grpcConfig, grpcserver.WithLogger(logger))
	}

	return a, nil
}

// fatalExit marks the process unhealthy before handing over to exit.
func (a *app) fatalExit(exit func(code int)) func(code int) {
	return func(code int) {
		a.logger.Error("batch exhausted its retries, terminating",
			"policy", a.cfg.OnExhausted,
			"exit_code", code,
		)
		a.api.Health().SetLive(false)
		if a.grpc != nil {
			a.grpc.Drain()
		}
		exit(code)
	}
}

// listen opens the HTTP listener and, if configured, the gRPC one.
func (a *app) listen() (net.Listener, net.Listener, error) {
	httpL, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", a.cfg.HTTPAddr, err)
	}
	if a.grpc == nil {
		return httpL, nil, nil
	}
	grpcL, err := net.Listen("tcp", a.cfg.GRPCAddr)
	if err != nil {
		httpL.Close()
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", a.cfg.GRPCAddr, err)
	}
	return httpL, grpcL, nil
}

// run starts every component and blocks until ctx is done or a listener
// fails, then shuts down in order. grpcL may be nil.
func (a *app) run(ctx context.Context, httpL, grpcL net.Listener) error {
	if err := a.pipeline.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.api.Serve(httpL); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if a.grpc != nil && grpcL != nil {
		g.Go(func() error {
			if err := a.grpc.Serve(grpcL); err != nil {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})

	err := g.Wait()
	if err != nil {
		a.logger.Error("batchrelay stopped with errors", "error", err)
		return err
	}
	a.logger.Info("batchrelay stopped")
	return nil
}

// shutdown stops components in dependency order under one deadline.
func (a *app) shutdown() error {
	a.logger.Info("shutting down", "timeout", a.cfg.ShutdownTimeout)
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error

	if a.grpc != nil {
		a.grpc.Drain()
	}

	if err := a.api.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	if err := a.pipeline.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("pipeline shutdown: %w", err))
	}

	if a.grpc != nil {
		a.grpc.Stop(ctx)
	}

	a.logger.Info("shutdown complete", "elapsed", time.Since(start).String())
	return errors.Join(errs...)
}
