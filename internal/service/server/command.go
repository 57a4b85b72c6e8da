package server

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/oshokin/alarmd/internal/api/grpc/admin"
	"github.com/oshokin/alarmd/internal/config"
	"github.com/oshokin/alarmd/internal/coordinator"
	"github.com/oshokin/alarmd/internal/logger"
	"github.com/oshokin/alarmd/internal/metrics"
	"github.com/oshokin/alarmd/internal/version"
)

// Options controls the alarmd process and configuration.
type Options struct {
	// ConfigPath specifies the path to settings YAML file. A missing file
	// means defaults.
	ConfigPath string
	// ListenAddress overrides the admin gRPC listen address from config.
	ListenAddress string
	// MetricsAddress overrides the metrics listen address and enables metrics.
	MetricsAddress string
}

// Run starts the coordinator, the admin gRPC server and, when enabled, the
// metrics server, and blocks until ctx is canceled. Pending alarms are then
// given the configured timeout to fire before the rest is discarded.
//
//nolint:funlen // Linear start-up and shutdown sequence.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "alarmd")

	settings, err := config.LoadOrDefault(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if level, ok := logger.ParseLogLevel(settings.LogLevel); ok {
		logger.SetLevel(level)
	}

	listenAddress := settings.Admin.ListenAddress
	if opts.ListenAddress != "" {
		listenAddress = opts.ListenAddress
	}

	if opts.MetricsAddress != "" {
		settings.Metrics.Enabled = true
		settings.Metrics.ListenAddress = opts.MetricsAddress
	}

	registry := prometheus.NewRegistry()

	// The coordinator outlives ctx so pending work can drain after a signal.
	coord, err := coordinator.New(
		context.WithoutCancel(ctx),
		settings,
		coordinator.WithObserver(metrics.NewCollector(registry)),
	)
	if err != nil {
		return fmt.Errorf("initialise coordinator: %w", err)
	}

	svc := newService(coord)

	// Setup TCP listener for gRPC server.
	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", listenAddress)
	if err != nil {
		coord.ShutdownNow()

		return fmt.Errorf("listen on %s: %w", listenAddress, err)
	}

	grpcServer := grpc.NewServer()
	admin.RegisterAdminServiceServer(grpcServer, admin.NewServer(svc))

	// serveCtx stops the metrics server once the gRPC server is gone.
	serveCtx, stopServing := context.WithCancel(ctx)
	defer stopServing()

	metricsDone := make(chan error, 1)

	if settings.Metrics.Enabled {
		go func() {
			err := metrics.StartHTTPServer(serveCtx, metrics.HTTPServerOptions{
				Addr:     settings.Metrics.ListenAddress,
				Gatherer: registry,
				Health:   svc.health,
			})
			if err != nil {
				logger.ErrorKV(ctx, "Metrics server failed, stopping", "error", err)
				stopServing()
			}

			metricsDone <- err
		}()
	} else {
		metricsDone <- nil
	}

	logger.InfoKV(ctx, "Alarm daemon listening", append([]any{
		"listen_address", lis.Addr().String(),
		"metrics_enabled", settings.Metrics.Enabled,
	}, version.KV()...)...)

	// Done channel is closed after GracefulStop finishes to ensure we block
	// until the server fully stops before returning.
	done := make(chan struct{})

	go func() {
		<-serveCtx.Done()
		logger.Info(ctx, "Shutting down gRPC server")
		grpcServer.GracefulStop()
		close(done)
	}()

	serveErr := grpcServer.Serve(lis)
	if errors.Is(serveErr, grpc.ErrServerStopped) {
		serveErr = nil
	}

	stopServing()
	<-done
	logger.Info(ctx, "GRPC server stopped")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settings.Timeout)
	defer cancel()

	shutdownErr := coord.Shutdown(shutdownCtx)
	metricsErr := <-metricsDone

	return errors.Join(wrap("serve gRPC", serveErr), shutdownErr, wrap("metrics server", metricsErr))
}

// wrap prefixes err with op, keeping nil as nil.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w", op, err)
}
