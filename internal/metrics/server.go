package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oshokin/alarmd/internal/logger"
)

// shutdownTimeout bounds the graceful stop of the HTTP server.
const shutdownTimeout = 5 * time.Second

// HealthFunc returns nil while the daemon is healthy.
type HealthFunc func() error

// HealthReport is the /healthz response body.
type HealthReport struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HTTPServerOptions configures StartHTTPServer.
type HTTPServerOptions struct {
	// Addr is the listen address, used when Listener is nil.
	Addr string
	// Listener overrides Addr with an already bound listener.
	Listener net.Listener
	// Gatherer supplies /metrics; nil means the default gatherer.
	Gatherer prometheus.Gatherer
	// Health backs /healthz; nil always reports ok.
	Health HealthFunc
}

// StartHTTPServer serves /metrics and /healthz until ctx ends, then shuts
// the server down gracefully. It returns early if the server cannot start.
func StartHTTPServer(ctx context.Context, opts HTTPServerOptions) error {
	ctx = logger.WithName(ctx, "metrics")

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	lis := opts.Listener
	if lis == nil {
		lc := net.ListenConfig{}

		var err error

		lis, err = lc.Listen(ctx, "tcp", opts.Addr)
		if err != nil {
			return fmt.Errorf("metrics server failed to start: %w", err)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", healthHandler(opts.Health))

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	errChan := make(chan error, 1)

	go func() {
		logger.InfoKV(ctx, "Metrics server listening", "listen_address", lis.Addr().String())

		if err := server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("metrics server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.ErrorKV(ctx, "Metrics server shutdown error", "error", err)

			return fmt.Errorf("shutdown metrics server: %w", err)
		}

		logger.Info(ctx, "Metrics server stopped")

		return nil
	}
}

// healthHandler reports HealthFunc as JSON, with 503 when unhealthy.
func healthHandler(health HealthFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		report := HealthReport{Status: "ok"}
		status := http.StatusOK

		if health != nil {
			if err := health(); err != nil {
				report = HealthReport{Status: "unavailable", Error: err.Error()}
				status = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(report)
	})
}
