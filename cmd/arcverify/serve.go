package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"arcintegrity/internal/health"
	"arcintegrity/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

// serveHTTP serves metrics and health endpoints on ln until ctx ends.
func serveHTTP(ctx context.Context, ln net.Listener, reg *metrics.Registry, checker *health.Checker) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	mux.Handle("/healthz", checker.LivenessHandler())
	mux.Handle("/readyz", checker.ReadinessHandler())
	mux.Handle("/health", checker.HealthHandler())

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}
