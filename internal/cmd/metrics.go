package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Iron-Ham/handoff/internal/logging"
)

// metricsServer exposes the controller collectors for scraping.
type metricsServer struct {
	server   *http.Server
	listener net.Listener
}

func startMetricsServer(ctx context.Context, addr string, reg *prometheus.Registry, logger *logging.Logger) (*metricsServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics: listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err.Error())
		}
	}()
	logger.Info("metrics server listening", "addr", listener.Addr().String())
	return &metricsServer{server: server, listener: listener}, nil
}

// Addr returns the address the server is bound to.
func (m *metricsServer) Addr() string {
	return m.listener.Addr().String()
}

// Shutdown stops accepting scrapes and waits for in-flight ones.
func (m *metricsServer) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return m.server.Shutdown(ctx)
}
