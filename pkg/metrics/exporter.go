package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veesix-networks/dhcprelay/pkg/component"
	"github.com/veesix-networks/dhcprelay/pkg/logger"
)

// Exporter serves the registry over HTTP.
type Exporter struct {
	*component.Base
	logger  *slog.Logger
	metrics *Metrics
	addr    string
	path    string
	server  *http.Server
}

func NewExporter(m *Metrics, addr, path string) *Exporter {
	if addr == "" {
		addr = ":9273"
	}
	if path == "" {
		path = "/metrics"
	}
	return &Exporter{
		Base:    component.NewBase("metrics"),
		logger:  logger.Get(logger.Metrics),
		metrics: m,
		addr:    addr,
		path:    path,
	}
}

func (e *Exporter) Start(ctx context.Context) error {
	e.StartContext(ctx)

	mux := http.NewServeMux()
	mux.Handle(e.path, promhttp.HandlerFor(e.metrics.Registry, promhttp.HandlerOpts{}))
	e.server = &http.Server{
		Addr:              e.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	e.Go(func() {
		e.logger.Info("Prometheus HTTP server listening", "addr", e.addr, "path", e.path)
		if err := e.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("Prometheus HTTP server error", "error", err)
		}
	})
	return nil
}

func (e *Exporter) Stop(ctx context.Context) error {
	if e.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.server.Shutdown(shutdownCtx); err != nil {
			e.logger.Warn("Failed to shut down Prometheus HTTP server", "error", err)
		}
	}
	e.StopContext()
	return nil
}
