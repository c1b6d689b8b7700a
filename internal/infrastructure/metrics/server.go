// Package metrics exposes the Prometheus scrape endpoint and the liveness
// probe over a small HTTP server.
package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/runnelsdev/copybridge/internal/core"
)

// Server serves /metrics and /healthz.
type Server struct {
	addr   string
	health core.IHealthMonitor
	logger core.ILogger
	srv    *http.Server
}

func NewServer(addr string, health core.IHealthMonitor, logger core.ILogger) *Server {
	return &Server{
		addr:   addr,
		health: health,
		logger: logger.WithField("component", "metrics_server"),
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealth)

	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Metrics server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{}
	healthy := true
	if s.health != nil {
		status = s.health.GetStatus()
		healthy = s.health.IsHealthy()
	}

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]any{
		"healthy":    healthy,
		"components": status,
	})
}
