// Package health aggregates component health checks for the /healthz
// endpoint and the heartbeat loop.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/runnelsdev/copybridge/internal/core"
)

// Monitor implements core.IHealthMonitor. Checks are registered once at
// wiring time and probed on demand.
type Monitor struct {
	logger core.ILogger

	mu     sync.RWMutex
	checks map[string]func() error
}

func NewMonitor(logger core.ILogger) *Monitor {
	return &Monitor{
		logger: logger.WithField("component", "health_monitor"),
		checks: make(map[string]func() error),
	}
}

// Register adds a named component check. Re-registering replaces the check.
func (m *Monitor) Register(component string, check func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[component] = check
}

// GetStatus probes every check and reports "healthy" or the failure text.
func (m *Monitor) GetStatus() map[string]string {
	m.mu.RLock()
	checks := make(map[string]func() error, len(m.checks))
	for name, check := range m.checks {
		checks[name] = check
	}
	m.mu.RUnlock()

	status := make(map[string]string, len(checks))
	for name, check := range checks {
		if err := check(); err != nil {
			status[name] = err.Error()
		} else {
			status[name] = "healthy"
		}
	}
	return status
}

// IsHealthy reports whether every registered check passes.
func (m *Monitor) IsHealthy() bool {
	for _, state := range m.GetStatus() {
		if state != "healthy" {
			return false
		}
	}
	return true
}

// Run logs an aggregate health line on the given interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := m.GetStatus()
			unhealthy := 0
			for name, state := range status {
				if state != "healthy" {
					unhealthy++
					m.logger.Warn("Component unhealthy", "checkName", name, "state", state)
				}
			}
			if unhealthy == 0 {
				m.logger.Debug("Health check passed", "components", len(status))
			}
		}
	}
}
