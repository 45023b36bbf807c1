// Package server implements the health and metrics endpoints served while a
// build runs.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const defaultProbeTimeout = 5 * time.Second

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Probe reports whether a dependency is reachable.
type Probe func(ctx context.Context) error

// Checker tracks process liveness and probes dependencies for readiness.
type Checker struct {
	alive   atomic.Bool
	timeout time.Duration

	mu     sync.Mutex
	names  []string
	probes map[string]Probe
	status map[string]string
}

// NewChecker creates a live checker without probes.
func NewChecker() *Checker {
	c := &Checker{
		timeout: defaultProbeTimeout,
		probes:  make(map[string]Probe),
		status:  make(map[string]string),
	}
	c.alive.Store(true)
	return c
}

// AddProbe registers a readiness probe under name.
func (c *Checker) AddProbe(name string, probe Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.probes[name]; !ok {
		c.names = append(c.names, name)
		sort.Strings(c.names)
	}
	c.probes[name] = probe
	c.status[name] = "unknown"
}

// SetAlive flips liveness, e.g. when shutdown starts.
func (c *Checker) SetAlive(alive bool) {
	c.alive.Store(alive)
}

// Liveness reports whether the process should keep running.
func (c *Checker) Liveness() bool {
	return c.alive.Load()
}

// Readiness runs every probe and reports whether all succeeded.
func (c *Checker) Readiness(ctx context.Context) bool {
	if !c.Liveness() {
		return false
	}

	c.mu.Lock()
	names := append([]string(nil), c.names...)
	probes := make([]Probe, len(names))
	for i, name := range names {
		probes[i] = c.probes[name]
	}
	c.mu.Unlock()

	ready := true
	results := make(map[string]string, len(names))
	for i, name := range names {
		pctx, cancel := context.WithTimeout(ctx, c.timeout)
		err := probes[i](pctx)
		cancel()
		if err != nil {
			ready = false
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}

	c.mu.Lock()
	for name, s := range results {
		c.status[name] = s
	}
	c.mu.Unlock()
	return ready
}

// GetStatus returns the last probe results.
func (c *Checker) GetStatus() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.status))
	for k, v := range c.status {
		out[k] = v
	}
	return out
}

// LivenessHandler returns a handler for Kubernetes liveness probes.
// Liveness probes should only fail if the process needs to be restarted.
func LivenessHandler(checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "alive"
		statusCode := http.StatusOK

		if !checker.Liveness() {
			status = "not alive"
			statusCode = http.StatusServiceUnavailable
		}

		writeHealth(w, statusCode, HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}, logger)
	}
}

// ReadinessHandler returns a handler for Kubernetes readiness probes.
// Readiness fails while the metadata store or the source is unreachable.
func ReadinessHandler(checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ready"
		statusCode := http.StatusOK

		if !checker.Readiness(r.Context()) {
			status = "not ready"
			statusCode = http.StatusServiceUnavailable
		}

		writeHealth(w, statusCode, HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    checker.GetStatus(),
		}, logger)
	}
}

func writeHealth(w http.ResponseWriter, statusCode int, response HealthResponse, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Error("failed to encode health response", "error", err)
	}
}
