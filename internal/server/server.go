package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker interface for checking component health.
type HealthChecker interface {
	Liveness() bool
	Readiness(ctx context.Context) bool
	GetStatus() map[string]string
}

// Config holds listen ports and endpoint paths. Port 0 picks a free port.
type Config struct {
	HealthPort    int
	MetricsPort   int
	LivenessPath  string
	ReadinessPath string
	MetricsPath   string
}

func (c Config) withDefaults() Config {
	if c.LivenessPath == "" {
		c.LivenessPath = "/health/live"
	}
	if c.ReadinessPath == "" {
		c.ReadinessPath = "/health/ready"
	}
	if c.MetricsPath == "" {
		c.MetricsPath = "/metrics"
	}
	return c
}

// Server represents the HTTP server for health and metrics.
type Server struct {
	healthServer  *http.Server
	metricsServer *http.Server
	healthAddr    net.Addr
	metricsAddr   net.Addr
	logger        *slog.Logger
}

// NewServer creates a new HTTP server.
func NewServer(cfg Config, healthChecker HealthChecker, registry *prometheus.Registry, logger *slog.Logger) *Server {
	cfg = cfg.withDefaults()

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("GET "+cfg.LivenessPath, LivenessHandler(healthChecker, logger))
	healthMux.HandleFunc("GET "+cfg.ReadinessPath, ReadinessHandler(healthChecker, logger))

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET "+cfg.MetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &Server{
		healthServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.HealthPort),
			Handler:      healthMux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		metricsServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler:      metricsMux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start binds both listeners and serves them in the background. A bind
// failure is returned before anything is served.
func (s *Server) Start() error {
	healthLn, err := net.Listen("tcp", s.healthServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen for health server: %w", err)
	}
	metricsLn, err := net.Listen("tcp", s.metricsServer.Addr)
	if err != nil {
		healthLn.Close()
		return fmt.Errorf("failed to listen for metrics server: %w", err)
	}
	s.healthAddr = healthLn.Addr()
	s.metricsAddr = metricsLn.Addr()

	s.serve("health", s.healthServer, healthLn)
	s.serve("metrics", s.metricsServer, metricsLn)
	return nil
}

func (s *Server) serve(name string, srv *http.Server, ln net.Listener) {
	go func() {
		s.logger.Info("starting "+name+" server", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error(name+" server failed", "error", err)
		}
	}()
}

// HealthAddr returns the bound health address after Start.
func (s *Server) HealthAddr() net.Addr { return s.healthAddr }

// MetricsAddr returns the bound metrics address after Start.
func (s *Server) MetricsAddr() net.Addr { return s.metricsAddr }

// Shutdown gracefully shuts down both servers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP servers")

	errChan := make(chan error, 2)

	go func() {
		errChan <- s.healthServer.Shutdown(ctx)
	}()

	go func() {
		errChan <- s.metricsServer.Shutdown(ctx)
	}()

	var lastErr error
	for i := 0; i < 2; i++ {
		if err := <-errChan; err != nil {
			s.logger.Error("error shutting down server", "error", err)
			lastErr = err
		}
	}

	return lastErr
}
