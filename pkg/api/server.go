// Package api serves the optional monitoring surface: Prometheus metrics
// over HTTP and the standard gRPC health service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/psaab/routershell/pkg/executor"
	"github.com/psaab/routershell/pkg/logging"
)

// ServiceName is the gRPC health service name reported alongside the
// overall ("") status.
const ServiceName = "routershell"

// StatsSource provides executor counters.
type StatsSource interface {
	Stats() executor.Stats
}

// CountSource provides store row counts.
type CountSource interface {
	Counts(ctx context.Context) (map[string]int, error)
}

// Config configures the API server. Empty addresses disable the listener.
type Config struct {
	MetricsAddr string
	GrpcAddr    string
	Executor    StatsSource
	Store       CountSource
}

// Server serves /metrics and the gRPC health service.
type Server struct {
	metricsAddr string
	grpcAddr    string
	exec        StatsSource
	store       CountSource
	health      *health.Server
	handler     http.Handler
	log         *slog.Logger
	startTime   time.Time

	mu      sync.Mutex
	serving bool
}

// NewServer creates a new API server. Health starts NOT_SERVING.
func NewServer(cfg Config) *Server {
	s := &Server{
		metricsAddr: cfg.MetricsAddr,
		grpcAddr:    cfg.GrpcAddr,
		exec:        cfg.Executor,
		store:       cfg.Store,
		health:      health.NewServer(),
		log:         logging.For("api"),
		startTime:   time.Now(),
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	// isolated registry
	registry := prometheus.NewRegistry()
	registry.MustRegister(newCollector(s))
	registry.MustRegister(collectors.NewGoCollector())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	s.handler = mux
	return s
}

// Enabled reports whether any listener is configured.
func (s *Server) Enabled() bool {
	return s.metricsAddr != "" || s.grpcAddr != ""
}

// Handler returns the HTTP handler serving /health and /metrics.
func (s *Server) Handler() http.Handler { return s.handler }

// Health returns the gRPC health server.
func (s *Server) Health() *health.Server { return s.health }

// SetServing flips the health status. The shell sets it once the store is
// open.
func (s *Server) SetServing(on bool) {
	s.mu.Lock()
	s.serving = on
	s.mu.Unlock()
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if on {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

func (s *Server) isServing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serving
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	status, code := "ok", http.StatusOK
	if !s.isServing() {
		status, code = "starting", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"status": status,
		"uptime": time.Since(s.startTime).Truncate(time.Second).String(),
	})
}

// Run starts the configured listeners and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if !s.Enabled() {
		<-ctx.Done()
		return nil
	}
	errCh := make(chan error, 2)

	var httpServer *http.Server
	if s.metricsAddr != "" {
		lis, err := net.Listen("tcp", s.metricsAddr)
		if err != nil {
			return fmt.Errorf("metrics listen: %w", err)
		}
		httpServer = &http.Server{Handler: s.handler, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			s.log.Info("metrics server listening", "addr", lis.Addr())
			if err := httpServer.Serve(lis); !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	var grpcServer *grpc.Server
	if s.grpcAddr != "" {
		lis, err := net.Listen("tcp", s.grpcAddr)
		if err != nil {
			if httpServer != nil {
				httpServer.Close()
			}
			return fmt.Errorf("gRPC listen: %w", err)
		}
		grpcServer = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcServer, s.health)
		go func() {
			s.log.Info("gRPC health server listening", "addr", lis.Addr())
			if err := grpcServer.Serve(lis); err != nil {
				errCh <- err
			}
		}()
	}

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
	}

	s.health.Shutdown()
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}
	return err
}
