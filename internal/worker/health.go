package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger checks a backing connection
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

// Ping implements Pinger
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthServer provides HTTP health check endpoints
type HealthServer struct {
	port     int
	checks   map[string]Pinger
	ready    func() bool
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	server   *http.Server
}

// NewHealthServer creates a new health server. checks are pinged by /health
// and /ready; ready gates /ready once every check passes.
func NewHealthServer(port int, checks map[string]Pinger, ready func() bool, gatherer prometheus.Gatherer, logger *zap.Logger) *HealthServer {
	if ready == nil {
		ready = func() bool { return true }
	}
	return &HealthServer{
		port:     port,
		checks:   checks,
		ready:    ready,
		gatherer: gatherer,
		logger:   logger,
	}
}

// Handler returns the HTTP handler serving /health, /ready and /metrics
func (hs *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", hs.handleHealth)
	mux.HandleFunc("/ready", hs.handleReady)
	if hs.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(hs.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start starts the health check server
func (hs *HealthServer) Start() error {
	hs.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", hs.port),
		Handler:           hs.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	hs.logger.Info("starting health server", zap.Int("port", hs.port))

	go func() {
		if err := hs.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			hs.logger.Error("health server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop stops the health check server
func (hs *HealthServer) Stop() error {
	if hs.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hs.logger.Info("stopping health server")
	return hs.server.Shutdown(ctx)
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// runChecks pings every dependency and reports whether all are healthy
func (hs *HealthServer) runChecks(ctx context.Context) (map[string]string, bool) {
	results := make(map[string]string, len(hs.checks))
	healthy := true
	for name, check := range hs.checks {
		if err := check.Ping(ctx); err != nil {
			results[name] = fmt.Sprintf("unhealthy: %v", err)
			healthy = false
			continue
		}
		results[name] = "healthy"
	}
	return results, healthy
}

// handleHealth handles the /health endpoint
func (hs *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks, healthy := hs.runChecks(ctx)
	if !healthy {
		hs.respondJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status: "unhealthy",
			Checks: checks,
		})
		return
	}

	hs.respondJSON(w, http.StatusOK, HealthResponse{
		Status: "healthy",
		Checks: checks,
	})
}

// handleReady handles the /ready endpoint
func (hs *HealthServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	_, healthy := hs.runChecks(ctx)
	if !healthy || !hs.ready() {
		hs.respondJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status: "not ready",
		})
		return
	}

	hs.respondJSON(w, http.StatusOK, HealthResponse{
		Status: "ready",
	})
}

// respondJSON writes a JSON response
func (hs *HealthServer) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		hs.logger.Error("failed to encode response", zap.Error(err))
	}
}
