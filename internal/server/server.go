// Package server implements the bucketwalk ops HTTP listener: a health
// endpoint backed by the storage backend, Prometheus metrics, and the
// generated OpenAPI documentation.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bleepstore/bucketwalk/internal/storage"
)

// healthTimeout bounds a single backend health probe.
const healthTimeout = 5 * time.Second

// Server is the ops HTTP server. It does not proxy storage traffic.
type Server struct {
	router  chi.Router
	api     huma.API
	backend storage.Backend

	mu         sync.Mutex
	httpServer *http.Server
}

// HealthBody is the JSON body returned by the health check endpoint.
type HealthBody struct {
	Status string `json:"status" example:"ok" doc:"Health status"`
	Region string `json:"region,omitempty" example:"us-west-2" doc:"Region resolved by the storage backend"`
}

// HealthOutput is the Huma output struct for the health check endpoint.
type HealthOutput struct {
	Body HealthBody
}

// New creates a Server that reports the health of backend.
func New(backend storage.Backend, version string) *Server {
	router := chi.NewMux()

	humaConfig := huma.DefaultConfig("bucketwalk ops API", version)
	humaConfig.DocsPath = "/docs"
	humaConfig.OpenAPIPath = "/openapi"
	api := humachi.New(router, humaConfig)
	api.UseMiddleware(labelOperation)

	s := &Server{
		router:  router,
		api:     api,
		backend: backend,
	}
	s.registerRoutes()
	return s
}

// Handler returns the root handler with the middleware chain applied:
// metricsMiddleware -> commonHeaders -> router.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.router
	handler = commonHeaders(handler)
	handler = metricsMiddleware(handler)
	return handler
}

// ListenAndServe starts the HTTP server on the given address.
// The returned http.Server is stored so it can be shut down gracefully.
func (s *Server) ListenAndServe(addr string) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = hs
	s.mu.Unlock()
	slog.Info("ops listener started", "addr", addr)
	return hs.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// requests to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	hs := s.httpServer
	s.mu.Unlock()
	if hs == nil {
		return nil
	}
	return hs.Shutdown(ctx)
}

// checkBackend runs the backend health probe with a bounded timeout.
func (s *Server) checkBackend(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	return s.backend.HealthCheck(ctx)
}

// registerRoutes configures all routes on the Chi router.
func (s *Server) registerRoutes() {
	// Register /health via Huma for auto-OpenAPI documentation.
	huma.Register(s.api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Reports whether the configured storage backend is reachable.",
		Tags:        []string{"System"},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		if err := s.checkBackend(ctx); err != nil {
			slog.Warn("health check failed", "error", err)
			return nil, huma.Error503ServiceUnavailable("storage backend unavailable", err)
		}
		return &HealthOutput{Body: HealthBody{Status: "ok", Region: s.backend.Region()}}, nil
	})

	// Register HEAD /health separately (Huma only does one method per registration).
	s.router.Method(http.MethodHead, "/health", labelRoute("head-health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := s.checkBackend(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})))

	// Register /metrics via promhttp.Handler().
	s.router.Handle("/metrics", promhttp.Handler())
}
