// Package server hosts graph nodes over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mnemic/groqnode/internal/version"
	"github.com/mnemic/groqnode/pkg/plugin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ReadinessChecker verifies that the server is ready to serve traffic.
// Returns nil if ready, an error describing why not otherwise.
type ReadinessChecker func(ctx context.Context) error

// RouteRegistrar lets other packages add routes without importing server
// internals (consumer-side interface).
type RouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux)
}

// Server is the groqnode HTTP server.
type Server struct {
	httpServer *http.Server
	nodes      []plugin.Plugin
	logger     *zap.Logger
	mux        *http.ServeMux
	ready      ReadinessChecker
	metered    func(http.HandlerFunc) http.HandlerFunc
}

// New creates a Server with middleware and routes. Nodes implementing
// plugin.HTTPProvider are mounted under /api/v1/{name}.
func New(cfg Config, nodes []plugin.Plugin, logger *zap.Logger, ready ReadinessChecker, extraRoutes ...RouteRegistrar) *Server {
	mux := http.NewServeMux()

	s := &Server{
		nodes:   nodes,
		logger:  logger,
		mux:     mux,
		ready:   ready,
		metered: UpstreamLimit(cfg.UpstreamRateLimitRPS, cfg.UpstreamRateLimitBurst),
	}

	s.registerRoutes()
	for _, r := range extraRoutes {
		r.RegisterRoutes(mux)
	}
	s.mountNodeRoutes()

	opsPaths := []string{"/healthz", "/readyz", "/metrics"}

	// Middleware chain: outermost listed first.
	handler := Chain(mux,
		RecoveryMiddleware(logger),
		RequestIDMiddleware,
		LoggingMiddleware(logger, opsPaths),
		SecurityHeadersMiddleware,
		RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst, opsPaths),
	)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Completions with retries can run for minutes.
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) registerRoutes() {
	// Unversioned operational endpoints.
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /readyz", s.handleReadyz)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/nodes", s.handleNodes)
}

func (s *Server) mountNodeRoutes() {
	for _, n := range s.nodes {
		provider, ok := n.(plugin.HTTPProvider)
		if !ok {
			continue
		}
		name := n.Info().Name
		for _, route := range provider.Routes() {
			pattern := fmt.Sprintf("%s /api/v1/%s%s", route.Method, name, route.Path)
			handler := route.Handler
			if route.Metered {
				handler = s.metered(handler)
			}
			s.mux.HandleFunc(pattern, handler)
			s.logger.Debug("mounted route",
				zap.String("node", name),
				zap.String("pattern", pattern),
				zap.Bool("metered", route.Metered),
			)
		}
	}
}

// Start begins serving HTTP requests. It blocks until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// handleHealthz is a liveness probe.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// handleReadyz returns 503 while the readiness checker reports an error.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status  string                         `json:"status"`
	Service string                         `json:"service"`
	Version map[string]string              `json:"version"`
	Nodes   map[string]plugin.HealthStatus `json:"nodes,omitempty"`
}

// NodeResponse describes a hosted node.
type NodeResponse struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
}

// handleHealth aggregates node health. Overall status is "degraded" when any
// node is not healthy; the endpoint itself always answers 200.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Service: "groqnode",
		Version: version.Map(),
	}
	for _, n := range s.nodes {
		hc, ok := n.(plugin.HealthChecker)
		if !ok {
			continue
		}
		if resp.Nodes == nil {
			resp.Nodes = make(map[string]plugin.HealthStatus)
		}
		status := hc.Health(r.Context())
		resp.Nodes[n.Info().Name] = status
		if status.Status != "healthy" {
			resp.Status = "degraded"
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleNodes(w http.ResponseWriter, _ *http.Request) {
	info := make([]NodeResponse, 0, len(s.nodes))
	for _, n := range s.nodes {
		ni := n.Info()
		info = append(info, NodeResponse{
			Name:        ni.Name,
			Version:     ni.Version,
			Description: ni.Description,
			Category:    ni.Category,
		})
	}
	WriteJSON(w, http.StatusOK, info)
}
