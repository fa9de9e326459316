package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aescanero/fulfillment/internal/application/workers"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server represents the HTTP API server
type Server struct {
	router       *gin.Engine
	server       *http.Server
	orchestrator FulfillmentService
	analytics    AnalyticsService
	health       *workers.HealthMonitor
	logger       *zap.Logger
}

// Config holds HTTP server configuration
type Config struct {
	Port         int
	Orchestrator FulfillmentService
	Analytics    AnalyticsService
	// Metrics serves /metrics; the default Prometheus registry when nil.
	Metrics http.Handler
	// Health reports worker pool health on /health when set.
	Health *workers.HealthMonitor
	Logger *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(requestLogger(cfg.Logger))
	router.Use(corsMiddleware())

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}

	s := &Server{
		router:       router,
		orchestrator: cfg.Orchestrator,
		analytics:    cfg.Analytics,
		health:       cfg.Health,
		logger:       cfg.Logger,
	}

	s.setupRoutes(metrics)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes(metrics http.Handler) {
	// Health check
	s.router.GET("/health", s.handleHealth)

	// Metrics
	s.router.GET("/metrics", gin.WrapH(metrics))

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		// Fulfillment endpoints
		v1.POST("/fulfillments", s.handleInitiate)
		v1.GET("/fulfillments", s.handleList)
		v1.GET("/fulfillments/:id", s.handleGet)
		v1.GET("/fulfillments/:id/status", s.handleGetStatus)
		v1.POST("/fulfillments/:id/cancel", s.handleCancel)

		// Step endpoints
		v1.POST("/fulfillments/:id/steps/:stepId/execute", s.handleExecuteStep)
		v1.POST("/fulfillments/:id/steps/:stepId/approve", s.handleApproveStep)
		v1.POST("/fulfillments/:id/steps/:stepId/retry", s.handleRetryStep)

		v1.GET("/templates", s.handleListTemplates)
		v1.GET("/analytics", s.handleAnalytics)
	}
}

// SetupWebSocket adds the live event stream to the server
func (s *Server) SetupWebSocket(handler gin.HandlerFunc) {
	s.router.GET("/api/v1/fulfillments/:id/ws", handler)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}
