package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/clinical-pipeline-server/internal/audit"
	"github.com/clinical-pipeline-server/internal/cache"
	"github.com/clinical-pipeline-server/internal/domain"
	"github.com/clinical-pipeline-server/internal/service"
)

// Server represents the HTTP server
type Server struct {
	config    domain.ServerConfig
	pipeline  *service.PipelineService
	documents *service.DocumentService
	runs      *cache.RunCache
	auditLog  *audit.SQLiteStore
	stream    *StreamHub
	router    *gin.Engine
	server    *http.Server
	logger    *logrus.Logger
}

// NewServer creates a new HTTP server instance. runs, auditLog and stream may
// be nil when the corresponding subsystem is disabled.
func NewServer(
	cfg domain.Config,
	pipeline *service.PipelineService,
	documents *service.DocumentService,
	runs *cache.RunCache,
	auditLog *audit.SQLiteStore,
	stream *StreamHub,
	logger *logrus.Logger,
) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestIDMiddleware())

	server := &Server{
		config:    cfg.Server,
		pipeline:  pipeline,
		documents: documents,
		runs:      runs,
		auditLog:  auditLog,
		stream:    stream,
		router:    router,
		logger:    logger,
	}

	server.setupRoutes()

	return server
}

// Start starts the HTTP server and blocks until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/pipeline/run", s.handleRunPipeline)
		v1.POST("/documents/prior-auth", s.handlePriorAuthorization)
		v1.POST("/documents/referral", s.handleSpecialistReferral)
		v1.GET("/runs/:id", s.handleGetRun)
		v1.GET("/runs/degraded", s.handleListDegraded)
		if s.stream != nil {
			v1.GET("/pipeline/stream", s.handleStreamRun)
			v1.GET("/pipeline/events", s.stream.HandleConnection)
		}
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"version":   "1.0.0",
	})
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Request-ID")
		c.Header("Access-Control-Expose-Headers", "Content-Length")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestIDMiddleware adds a unique request ID to each request
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}
