// Package api exposes the operational HTTP surface described in spec §6
// "Operational controls": breaker force-open/force-close, dispatcher
// pause/resume, the tier-override map, and read-only metrics/health
// passthroughs. It mirrors the teacher's gin-based REST server shape.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/solmev/internal/breaker"
	"github.com/ajitpratap0/solmev/internal/dispatcher"
	"github.com/ajitpratap0/solmev/internal/metrics"
)

var startTime = time.Now()

// Server represents the operational REST API server.
type Server struct {
	router     *gin.Engine
	dispatcher *dispatcher.Dispatcher
	advisorBrk *breaker.Breaker
	hub        *metrics.Hub
	addr       string
	server     *http.Server
}

// Config contains server configuration and the collaborators it exposes
// control surfaces for.
type Config struct {
	Host       string
	Port       int
	Dispatcher *dispatcher.Dispatcher
	// AdvisorBreaker is the spec-exact breaker (component B) guarding the
	// AI advisor client; the force-open/close/clear endpoints act on it.
	AdvisorBreaker *breaker.Breaker
	Hub            *metrics.Hub
}

// NewServer creates a new API server.
func NewServer(config Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)

	server := &Server{
		router:     router,
		dispatcher: config.Dispatcher,
		advisorBrk: config.AdvisorBreaker,
		hub:        config.Hub,
		addr:       addr,
	}

	server.setupRoutes()

	return server
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting operational API server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("Stopping operational API server")

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
	}

	return nil
}

// LoggerMiddleware is a custom logging middleware for Gin.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		clientIP := c.ClientIP()
		method := c.Request.Method

		logEvent := log.Info().
			Str("method", method).
			Str("path", path).
			Str("query", query).
			Int("status", statusCode).
			Dur("latency", latency).
			Str("client_ip", clientIP)

		if len(c.Errors) > 0 {
			logEvent.Str("errors", c.Errors.String())
		}

		logEvent.Msg("API request")
	}
}
