package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"detox/pkg/api/middleware"
	"detox/pkg/auth"
	tracing "detox/pkg/observability"
	"detox/pkg/resilience"
	"detox/pkg/storage"
)

// NextRunner reports when the next scheduled run happens.
type NextRunner interface {
	Next() time.Time
}

// BreakerReporter exposes the circuit breakers guarding run sinks.
type BreakerReporter interface {
	Breakers() []resilience.Snapshot
}

// Server is the read-only status API of scheduled mode.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	log        *zap.Logger

	runs     storage.RunLister
	schedule NextRunner
	sinks    BreakerReporter
	started  time.Time
}

// Config holds API server configuration.
type Config struct {
	Port string
	Runs storage.RunLister
	// Secret enables bearer token auth on /api/v1 when set.
	Secret    string
	Schedule  NextRunner
	Sinks     BreakerReporter
	Tracer    *tracing.Provider
	RateLimit middleware.RateLimiterConfig
	Log       *zap.Logger
}

// NewServer creates a new API server with all dependencies.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Runs == nil {
		return nil, errors.New("run history is required")
	}
	gin.SetMode(gin.ReleaseMode)
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = tracing.Disabled()
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit = middleware.DefaultRateLimiterConfig()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.TracingMiddleware(cfg.Tracer))
	router.Use(middleware.MetricsMiddleware())

	s := &Server{
		router:   router,
		log:      cfg.Log.Named("api"),
		runs:     cfg.Runs,
		schedule: cfg.Schedule,
		sinks:    cfg.Sinks,
		started:  time.Now(),
	}
	router.Use(s.requestLogger())

	var guard []gin.HandlerFunc
	if cfg.Secret != "" {
		svc, err := auth.NewJWTService(auth.DefaultJWTConfig(cfg.Secret))
		if err != nil {
			return nil, fmt.Errorf("failed to set up auth: %w", err)
		}
		guard = append(guard, middleware.AuthMiddleware(svc, auth.ScopeReadRuns))
	}
	guard = append(guard, middleware.RateLimitMiddlewareWithConfig(cfg.RateLimit))

	s.registerRoutes(guard)

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.log.Info("Starting status server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down status server...")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes(guard []gin.HandlerFunc) {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1", guard...)
	{
		runs := v1.Group("/runs")
		{
			runs.GET("", s.listRuns)
			runs.GET("/last", s.lastRun)
		}
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(middleware.ContextRequestIDKey)),
		}
		if claims, ok := middleware.GetClaims(c); ok {
			fields = append(fields, zap.String("subject", claims.Subject))
		}
		s.log.Debug("Request", fields...)
	}
}

// healthCheck reports liveness, the next scheduled run and the last result.
func (s *Server) healthCheck(c *gin.Context) {
	body := gin.H{
		"status":    "healthy",
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"timestamp": time.Now().UTC(),
	}
	if s.schedule != nil {
		body["next_run"] = s.schedule.Next().UTC()
	}
	if s.sinks != nil {
		body["sinks"] = s.sinks.Breakers()
	}
	if s.runs != nil {
		if last, err := s.runs.Last(c.Request.Context()); err == nil {
			body["last_run"] = gin.H{
				"id":         last.ID,
				"overall":    last.Overall,
				"started_at": last.StartedAt,
			}
		}
	}
	c.JSON(http.StatusOK, body)
}
