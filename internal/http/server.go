// Package http provides the fixd HTTP API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/fixd/internal/engine"
	"github.com/fyrsmithlabs/fixd/internal/logging"
)

// Server exposes fix sessions over HTTP.
type Server struct {
	echo    *echo.Echo
	engine  engine.Service
	logger  *zap.Logger
	config  *Config
	limiter *clientLimiter
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// SessionRateLimit is the per-client sessions-per-minute budget for
	// session creation. Zero disables limiting.
	SessionRateLimit int
}

// NewServer creates the API server.
func NewServer(eng engine.Service, logger *zap.Logger, cfg *Config) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8790,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			// Thread the request ID through the context so every downstream
			// log line (engine included) carries the correlation field.
			req := c.Request()
			ctx := logging.WithRequestID(req.Context(), c.Response().Header().Get(echo.HeaderXRequestID))
			c.SetRequest(req.WithContext(ctx))

			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				append(logging.ContextFields(ctx),
					zap.String("method", c.Request().Method),
					zap.String("uri", c.Request().RequestURI),
					zap.Int("status", c.Response().Status),
					zap.Duration("duration", duration),
				)...,
			)

			return err
		}
	})
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())

	s := &Server{
		echo:    e,
		engine:  eng,
		logger:  logger,
		config:  cfg,
		limiter: newClientLimiter(cfg.SessionRateLimit),
	}

	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/sessions", s.handleCreateSession)
	v1.GET("/sessions", s.handleListSessions)
	v1.GET("/sessions/:id", s.handleGetSession)
	v1.POST("/sessions/:id/cancel", s.handleCancelSession)
	v1.POST("/sessions/:id/regenerate", s.handleRegenerateSession)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleCreateSession(c echo.Context) error {
	if !s.limiter.Allow(c.RealIP()) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "session creation rate limit exceeded")
	}

	var req engine.FixRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid session request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	sess, err := s.engine.CreateSession(c.Request().Context(), &req)
	if err != nil {
		if errors.Is(err, engine.ErrQueueFull) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "engine queue is full, retry later")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return c.JSON(http.StatusAccepted, sess)
}

func (s *Server) handleListSessions(c echo.Context) error {
	sessions, err := s.engine.ListSessions(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list sessions")
	}
	return c.JSON(http.StatusOK, sessions)
}

func (s *Server) handleGetSession(c echo.Context) error {
	sess, err := s.engine.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, engine.ErrSessionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load session")
	}
	return c.JSON(http.StatusOK, sess)
}

func (s *Server) handleCancelSession(c echo.Context) error {
	err := s.engine.Cancel(c.Request().Context(), c.Param("id"))
	switch {
	case err == nil:
		return c.NoContent(http.StatusAccepted)
	case errors.Is(err, engine.ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	case errors.Is(err, engine.ErrTerminalSession):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to cancel session")
	}
}

func (s *Server) handleRegenerateSession(c echo.Context) error {
	sess, err := s.engine.Regenerate(c.Request().Context(), c.Param("id"))
	switch {
	case err == nil:
		return c.JSON(http.StatusAccepted, sess)
	case errors.Is(err, engine.ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	case errors.Is(err, engine.ErrTerminalSession), errors.Is(err, engine.ErrRegenerationLimit):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrQueueFull):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "engine queue is full, retry later")
	default:
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
}

// Handler exposes the underlying mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
