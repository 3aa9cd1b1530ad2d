// Package httpapi serves read-only views over the persisted pipeline state:
// current project state, phase progress, checkpoint inventory, and Prometheus
// metrics. It never mutates anything; the orchestrator owns all writes.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coco/internal/checkpoint"
	"github.com/fyrsmithlabs/coco/internal/config"
	"github.com/fyrsmithlabs/coco/internal/logging"
	"github.com/fyrsmithlabs/coco/internal/orchestrator"
	"github.com/fyrsmithlabs/coco/internal/state"
)

// Server exposes the status API.
type Server struct {
	echo        *echo.Echo
	store       *state.Store
	checkpoints *checkpoint.Manager
	logger      *logging.Logger
	cfg         config.ServerConfig
}

// NewServer wires routes and middleware. store is required; checkpoints may
// be nil, which turns the checkpoint listing into an empty result.
func NewServer(store *state.Store, checkpoints *checkpoint.Manager, cfg config.ServerConfig, logger *logging.Logger) (*Server, error) {
	if store == nil {
		return nil, errors.New("state store is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("httpapi")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger(logger))
	e.Use(NewHTTPMetrics(logger).Middleware())

	s := &Server{
		echo:        e,
		store:       store,
		checkpoints: checkpoints,
		logger:      logger,
		cfg:         cfg,
	}
	s.registerRoutes()
	return s, nil
}

func requestLogger(logger *logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/state", s.handleState)
	v1.GET("/progress", s.handleProgress)
	v1.GET("/checkpoints", s.handleCheckpoints)
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleState(c echo.Context) error {
	st, err := s.loadState(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleProgress(c echo.Context) error {
	st, err := s.loadState(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, orchestrator.ProjectProgress(st))
}

// CheckpointsResponse is the body of GET /api/v1/checkpoints.
type CheckpointsResponse struct {
	Checkpoints []checkpoint.Entry `json:"checkpoints"`
}

func (s *Server) handleCheckpoints(c echo.Context) error {
	var phase state.Phase
	if raw := c.QueryParam("phase"); raw != "" {
		parsed, err := state.ParsePhase(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		phase = parsed
	}

	entries := []checkpoint.Entry{}
	if s.checkpoints != nil {
		list, err := s.checkpoints.List(c.Request().Context(), phase)
		if err != nil {
			s.logger.Error(c.Request().Context(), "listing checkpoints failed", zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "listing checkpoints failed")
		}
		entries = append(entries, list...)
	}
	return c.JSON(http.StatusOK, CheckpointsResponse{Checkpoints: entries})
}

func (s *Server) loadState(c echo.Context) (*state.ProjectState, error) {
	st, err := s.store.Load()
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil, echo.NewHTTPError(http.StatusNotFound, "no project state; run coco init first")
		}
		s.logger.Error(c.Request().Context(), "loading state failed", zap.Error(err))
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "loading state failed")
	}
	return st, nil
}

// Handler returns the underlying handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.logger.Info(context.Background(), "status server listening", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "status server shutting down")
	return s.echo.Shutdown(ctx)
}
