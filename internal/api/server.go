// Package api serves the admin REST API: job inspection and control,
// on-demand group runs, health and Prometheus metrics.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xtxerr/invsync/internal/errors"
	"github.com/xtxerr/invsync/internal/group"
	"github.com/xtxerr/invsync/internal/jobs"
	"github.com/xtxerr/invsync/internal/logging"
	"github.com/xtxerr/invsync/internal/metrics"
)

var log = logging.Component("api")

// shutdownTimeout bounds graceful shutdown of in-flight requests.
const shutdownTimeout = 5 * time.Second

// Catalog resolves configured groups and data sources.
type Catalog interface {
	Group(name string) (*group.Group, error)
	DataSource(id string) (*group.DataSource, error)
}

// Config configures the API server.
type Config struct {
	Listen  string
	Engine  *jobs.Engine
	Catalog Catalog
}

// Server is the admin API server.
type Server struct {
	echo   *echo.Echo
	listen string
}

// New builds the server and its routes.
func New(cfg Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.HTTPErrorHandler = func(err error, c echo.Context) {
		e.DefaultHTTPErrorHandler(err, c)
		log.Debug("request failed", "method", c.Request().Method, "path", c.Path(), "error", err)
	}

	e.Use(middleware.Recover())

	// logging for server-side latency.
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			begin := time.Now()
			err := next(c)
			log.Debug("request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", c.Response().Status,
				"duration", time.Since(begin),
			)
			return err
		}
	})

	e.GET("/healthz", HealthHandler(cfg.Engine))
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	e.GET("/jobs", ListJobsHandler(cfg.Engine))
	e.GET("/jobs/stats", JobStatsHandler(cfg.Engine))
	e.GET("/jobs/:id", GetJobHandler(cfg.Engine))
	e.DELETE("/jobs/:id", KillJobHandler(cfg.Engine))
	e.POST("/jobs/:id/pause", PauseJobHandler(cfg.Engine))
	e.POST("/jobs/:id/resume", ResumeJobHandler(cfg.Engine))

	e.POST("/groups/:name/run", RunGroupHandler(cfg.Engine, cfg.Catalog))
	e.POST("/sync", AdHocSyncHandler(cfg.Engine, cfg.Catalog))

	return &Server{echo: e, listen: cfg.Listen}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("admin API listening", "address", s.listen)
		errCh <- s.echo.Start(s.listen)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
