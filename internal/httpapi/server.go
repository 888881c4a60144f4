// Package httpapi serves the admin API over the scheduler's host entry points.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"syncd/internal/job"
	"syncd/internal/task/automation"
	"syncd/internal/task/manager"
	logx "syncd/pkg/logx"
)

const defaultAddr = "127.0.0.1:8080"

// API is the subset of *manager.Manager the server exposes.
type API interface {
	JobStatus(ctx context.Context, limit int) ([]job.RunRecord, error)
	JobSchedules(ctx context.Context) ([]job.Schedule, error)
	QueueStatus() manager.QueueStatus
	RunManualJob(ctx context.Context, t job.Type, src job.Source) (job.QueueItem, error)
	AddManualJob(ctx context.Context, t job.Type, p job.Priority, src job.Source) (job.QueueItem, error)
	UpdateJobSchedule(ctx context.Context, id string, p job.SchedulePatch) (job.Schedule, error)
	ResetToDefaultSchedules(ctx context.Context) (int, error)
	CleanupDuplicateSchedules(ctx context.Context) (automation.CleanupReport, error)
	AutomationStatus(ctx context.Context) (automation.Status, error)
}

type Config struct {
	Addr string
	// Pprof mounts net/http/pprof under /debug/pprof. Keep Addr on loopback when set.
	Pprof bool
}

type Server struct {
	cfg Config
	e   *echo.Echo
	api API
	log logx.Logger
}

func New(cfg Config, api API, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	s := &Server{cfg: cfg, api: api, log: log.With(logx.String("comp", "http"))}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.errorHandler
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			s.log.Debug("http.request",
				logx.String("method", v.Method),
				logx.String("uri", v.URI),
				logx.Int("status", v.Status),
				logx.Duration("latency", v.Latency),
			)
			return nil
		},
	}))
	s.e = e
	s.routes()
	return s
}

func (s *Server) routes() {
	s.e.GET("/health", s.health)

	g := s.e.Group("/api")
	g.GET("/runs", s.listRuns)
	g.GET("/schedules", s.listSchedules)
	g.PATCH("/schedules/:id", s.updateSchedule)
	g.POST("/schedules/reset", s.resetSchedules)
	g.POST("/schedules/cleanup", s.cleanupSchedules)
	g.GET("/queue", s.queueStatus)
	g.POST("/jobs/:type/run", s.runJob)
	g.POST("/jobs/:type/enqueue", s.enqueueJob)
	g.GET("/automation", s.automationStatus)

	if s.cfg.Pprof {
		mountPprof(s.e)
	}
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.e }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http listening", logx.String("addr", s.cfg.Addr))
		errCh <- s.e.Start(s.cfg.Addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.e.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("http shutdown", logx.Err(err))
		return err
	}
	s.log.Info("http stopped")
	return nil
}
