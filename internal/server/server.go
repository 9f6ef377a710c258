// Package server exposes the daemon's read-only HTTP surface.
package server

import (
	"context"
	stderrors "errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/GK-Developers/GK-Healter/internal/distro"
	"github.com/GK-Developers/GK-Healter/internal/health"
	"github.com/GK-Developers/GK-Healter/internal/history"
	"github.com/GK-Developers/GK-Healter/internal/metrics"
	"github.com/GK-Developers/GK-Healter/internal/scheduler"
)

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Path    string `json:"path"`
}

// StatusSource reports the scheduler state
type StatusSource interface {
	Status() scheduler.Status
}

// CleanupState reports whether a cleanup run is in progress
type CleanupState interface {
	Active() bool
}

// HistoryReader lists stored runs
type HistoryReader interface {
	ListCleanups(ctx context.Context, limit, offset int) ([]history.CleanupEntry, error)
	ListAudits(ctx context.Context, limit, offset int) ([]history.AuditEntry, error)
}

// HealthSource builds a fresh health report
type HealthSource interface {
	Report(ctx context.Context) *health.Report
}

// Options configure the HTTP surface. Nil sources leave their fields out.
type Options struct {
	Version   string
	BuildTime string
	Profile   distro.Profile
	Scheduler StatusSource
	Cleanup   CleanupState
	History   HistoryReader
	Health    HealthSource
	Gatherer  prometheus.Gatherer
	Metrics   metrics.Collector
	Logger    *zap.Logger
}

type server struct {
	opts    Options
	started time.Time
}

// New builds the fiber app with every route registered
func New(opts Options) *fiber.App {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.NewRegistry()
	}
	s := &server{opts: opts, started: time.Now()}
	log := opts.Logger

	app := fiber.New(fiber.Config{
		AppName:               "gk-healter",
		DisableStartupMessage: true,
		IdleTimeout:           60 * time.Second,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			message := "Internal Server Error"
			var fe *fiber.Error
			if stderrors.As(err, &fe) {
				status, message = fe.Code, fe.Message
			}

			logErr := log.Error
			if status < http.StatusInternalServerError {
				logErr = log.Warn
			}
			logErr("request failed",
				zap.Error(err),
				zap.String("path", c.Path()),
				zap.String("method", c.Method()),
				zap.Int("status", status))

			return c.Status(status).JSON(ErrorResponse{Status: status, Message: message, Path: c.Path()})
		},
	})

	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c *fiber.Ctx, e interface{}) {
			log.Error("panic recovered", zap.Any("error", e), zap.String("path", c.Path()))
		},
	}))
	app.Use(func(c *fiber.Ctx) error {
		err := c.Next()
		status := c.Response().StatusCode()
		var fe *fiber.Error
		if stderrors.As(err, &fe) {
			status = fe.Code
		}
		opts.Metrics.ObserveHTTPRequest(c.Method(), c.Route().Path, status)
		return err
	})

	app.Get("/healthz", s.health)
	app.Get("/version", s.version)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))

	api := app.Group("/api/v1")
	api.Get("/status", s.status)
	api.Get("/health", s.hostHealth)
	api.Get("/history/cleanups", s.cleanups)
	api.Get("/history/audits", s.audits)

	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Route not found")
	})
	return app
}

func (s *server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":     "ok",
		"uptime":     time.Since(s.started).Round(time.Second).String(),
		"goroutines": runtime.NumGoroutine(),
	})
}

func (s *server) version(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"version":    s.opts.Version,
		"build_time": s.opts.BuildTime,
		"go_version": runtime.Version(),
	})
}

func (s *server) status(c *fiber.Ctx) error {
	body := fiber.Map{"profile": s.opts.Profile}
	if s.opts.Scheduler != nil {
		body["scheduler"] = s.opts.Scheduler.Status()
	}
	if s.opts.Cleanup != nil {
		body["cleanup_active"] = s.opts.Cleanup.Active()
	}
	return c.JSON(body)
}

func (s *server) hostHealth(c *fiber.Ctx) error {
	if s.opts.Health == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "health reporting is disabled")
	}
	return c.JSON(s.opts.Health.Report(c.UserContext()))
}

func (s *server) cleanups(c *fiber.Ctx) error {
	if s.opts.History == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "history is disabled")
	}
	limit, offset, err := page(c)
	if err != nil {
		return err
	}
	entries, err := s.opts.History.ListCleanups(c.UserContext(), limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(entries)
}

func (s *server) audits(c *fiber.Ctx) error {
	if s.opts.History == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "history is disabled")
	}
	limit, offset, err := page(c)
	if err != nil {
		return err
	}
	entries, err := s.opts.History.ListAudits(c.UserContext(), limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(entries)
}

func page(c *fiber.Ctx) (int, int, error) {
	limit, err := strconv.Atoi(c.Query("limit", strconv.Itoa(defaultPageSize)))
	if err != nil || limit <= 0 || limit > maxPageSize {
		return 0, 0, fiber.NewError(fiber.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxPageSize))
	}
	offset, err := strconv.Atoi(c.Query("offset", "0"))
	if err != nil || offset < 0 {
		return 0, 0, fiber.NewError(fiber.StatusBadRequest, "offset must not be negative")
	}
	return limit, offset, nil
}
