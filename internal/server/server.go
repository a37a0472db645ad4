package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/paysure/paysure/internal/config"
	"github.com/paysure/paysure/internal/httpx"
	"github.com/paysure/paysure/internal/routes"
	"github.com/paysure/paysure/internal/salary"
)

// Server wraps the Fiber application, the payout scheduler and shared
// dependencies.
type Server struct {
	app       *fiber.App
	cfg       config.Config
	scheduler *salary.Scheduler
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: httpx.ErrorHandler(logger),
	})

	scheduler, err := routes.Setup(app, routes.Deps{Cfg: cfg, DB: db, Cache: cache, Logger: logger})
	if err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg, scheduler: scheduler}, nil
}

// Listen starts the payout scheduler, when enabled, and the HTTP server.
func (s *Server) Listen(ctx context.Context) error {
	if s.cfg.SchedulerEnabled {
		s.scheduler.Start(ctx)
	}
	return s.app.Listen(s.cfg.Address())
}

// Shutdown stops accepting requests, then waits for an in-flight scheduler
// tick to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)
	s.scheduler.Stop()
	return err
}
