package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/capvault/internal/config"
	"github.com/congo-pay/capvault/internal/evm"
	"github.com/congo-pay/capvault/internal/routes"
)

// Server wraps the Fiber application and shared dependencies.
type Server struct {
	app *fiber.App
	cfg config.Config
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
// Swap deadlines can exceed the default timeouts, so the write timeout follows
// the configured deadline.
func New(ctx context.Context, cfg config.Config, db *pgxpool.Pool, cache *redis.Client, chain *evm.Transactor, logger *slog.Logger) (*Server, error) {
	writeTimeout := 30 * time.Second
	if d := cfg.Vault.SwapDeadline + 15*time.Second; d > writeTimeout {
		writeTimeout = d
	}
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: writeTimeout,
	})

	if err := routes.Setup(ctx, app, routes.Deps{Cfg: cfg, DB: db, Cache: cache, Chain: chain, Logger: logger}); err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg}, nil
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
