package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/capvault/internal/auth"
	"github.com/congo-pay/capvault/internal/config"
	"github.com/congo-pay/capvault/internal/depositor"
	"github.com/congo-pay/capvault/internal/evm"
	"github.com/congo-pay/capvault/internal/middleware"
	"github.com/congo-pay/capvault/internal/vault"
)

// Deps aggregates shared dependencies required to wire routes. DB, Cache and
// Chain are optional in development.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Chain  *evm.Transactor
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(ctx context.Context, app *fiber.App, d Deps) error {
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	var depositorRepo depositor.Repository
	if d.DB != nil {
		depositorRepo = depositor.NewPostgresRepository(d.DB)
	} else {
		depositorRepo = depositor.NewMemoryRepository()
	}
	depositorSvc := depositor.NewService(depositorRepo)
	authSvc := auth.NewService(d.Cfg, depositorRepo)

	v, sim, err := buildVault(ctx, app, d)
	if err != nil {
		return err
	}

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	requireAuth := middleware.JWTAuth(authSvc, d.Logger)
	vaultHandler := vault.NewHandler(v)

	// Public routes
	RegisterDepositorRoutes(api, depositor.NewHandler(depositorSvc, d.Logger))
	RegisterAuthRoutes(api, auth.NewHandler(depositorSvc, authSvc), middleware.LoginRateLimit(d.Cache, 5), requireAuth)
	RegisterVaultReadRoutes(api, vaultHandler)

	// Protected routes
	protected := api.Group("", requireAuth)
	if d.Cache != nil {
		protected.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	RegisterVaultRoutes(protected, vaultHandler)

	if sim != nil && d.Cfg.IsDev() {
		RegisterDevRoutes(protected, sim)
	}

	return nil
}
