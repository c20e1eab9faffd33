package main

import (
	"context"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuelReschke/LinkFox/app/controllers"
	"github.com/ManuelReschke/LinkFox/internal/pkg/bootstrap"
	"github.com/ManuelReschke/LinkFox/internal/pkg/cache"
	"github.com/ManuelReschke/LinkFox/internal/pkg/config"
	"github.com/ManuelReschke/LinkFox/internal/pkg/database"
	"github.com/ManuelReschke/LinkFox/internal/pkg/env"
	"github.com/ManuelReschke/LinkFox/internal/pkg/router"
	"github.com/ManuelReschke/LinkFox/internal/pkg/session"
)

func main() {
	app, cfg := NewApplication()
	log.Fatal(app.Listen(cfg.App.ListenAddr()))
}

func NewApplication() (*fiber.App, *config.Config) {
	env.SetupEnvFile()
	cfg := config.MustLoad()

	db, err := database.SetupDatabase(cfg.Database)
	if err != nil {
		panic(err)
	}
	cache.SetupCache(cfg.Cache)
	session.NewSessionStore(cfg.Cache, !cfg.App.IsDev())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc, err := bootstrap.NewBillingService(context.Background(), cfg, db, reg)
	if err != nil {
		panic(err)
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20,
	})

	app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	app.Use(recover.New(), logger.New(logger.Config{
		Format: "${time} ${locals:requestid} ${status} - ${latency} ${method} ${path}\n",
	}))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		sqlDB, err := db.DB()
		if err != nil || sqlDB.PingContext(c.UserContext()) != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "db_unavailable"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// metrics
	if cfg.Metrics.Password != "" {
		auth := basicauth.New(basicauth.Config{
			Users: map[string]string{
				cfg.Metrics.User: cfg.Metrics.Password,
			},
		})
		app.Get("/metrics", auth, adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
		app.Get("/monitor", auth, monitor.New())
	} else {
		log.Warnf("[Metrics] METRICS_PASSWORD not set, /metrics is disabled")
	}

	// SWAGGER / OPENAPI
	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: cfg.App.DocsPath,
		Path:     "v1",
	}))

	// ROUTER
	router.InstallRouter(app, controllers.NewBillingController(svc))

	return app, cfg
}
