package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog/log"

	"github.com/basekick-labs/arc-query/internal/broker"
	"github.com/basekick-labs/arc-query/internal/config"
	"github.com/basekick-labs/arc-query/internal/logger"
	"github.com/basekick-labs/arc-query/internal/metrics"
	"github.com/basekick-labs/arc-query/internal/query"
	"github.com/basekick-labs/arc-query/internal/shutdown"
)

// Version is set at build time.
var Version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("version", Version).Msg("Starting arc-brokerd...")

	metrics.Init(logger.Get("metrics"))

	shutdownCoordinator := shutdown.New(30*time.Second, logger.Get("shutdown"))

	fanout := newFanoutClient(cfg, logger.Get("fanout"))
	reducer := broker.NewReducerWithConfig(query.PlanMakerConfig{
		MaxInitialResultHolderCapacity: cfg.PlanMaker.MaxInitialResultHolderCapacity,
		NumGroupsLimit:                 cfg.PlanMaker.NumGroupsLimit,
	})

	app := fiber.New(fiber.Config{
		AppName:               "arc-brokerd",
		WriteTimeout:          time.Duration(cfg.Broker.RequestTimeoutMs) * time.Millisecond,
		DisableStartupMessage: true,
	})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(cors.New(cors.Config{AllowOrigins: "*"}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/v1/metrics", func(c *fiber.Ctx) error {
		c.Set("Content-Type", "text/plain; version=0.0.4")
		return c.SendString(metrics.Get().PrometheusFormat())
	})
	app.Post("/v1/broker/query", newBrokerQueryHandler(fanout, reducer, logger.Get("broker")))

	shutdownCoordinator.RegisterHook("http-server", func(ctx context.Context) error {
		return app.ShutdownWithContext(ctx)
	}, shutdown.PriorityHTTPServer)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		if err := app.Listen(addr); err != nil {
			log.Error().Err(err).Msg("HTTP server stopped")
		}
	}()
	log.Info().Str("addr", addr).Strs("servers", cfg.Broker.ServerAddrs).Msg("arc-brokerd listening")

	shutdownCoordinator.WaitForSignal()
	if err := shutdownCoordinator.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown reported errors")
	}
}
