package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog/log"

	"github.com/basekick-labs/arc-query/internal/config"
	"github.com/basekick-labs/arc-query/internal/database"
	"github.com/basekick-labs/arc-query/internal/logger"
	"github.com/basekick-labs/arc-query/internal/metrics"
	"github.com/basekick-labs/arc-query/internal/query"
	"github.com/basekick-labs/arc-query/internal/queryregistry"
	"github.com/basekick-labs/arc-query/internal/shutdown"
	"github.com/basekick-labs/arc-query/internal/storage"
)

// Version is set at build time.
var Version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Server.ValidateTLS(); err != nil {
		fmt.Fprintf(os.Stderr, "TLS configuration error: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("version", Version).Msg("Starting arc-queryd...")

	metrics.Init(logger.Get("metrics"))
	metrics.GetTimeSeriesCollector()

	shutdownCoordinator := shutdown.New(30*time.Second, logger.Get("shutdown"))

	db, err := database.New(&database.Config{
		MaxConnections: cfg.Database.MaxConnections,
		MemoryLimit:    cfg.Database.MemoryLimit,
		ThreadCount:    cfg.Database.ThreadCount,
	}, logger.Get("database"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize DuckDB")
	}
	shutdownCoordinator.Register("database", db, shutdown.PriorityDatabase)

	storageBackend, err := newStorageBackend(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage backend")
	}
	shutdownCoordinator.Register("storage", storageBackend, shutdown.PriorityStorage)

	transformCache := database.NewSQLTransformCache(5*time.Minute, 4096)

	tables := query.NewTableRegistry()
	pool := query.NewWorkerPool(cfg.Query.WorkerPoolSize)
	pruner := query.NewCompositePruner(query.ValidDocIdsPruner{}, query.RangeFilterPruner{})
	planMaker := query.PlanMakerConfig{
		MaxInitialResultHolderCapacity: cfg.PlanMaker.MaxInitialResultHolderCapacity,
		NumGroupsLimit:                 cfg.PlanMaker.NumGroupsLimit,
	}

	var tracer *queryregistry.Registry
	if cfg.Query.TraceEnabled {
		tracer = queryregistry.NewRegistry(&queryregistry.RegistryConfig{
			HistorySize: cfg.Query.TraceHistorySize,
		}, logger.Get("query-registry"))
	}

	executor := query.NewExecutor(tables, pool, planMaker, pruner, cfg.Query.DefaultTimeoutMs, tracer, metrics.Get(), logger.Get("executor"))

	app := fiber.New(fiber.Config{
		AppName:               "arc-queryd",
		ReadTimeout:           time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:          time.Duration(cfg.Server.WriteTimeout) * time.Second,
		DisableStartupMessage: true,
	})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(cors.New(cors.Config{AllowOrigins: "*"}))

	registerRoutes(app, &serverDeps{
		cfg:            cfg,
		db:             db,
		storageBackend: storageBackend,
		transformCache: transformCache,
		tables:         tables,
		executor:       executor,
		tracer:         tracer,
		logger:         logger.Get("http"),
	})

	shutdownCoordinator.RegisterHook("http-server", func(ctx context.Context) error {
		return app.ShutdownWithContext(ctx)
	}, shutdown.PriorityHTTPServer)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		if err := app.Listen(addr); err != nil {
			log.Error().Err(err).Msg("HTTP server stopped")
		}
	}()
	log.Info().Str("addr", addr).Int("worker_pool_size", cfg.Query.WorkerPoolSize).Msg("arc-queryd listening")

	shutdownCoordinator.WaitForSignal()
	if err := shutdownCoordinator.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown reported errors")
	}
}

func newStorageBackend(cfg *config.Config) (storage.Backend, error) {
	var backend storage.Backend
	var err error

	switch cfg.Storage.Backend {
	case "local", "":
		backend, err = storage.NewLocalBackend(cfg.Storage.LocalPath, logger.Get("storage"))
	case "s3", "minio":
		backend, err = storage.NewS3Backend(&storage.S3Config{
			Bucket:    cfg.Storage.S3Bucket,
			Region:    cfg.Storage.S3Region,
			Endpoint:  cfg.Storage.S3Endpoint,
			AccessKey: cfg.Storage.S3AccessKey,
			SecretKey: cfg.Storage.S3SecretKey,
			UseSSL:    cfg.Storage.S3UseSSL,
			PathStyle: cfg.Storage.S3PathStyle,
		}, logger.Get("storage"))
	case "azure", "azblob":
		backend, err = storage.NewAzureBlobBackend(&storage.AzureBlobConfig{
			ConnectionString:   cfg.Storage.AzureConnectionString,
			AccountName:        cfg.Storage.AzureAccountName,
			AccountKey:         cfg.Storage.AzureAccountKey,
			SASToken:           cfg.Storage.AzureSASToken,
			ContainerName:      cfg.Storage.AzureContainer,
			UseManagedIdentity: cfg.Storage.AzureUseManagedIdentity,
		}, logger.Get("storage"))
	default:
		return nil, fmt.Errorf("unsupported storage backend %q (use local, s3, minio, azure, or azblob)", cfg.Storage.Backend)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Storage.CircuitBreakerEnabled {
		backend = storage.NewResilientBackend(backend, storage.DefaultResilientConfig(), logger.Get("storage"))
	}
	return backend, nil
}

func parseColumnDataType(s string) query.ColumnDataType {
	switch strings.ToUpper(s) {
	case "INT":
		return query.ColumnInt
	case "LONG":
		return query.ColumnLong
	case "FLOAT":
		return query.ColumnFloat
	case "DOUBLE":
		return query.ColumnDouble
	case "BYTES":
		return query.ColumnBytes
	case "OBJECT":
		return query.ColumnObject
	default:
		return query.ColumnString
	}
}
