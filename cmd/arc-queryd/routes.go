package main

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/basekick-labs/arc-query/internal/config"
	"github.com/basekick-labs/arc-query/internal/database"
	"github.com/basekick-labs/arc-query/internal/metrics"
	"github.com/basekick-labs/arc-query/internal/query"
	"github.com/basekick-labs/arc-query/internal/queryregistry"
	"github.com/basekick-labs/arc-query/internal/segstore"
	"github.com/basekick-labs/arc-query/internal/storage"
	"github.com/basekick-labs/arc-query/internal/wire"
)

// serverDeps bundles the collaborators every route handler needs.
type serverDeps struct {
	cfg            *config.Config
	db             *database.DuckDB
	storageBackend storage.Backend
	transformCache *database.SQLTransformCache
	tables         *query.TableRegistry
	executor       *query.Executor
	tracer         *queryregistry.Registry
	logger         zerolog.Logger
}

func registerRoutes(app *fiber.App, deps *serverDeps) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ready"})
	})

	app.Get("/v1/metrics", func(c *fiber.Ctx) error {
		c.Set("Content-Type", "text/plain; version=0.0.4")
		return c.SendString(metrics.Get().PrometheusFormat())
	})
	app.Get("/v1/metrics/json", func(c *fiber.Ctx) error {
		return c.JSON(metrics.Get().Snapshot())
	})

	app.Get("/v1/queries", func(c *fiber.Ctx) error {
		if deps.tracer == nil {
			return c.JSON(fiber.Map{"active": []any{}, "history": []any{}})
		}
		return c.JSON(fiber.Map{
			"active":  deps.tracer.GetActive(),
			"history": deps.tracer.GetHistory(0),
		})
	})

	app.Post("/v1/tables/:table/segments", deps.registerSegmentHandler)
	app.Post("/v1/query", deps.submitQueryHandler)
}

// segmentRegistrationRequest is the demo catalog's registration payload: in
// the full system a segment becomes resident through the ingest/compaction
// pipeline, which is out of scope here (spec §1), so arc-queryd exposes this
// endpoint to let a caller point it at already-written parquet files.
type segmentRegistrationRequest struct {
	SegmentID string `json:"segmentId"`
	Mutable   bool   `json:"mutable"`
	Columns   []struct {
		Name   string `json:"name"`
		Type   string `json:"type"`
		Sorted bool   `json:"sorted"`
	} `json:"columns"`
}

func (deps *serverDeps) registerSegmentHandler(c *fiber.Ctx) error {
	tableNameWithType := c.Params("table")
	var req segmentRegistrationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if req.SegmentID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "segmentId is required"})
	}

	columns := make([]segstore.ColumnDef, len(req.Columns))
	for i, col := range req.Columns {
		columns[i] = segstore.ColumnDef{
			Name:   col.Name,
			Type:   parseColumnDataType(col.Type),
			Sorted: col.Sorted,
		}
	}

	ctx, cancel := context.WithTimeout(c.Context(), 30*time.Second)
	defer cancel()

	seg, err := segstore.Open(ctx, deps.storageBackend, deps.db, deps.transformCache, tableNameWithType, req.SegmentID, columns, req.Mutable, deps.cfg.Storage.CacheDir, deps.logger)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	manager, ok := deps.tables.Lookup(tableNameWithType)
	if !ok {
		manager = query.NewTableDataManager(tableNameWithType)
		deps.tables.Register(manager)
	}
	manager.AddSegment(seg)

	return c.JSON(fiber.Map{"table": tableNameWithType, "segmentId": req.SegmentID, "totalDocs": seg.TotalDocs()})
}

func (deps *serverDeps) submitQueryHandler(c *fiber.Ctx) error {
	var req query.ServerQueryRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if req.RemoteAddr == "" {
		req.RemoteAddr = c.IP()
	}

	table, err := deps.executor.Submit(c.Context(), &req, time.Now().UnixMilli())
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	// A broker's fan-out client asks for the compact binary form; anyone
	// hitting this endpoint directly (debugging, a demo client) gets JSON.
	if c.Get("Accept") == "application/x-msgpack+gzip" {
		body, err := wire.EncodeDataTable(table)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		c.Set("Content-Type", "application/x-msgpack+gzip")
		return c.Send(body)
	}
	return c.JSON(table)
}
