package main

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/basekick-labs/arc-query/internal/broker"
)

// newBrokerQueryHandler wires the fan-out client to the reducer: every
// request is sent to every configured server unmodified (segment-to-server
// assignment is an external collaborator's job, out of scope here), and
// whatever subset of servers answer in time gets reduced into one response.
func newBrokerQueryHandler(fanout *fanoutClient, reducer *broker.Reducer, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req brokerQueryRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		if req.TableNameWithType == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "tableNameWithType is required"})
		}
		if req.Query == nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "query is required"})
		}
		req.Query.TableNameWithType = req.TableNameWithType

		serverTables, failed := fanout.Fanout(c.Context(), &req)
		if len(failed) > 0 {
			logger.Warn().Strs("failed_servers", failed).Str("table", req.TableNameWithType).Msg("partial server fan-out")
		}

		resp := reducer.Reduce(serverTables, req.Query)
		resp.ServersQueried = len(fanout.serverAddrs)
		resp.ServersResponded = len(serverTables)
		return c.JSON(resp)
	}
}
