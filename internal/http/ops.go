package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/realestate-escrow/backend/internal/metrics"
)

// SetupOpsRoutes mounts /health and /metrics. The background binaries serve
// only these.
func SetupOpsRoutes(app *fiber.App, m *metrics.Metrics) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
}
