package middleware

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/realestate-escrow/backend/internal/metrics"
	"go.uber.org/zap"
)

// LoggerMiddleware logs every request and feeds the HTTP metrics. Routes are
// labelled by their pattern so that token IDs do not blow up cardinality.
func LoggerMiddleware(log *zap.Logger, m *metrics.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}
		latency := time.Since(start)

		fields := []zap.Field{
			zap.String("request_id", GetRequestID(c)),
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("latency", latency),
			zap.String("ip", c.IP()),
		}
		if actor := GetActor(c); actor != (common.Address{}) {
			fields = append(fields, zap.String("wallet", actor.Hex()))
		}
		log.Info("request", fields...)

		m.ObserveHTTP(c.Method(), c.Route().Path, status, latency)
		return err
	}
}
