package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/keyfort/backend/pkg/logger"
)

// RequestLogger assigns each request an ID and logs the request outcome.
// Handlers pick the ID up from locals for audit correlation.
func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		requestID := c.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Locals("requestid", requestID)
		c.Set("X-Request-ID", requestID)

		err := c.Next()

		logger.Info("http_request", map[string]interface{}{
			"method":      c.Method(),
			"path":        c.Path(),
			"status":      c.Response().StatusCode(),
			"duration_ms": time.Since(start).Milliseconds(),
			"ip":          c.IP(),
			"request_id":  requestID,
		})
		return err
	}
}
