package handlers

import (
	"github.com/gofiber/fiber/v2"
)

func getRequestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok {
		return id
	}
	return ""
}
