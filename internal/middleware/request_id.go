package middleware

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// RequestID propagates or mints an X-Request-ID, stashing it in Locals
// under the same "requestID" key ErrorHandler reads back out so every log
// line and error response for a request carries the same ID.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get("X-Request-ID")

		if requestID == "" {
			requestID = uuid.New().String()
			slog.Debug("minted request id", "request_id", requestID, "path", c.Path())
		}

		c.Locals("requestID", requestID)
		c.Set("X-Request-ID", requestID)

		return c.Next()
	}
}
