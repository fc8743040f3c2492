package middleware

import (
	"log/slog"
	"time"

	"criabot-gateway/internal/apperr"

	"github.com/gofiber/fiber/v2"
)

// ErrorHandler is the centralized Fiber error handler mapping AppErrors and
// raw Fiber errors to a consistent JSON envelope.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		requestID := c.Get("X-Request-ID")
		if requestID == "" {
			if v, ok := c.Locals("requestID").(string); ok {
				requestID = v
			}
		}

		slog.Error("request failed",
			"error", err,
			"method", c.Method(),
			"path", c.Path(),
			"request_id", requestID,
		)

		if appErr, ok := apperr.IsAppError(err); ok {
			return c.Status(appErr.StatusCode()).JSON(apperr.Response{
				Error:     string(appErr.Code),
				Message:   appErr.Message,
				Code:      appErr.StatusCode(),
				Timestamp: appErr.Timestamp,
				RequestID: requestID,
			})
		}

		if fiberErr, ok := err.(*fiber.Error); ok {
			code := apperr.ErrInternalServer
			switch fiberErr.Code {
			case fiber.StatusBadRequest:
				code = apperr.ErrBadRequest
			case fiber.StatusNotFound:
				code = apperr.ErrChatNotFound
			case fiber.StatusServiceUnavailable:
				code = apperr.ErrServiceUnavailable
			}

			return c.Status(fiberErr.Code).JSON(apperr.Response{
				Error:     string(code),
				Message:   fiberErr.Message,
				Code:      fiberErr.Code,
				Timestamp: time.Now(),
				RequestID: requestID,
			})
		}

		return c.Status(fiber.StatusInternalServerError).JSON(apperr.Response{
			Error:     string(apperr.ErrInternalServer),
			Message:   "An unexpected error occurred",
			Code:      fiber.StatusInternalServerError,
			Timestamp: time.Now(),
			RequestID: requestID,
		})
	}
}
