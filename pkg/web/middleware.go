package web

import (
	"log/slog"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

type localsKey string

const loggerLocal localsKey = "logger"

// RequestLogger tags every request with an id, echoed in X-Request-ID, and
// stores a logger carrying it for the handlers.
func RequestLogger(logger *slog.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		requestID := c.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		c.Set(requestIDHeader, requestID)
		c.Locals(loggerLocal, logger.With("request_id", requestID))

		return c.Next()
	}
}

func requestLogger(c fiber.Ctx, fallback *slog.Logger) *slog.Logger {
	if logger, ok := c.Locals(loggerLocal).(*slog.Logger); ok {
		return logger
	}

	return fallback
}
