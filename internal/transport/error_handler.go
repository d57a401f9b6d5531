package transport

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-relay/internal/observability"
	"go.uber.org/zap"
)

const HeaderCorrelationID = "X-Correlation-ID"

// ErrorHandler renders every error as {"error": "..."}. Server errors are
// logged at error level and their message is hidden from the client.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "internal server error"

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			code = fiberErr.Code
			message = fiberErr.Message
		}

		reqLogger := observability.WithContextLogger(logger, c.UserContext()).With(
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", code),
			zap.Error(err),
		)
		if code >= fiber.StatusInternalServerError {
			reqLogger.Error("request error")
		} else {
			reqLogger.Debug("request rejected")
		}

		return c.Status(code).JSON(fiber.Map{
			"error": message,
		})
	}
}

// CorrelationID takes the correlation id from X-Correlation-ID or
// X-Request-ID, generating one when both are absent, and stores it on the
// request's user context and response header.
func CorrelationID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := strings.TrimSpace(c.Get(HeaderCorrelationID))
		if id == "" {
			id = strings.TrimSpace(c.Get(fiber.HeaderXRequestID))
		}
		if id == "" {
			id = uuid.NewString()
		}

		c.SetUserContext(observability.WithCorrelationID(c.UserContext(), id))
		c.Set(HeaderCorrelationID, id)
		return c.Next()
	}
}
