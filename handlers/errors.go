package handlers

import (
	"errors"

	"community-rewards-system/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func statusFor(kind services.ErrorKind) int {
	switch kind {
	case services.KindValidation:
		return fiber.StatusBadRequest
	case services.KindNotFound:
		return fiber.StatusNotFound
	case services.KindConflict:
		return fiber.StatusConflict
	case services.KindAuth:
		return fiber.StatusUnauthorized
	case services.KindTransient:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// writeError renders a service error. Causes of store and internal failures
// are logged, never returned.
func writeError(c *fiber.Ctx, log *zap.Logger, err error) error {
	var svcErr *services.Error
	if !errors.As(err, &svcErr) {
		log.Error("unhandled error", zap.String("method", c.Method()), zap.String("path", c.Path()), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal server error",
			"code":  "INTERNAL",
		})
	}

	status := statusFor(svcErr.Kind)
	if errors.Is(err, services.ErrForbidden) {
		status = fiber.StatusForbidden
	}
	if svcErr.Kind == services.KindTransient {
		log.Error("store failure", zap.String("method", c.Method()), zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(status).JSON(fiber.Map{
		"error": svcErr.Message,
		"code":  svcErr.Code,
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": msg,
		"code":  services.ErrInvalidInput.Code,
	})
}

// Guards bundles the middleware chains routes are mounted behind.
type Guards struct {
	Auth  fiber.Handler
	Admin fiber.Handler
}
