package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// ServiceTokenAuth admits only callers presenting the shared service token in
// X-Service-Token, e.g. the OAuth callback collaborator.
func ServiceTokenAuth(expected string, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		got := c.Get("X-Service-Token")
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
			log.Warn("service token rejected", zap.String("path", c.Path()), zap.String("ip", c.IP()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid service token",
				"code":  "INVALID_SERVICE_TOKEN",
			})
		}
		return c.Next()
	}
}
