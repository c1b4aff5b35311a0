package middleware

import (
	"errors"
	"strings"

	"community-rewards-system/models"
	"community-rewards-system/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	localUserID = "user_id"
	localRole   = "user_role"
)

// UserID returns the authenticated user id, empty when the request is anonymous.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(localUserID).(string)
	return id
}

// Role returns the caller's current role as loaded by RequireAuth.
func Role(c *fiber.Ctx) models.Role {
	role, _ := c.Locals(localRole).(models.Role)
	return role
}

func IsAdmin(c *fiber.Ctx) bool { return Role(c) == models.RoleAdmin }

func bearerToken(c *fiber.Ctx) string {
	h := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func unauthorized(c *fiber.Ctx, err error) error {
	code := services.ErrTokenInvalid.Code
	var svcErr *services.Error
	if errors.As(err, &svcErr) {
		code = svcErr.Code
	}
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": err.Error(),
		"code":  code,
	})
}

func storeUnavailable(c *fiber.Ctx) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": services.ErrStoreUnavailable.Message,
		"code":  services.ErrStoreUnavailable.Code,
	})
}

// RequireAuth validates the bearer token and loads the caller. The role comes
// from the store, not the token; tokens of deleted users are rejected.
func RequireAuth(tokens *services.TokenIssuer, db *gorm.DB, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := bearerToken(c)
		if raw == "" {
			return unauthorized(c, services.ErrTokenMalformed)
		}
		claims, err := tokens.Validate(raw)
		if err != nil {
			log.Debug("bearer token rejected", zap.String("path", c.Path()), zap.Error(err))
			return unauthorized(c, err)
		}

		var user models.User
		err = db.WithContext(c.UserContext()).Select("id", "role").Where("id = ?", claims.UserID()).First(&user).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return unauthorized(c, services.ErrTokenInvalid)
		case err != nil:
			log.Error("auth: load user failed", zap.String("user_id", claims.UserID()), zap.Error(err))
			return storeUnavailable(c)
		}

		c.Locals(localUserID, user.ID)
		c.Locals(localRole, user.Role)
		return c.Next()
	}
}

// RequireAdmin must run after RequireAuth.
func RequireAdmin(log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !IsAdmin(c) {
			log.Info("admin route denied", zap.String("user_id", UserID(c)), zap.String("path", c.Path()))
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": services.ErrForbidden.Message,
				"code":  services.ErrForbidden.Code,
			})
		}
		return c.Next()
	}
}
