package handlers

import (
	"community-rewards-system/middleware"
	"community-rewards-system/models"
	"community-rewards-system/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func SetupUserRoutes(api fiber.Router, users *services.UserService, badges *services.BadgeService, guards Guards, log *zap.Logger) {
	api.Get("/profile", guards.Auth, func(c *fiber.Ctx) error {
		p, err := users.GetProfile(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(p)
	})

	api.Get("/users/:id", guards.Auth, func(c *fiber.Ctx) error {
		p, err := users.GetPublicProfile(c.UserContext(), c.Params("id"))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(p)
	})

	// Owners edit themselves; admins may edit anyone (and set email).
	api.Put("/users/:id", guards.Auth, func(c *fiber.Ctx) error {
		target := c.Params("id")
		isAdmin := middleware.IsAdmin(c)
		if target != middleware.UserID(c) && !isAdmin {
			return writeError(c, log, services.ErrForbidden)
		}
		var in services.ProfileUpdate
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "invalid request body")
		}
		user, err := users.UpdateProfile(c.UserContext(), target, in, isAdmin)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(user)
	})

	api.Delete("/users/:id", guards.Auth, guards.Admin, func(c *fiber.Ctx) error {
		if err := users.DeleteUser(c.UserContext(), c.Params("id")); err != nil {
			return writeError(c, log, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	api.Post("/users/:id/promote", guards.Auth, guards.Admin, func(c *fiber.Ctx) error {
		user, err := users.PromoteToAdmin(c.UserContext(), middleware.UserID(c), c.Params("id"))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(user)
	})

	api.Get("/users/:id/badges", func(c *fiber.Ctx) error {
		awards, err := badges.UserBadges(c.UserContext(), c.Params("id"))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(awards)
	})

	api.Get("/users/:id/badges/progress/:category", func(c *fiber.Ctx) error {
		status, err := badges.CategoryProgress(c.UserContext(), c.Params("id"), c.Params("category"))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(status)
	})

	// 🔗 Connections
	api.Get("/connections", guards.Auth, func(c *fiber.Ctx) error {
		conns, err := users.Connections(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(conns)
	})

	api.Post("/connections", guards.Auth, func(c *fiber.Ctx) error {
		var in services.ConnectionInput
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "invalid request body")
		}
		// Verification is established by the platform flows, not by the caller.
		if !middleware.IsAdmin(c) {
			in.IsVerified = nil
		}
		conn, err := users.AddConnection(c.UserContext(), middleware.UserID(c), in)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.Status(fiber.StatusCreated).JSON(conn)
	})

	api.Delete("/connections/:platform", guards.Auth, func(c *fiber.Ctx) error {
		platform := models.Platform(c.Params("platform"))
		if err := users.RemoveConnection(c.UserContext(), middleware.UserID(c), platform); err != nil {
			return writeError(c, log, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}
