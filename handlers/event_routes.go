package handlers

import (
	"community-rewards-system/middleware"
	"community-rewards-system/services"
	"community-rewards-system/utils"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type attendanceRequest struct {
	UserID   string `json:"user_id"`
	Attended *bool  `json:"attended"`
}

func SetupEventRoutes(api fiber.Router, events *services.EventService, media utils.MediaStore, guards Guards, log *zap.Logger) {
	// 🔓 Public
	api.Get("/events", func(c *fiber.Ctx) error {
		list, err := events.ListEvents(c.UserContext(), services.EventFilter{
			UpcomingOnly: c.QueryBool("upcoming", false),
			EventType:    c.Query("type"),
		})
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(list)
	})

	api.Get("/events/:id", func(c *fiber.Ctx) error {
		event, err := events.GetEvent(c.UserContext(), c.Params("id"), false)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(event)
	})

	// 🔐 Members
	api.Post("/events/:id/register", guards.Auth, func(c *fiber.Ctx) error {
		p, err := events.RegisterForEvent(c.UserContext(), middleware.UserID(c), c.Params("id"))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.Status(fiber.StatusCreated).JSON(p)
	})

	api.Delete("/events/:id/register", guards.Auth, func(c *fiber.Ctx) error {
		if err := events.CancelRegistration(c.UserContext(), middleware.UserID(c), c.Params("id")); err != nil {
			return writeError(c, log, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	// 🔐 Admin
	api.Get("/admin/events", guards.Auth, guards.Admin, func(c *fiber.Ctx) error {
		list, err := events.ListEvents(c.UserContext(), services.EventFilter{
			IncludeUnpublished: true,
			UpcomingOnly:       c.QueryBool("upcoming", false),
			EventType:          c.Query("type"),
		})
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(list)
	})

	api.Get("/admin/events/:id", guards.Auth, guards.Admin, func(c *fiber.Ctx) error {
		event, err := events.GetEvent(c.UserContext(), c.Params("id"), true)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(event)
	})

	api.Post("/events", guards.Auth, guards.Admin, func(c *fiber.Ctx) error {
		var in services.EventInput
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "invalid request body")
		}
		event, err := events.CreateEvent(c.UserContext(), in)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.Status(fiber.StatusCreated).JSON(event)
	})

	api.Put("/events/:id", guards.Auth, guards.Admin, func(c *fiber.Ctx) error {
		var in services.EventInput
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "invalid request body")
		}
		event, err := events.UpdateEvent(c.UserContext(), c.Params("id"), in)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(event)
	})

	api.Post("/events/:id/image", guards.Auth, guards.Admin, func(c *fiber.Ctx) error {
		fh, err := c.FormFile("image")
		if err != nil {
			return badRequest(c, "image file is required")
		}
		if media == nil {
			return badRequest(c, "image uploads are disabled")
		}
		url, err := media.UploadImage(c.UserContext(), fh, "events")
		if err != nil {
			log.Warn("event image upload failed", zap.Error(err))
			return badRequest(c, err.Error())
		}
		event, err := events.UpdateEvent(c.UserContext(), c.Params("id"), services.EventInput{ImageURL: url})
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(event)
	})

	api.Delete("/events/:id", guards.Auth, guards.Admin, func(c *fiber.Ctx) error {
		if err := events.DeleteEvent(c.UserContext(), c.Params("id")); err != nil {
			return writeError(c, log, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	api.Patch("/events/:id/attendance", guards.Auth, guards.Admin, func(c *fiber.Ctx) error {
		var req attendanceRequest
		if err := c.BodyParser(&req); err != nil || req.UserID == "" || req.Attended == nil {
			return badRequest(c, "user_id and attended are required")
		}
		res, err := events.MarkAttendance(c.UserContext(), c.Params("id"), req.UserID, *req.Attended)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(res)
	})

	api.Get("/events/:id/participants", guards.Auth, guards.Admin, func(c *fiber.Ctx) error {
		list, err := events.Participants(c.UserContext(), c.Params("id"))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(list)
	})
}
