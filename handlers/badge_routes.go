package handlers

import (
	"errors"
	"strconv"
	"strings"

	"community-rewards-system/models"
	"community-rewards-system/services"
	"community-rewards-system/utils"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type awardRequest struct {
	UserID  string `json:"user_id"`
	BadgeID string `json:"badge_id"`
}

type awardResponse struct {
	Award          *models.UserBadge `json:"award,omitempty"`
	AlreadyAwarded bool              `json:"already_awarded"`
}

func SetupBadgeRoutes(api fiber.Router, badges *services.BadgeService, media utils.MediaStore, guards Guards, log *zap.Logger) {
	api.Get("/badges", func(c *fiber.Ctx) error {
		list, err := badges.ListBadges(c.UserContext(), c.Query("category"))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(list)
	})

	api.Get("/badges/recent", func(c *fiber.Ctx) error {
		awards, err := badges.RecentAwards(c.UserContext(), c.QueryInt("limit", 20))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(awards)
	})

	api.Get("/badges/:id", func(c *fiber.Ctx) error {
		badge, err := badges.GetBadge(c.UserContext(), c.Params("id"))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(badge)
	})

	// 🔐 Admin
	api.Post("/badges/award", guards.Auth, guards.Admin, func(c *fiber.Ctx) error {
		var req awardRequest
		if err := c.BodyParser(&req); err != nil || req.UserID == "" || req.BadgeID == "" {
			return badRequest(c, "user_id and badge_id are required")
		}
		award, err := badges.AwardBadge(c.UserContext(), req.UserID, req.BadgeID)
		switch {
		case errors.Is(err, services.ErrAlreadyAwarded):
			// A repeat award is an outcome, not a failure.
			return c.JSON(awardResponse{AlreadyAwarded: true})
		case err != nil:
			return writeError(c, log, err)
		}
		return c.Status(fiber.StatusCreated).JSON(awardResponse{Award: award})
	})

	api.Delete("/badges/award", guards.Auth, guards.Admin, func(c *fiber.Ctx) error {
		var req awardRequest
		if err := c.BodyParser(&req); err != nil || req.UserID == "" || req.BadgeID == "" {
			return badRequest(c, "user_id and badge_id are required")
		}
		if err := badges.RevokeBadge(c.UserContext(), req.UserID, req.BadgeID); err != nil {
			return writeError(c, log, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	api.Post("/badges", guards.Auth, guards.Admin, func(c *fiber.Ctx) error {
		in, err := parseBadgeInput(c)
		if err != nil {
			return badRequest(c, err.Error())
		}
		if fh, ferr := c.FormFile("image"); ferr == nil {
			if media == nil {
				return badRequest(c, "image uploads are disabled")
			}
			url, err := media.UploadImage(c.UserContext(), fh, "badges")
			if err != nil {
				log.Warn("badge image upload failed", zap.Error(err))
				return badRequest(c, err.Error())
			}
			in.ImageURL = url
		}
		badge, err := badges.CreateBadge(c.UserContext(), in)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.Status(fiber.StatusCreated).JSON(badge)
	})

	api.Delete("/badges/:id", guards.Auth, guards.Admin, func(c *fiber.Ctx) error {
		if err := badges.DeleteBadge(c.UserContext(), c.Params("id")); err != nil {
			return writeError(c, log, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

// parseBadgeInput accepts either a JSON body or multipart form fields.
func parseBadgeInput(c *fiber.Ctx) (services.BadgeInput, error) {
	var in services.BadgeInput
	if !strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		err := c.BodyParser(&in)
		return in, err
	}

	in.Name = c.FormValue("name")
	in.Description = c.FormValue("description")
	in.Category = c.FormValue("category")
	in.ImageURL = c.FormValue("image_url")
	if p := c.FormValue("points"); p != "" {
		points, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return in, fiber.NewError(fiber.StatusBadRequest, "points must be an integer")
		}
		in.Points = points
	}
	if cc := c.FormValue("completes_category"); cc != "" {
		in.CompletesCategory = &cc
	}
	return in, nil
}
