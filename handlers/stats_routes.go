package handlers

import (
	"community-rewards-system/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func SetupStatsRoutes(api fiber.Router, users *services.UserService, badges *services.BadgeService, log *zap.Logger) {
	api.Get("/stats/leaderboard", func(c *fiber.Ctx) error {
		kind := services.LeaderboardKind(c.Query("type", string(services.LeaderboardPoints)))
		entries, err := users.Leaderboard(c.UserContext(), kind, c.QueryInt("limit", 10))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(fiber.Map{"type": kind, "entries": entries})
	})

	api.Get("/stats/badges", func(c *fiber.Ctx) error {
		summaries, err := badges.CategoryStats(c.UserContext())
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(fiber.Map{"categories": summaries})
	})

	api.Get("/stats/users/:id", func(c *fiber.Ctx) error {
		stats, err := users.GetStats(c.UserContext(), c.Params("id"))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(stats)
	})
}
