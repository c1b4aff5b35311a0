package handlers

import (
	"strings"

	"community-rewards-system/middleware"
	"community-rewards-system/services"
	"community-rewards-system/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps is everything the HTTP surface needs.
type Deps struct {
	DB     *gorm.DB
	Tokens *services.TokenIssuer
	Log    *zap.Logger

	Wallet *services.WalletAuthService
	Social *services.SocialAuthService
	Badges *services.BadgeService
	Events *services.EventService
	Users  *services.UserService
	Media  utils.MediaStore

	AllowedOrigins []string
	ServiceToken   string
	UploadDir      string
}

func NewApp(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		BodyLimit: utils.MaxImageBytes + 1<<20,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
			}
			return writeError(c, d.Log, err)
		},
	})

	app.Use(middleware.RequestLogger(d.Log))
	if len(d.AllowedOrigins) > 0 {
		app.Use(cors.New(cors.Config{
			AllowOrigins:     strings.Join(d.AllowedOrigins, ","),
			AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
			AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID",
			AllowCredentials: true,
			MaxAge:           86400,
		}))
	}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		sqlDB, err := d.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(c.UserContext())
		}
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if d.UploadDir != "" {
		app.Static("/uploads", d.UploadDir)
	}

	guards := Guards{
		Auth:  middleware.RequireAuth(d.Tokens, d.DB, d.Log),
		Admin: middleware.RequireAdmin(d.Log),
	}
	var trustedCallback fiber.Handler
	if d.ServiceToken != "" {
		trustedCallback = middleware.ServiceTokenAuth(d.ServiceToken, d.Log)
	}

	api := app.Group("/api")
	SetupAuthRoutes(api, d.Wallet, d.Social, trustedCallback, d.Log)
	SetupUserRoutes(api, d.Users, d.Badges, guards, d.Log)
	SetupBadgeRoutes(api, d.Badges, d.Media, guards, d.Log)
	SetupEventRoutes(api, d.Events, d.Media, guards, d.Log)
	SetupStatsRoutes(api, d.Users, d.Badges, d.Log)

	return app
}
