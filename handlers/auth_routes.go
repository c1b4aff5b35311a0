package handlers

import (
	"community-rewards-system/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type nonceRequest struct {
	Address string `json:"address"`
}

type verifyRequest struct {
	UserID    string `json:"user_id"`
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

// SetupAuthRoutes mounts the wallet handshake and, when trustedCallback is
// non-nil, the social login endpoint behind it.
func SetupAuthRoutes(api fiber.Router, wallet *services.WalletAuthService, social *services.SocialAuthService, trustedCallback fiber.Handler, log *zap.Logger) {
	auth := api.Group("/auth")

	auth.Post("/wallet/nonce", func(c *fiber.Ctx) error {
		var req nonceRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		userID, nonce, err := wallet.InitiateWalletAuth(c.UserContext(), req.Address)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(fiber.Map{
			"user_id": userID,
			"nonce":   nonce,
			"message": services.ChallengeMessage(nonce),
		})
	})

	auth.Post("/wallet/verify", func(c *fiber.Ctx) error {
		var req verifyRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		if req.UserID == "" || req.Address == "" || req.Signature == "" {
			return badRequest(c, "user_id, address and signature are required")
		}
		token, user, err := wallet.VerifyWalletAuth(c.UserContext(), req.UserID, req.Address, req.Signature)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(fiber.Map{"token": token, "user": user})
	})

	if social == nil || trustedCallback == nil {
		return
	}
	auth.Post("/social", trustedCallback, func(c *fiber.Ctx) error {
		var a services.SocialAssertion
		if err := c.BodyParser(&a); err != nil {
			return badRequest(c, "invalid request body")
		}
		token, user, err := social.LinkSocialIdentity(c.UserContext(), a)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(fiber.Map{"token": token, "user": user})
	})
}
