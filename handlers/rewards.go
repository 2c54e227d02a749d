package handlers

import (
	"github.com/gofiber/fiber/v2"

	"vault-gate/middleware"
	"vault-gate/services"
)

func SetupRewardRoutes(app *fiber.App, svc *services.RewardService) {
	app.Post("/rewards/free-credits", middleware.WalletContextMiddleware(false), svc.AwardFreeCredits)
}
