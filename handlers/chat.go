package handlers

import (
	"github.com/gofiber/fiber/v2"

	"vault-gate/middleware"
	"vault-gate/services"
)

func SetupChatRoutes(app *fiber.App, svc *services.ChatService) {
	secured := app.Group("/chat", middleware.WalletContextMiddleware(false))
	secured.Post("/:vaultId/messages", svc.PostMessage)
	secured.Get("/:vaultId/messages", svc.GetHistory)
}
