package handlers

import (
	"github.com/gofiber/fiber/v2"

	"vault-gate/middleware"
	"vault-gate/services"
)

func SetupIdentityRoutes(app *fiber.App, svc *services.IdentityService) {
	app.Get("/identity/twitter/:id/conflict", svc.GetConflict)

	// Writes carry the session wallet when the gateway forwards one.
	secured := app.Group("/identity/twitter", middleware.WalletContextMiddleware(false))
	secured.Post("/link", svc.PostLink)
	secured.Post("/follows", svc.PostFollow)
}
