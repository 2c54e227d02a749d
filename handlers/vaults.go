package handlers

import (
	"github.com/gofiber/fiber/v2"

	"vault-gate/models"
	"vault-gate/services"
)

func SetupVaultRoutes(app *fiber.App, vaults *services.VaultService, users *services.UserService) {
	// 🔓 read models
	app.Get("/vaults", vaults.ListVaults)
	app.Get("/vaults/:id", vaults.GetVault)
	app.Get("/users/:wallet", users.GetUser)

	// 🔐 admin, behind the gateway's operator auth
	admin := app.Group("/admin")
	admin.Post("/vaults", vaults.UpsertVault)
	admin.Get("/users", users.SearchUsers)
	admin.Get("/vaults/:id/awards", func(c *fiber.Ctx) error {
		var vault models.Vault
		if err := vaults.DB.WithContext(c.UserContext()).
			Select("id", "freecreditawarded").
			First(&vault, "id = ?", c.Params("id")).Error; err != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "vault not found"})
		}
		return c.JSON(fiber.Map{
			"vaultId": vault.ID,
			"wallets": vault.FreeCreditAwarded,
			"count":   len(vault.FreeCreditAwarded),
		})
	})
}
