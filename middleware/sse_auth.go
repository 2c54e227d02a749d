package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"vault-gate/models"
)

// SSEAuthMiddleware authenticates event streams from `token` and `wallet`
// query params, since EventSource clients cannot set headers.
//
// Usage:
//
//	app.Get("/users/:wallet/credits/stream", middleware.SSEAuthMiddleware(token, log), users.StreamCredits)
func SSEAuthMiddleware(expectedToken string, log *zap.Logger) fiber.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *fiber.Ctx) error {
		token := strings.TrimSpace(c.Query("token"))
		wallet := strings.TrimSpace(c.Query("wallet"))

		if token == "" || wallet == "" {
			log.Warn("[SSEAuth] ❌ missing query params", zap.String("path", c.Path()), zap.Int("tokenLen", len(token)))
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Missing token or wallet in query",
			})
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
			log.Warn("[SSEAuth] ❌ invalid token", zap.String("path", c.Path()), zap.String("ip", c.IP()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized",
			})
		}
		if !ValidWallet(wallet) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed wallet address"})
		}

		wallet = models.CanonicalWallet(wallet)
		c.Locals(LocalWallet, wallet)
		log.Debug("[SSEAuth] ✅ stream authenticated", zap.String("wallet", wallet))
		return c.Next()
	}
}
