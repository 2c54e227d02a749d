package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"vault-gate/services"
)

// SetupVerificationRoutes exposes the social probes. Each IP may run at most
// perMinute checks per minute; zero disables the limit.
func SetupVerificationRoutes(app *fiber.App, svc *services.VerificationService, perMinute int) {
	verify := app.Group("/verify/twitter")
	if perMinute > 0 {
		verify.Use(limiter.New(limiter.Config{
			Max:        perMinute,
			Expiration: time.Minute,
			LimitReached: func(c *fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
					"error": "too many verification requests",
				})
			},
		}))
	}

	verify.Get("/follow", svc.CheckFollow)
	verify.Get("/retweet", svc.CheckRetweet)
	verify.Get("/like", svc.CheckLike)
	verify.Get("/tweet", svc.CheckTweet)
}
