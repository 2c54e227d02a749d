package main

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"vault-gate/chat"
	"vault-gate/handlers"
	"vault-gate/middleware"
	"vault-gate/services"
)

// serverDeps is everything the HTTP app is built from.
type serverDeps struct {
	DB       *gorm.DB
	Prober   services.Prober
	Agent    chat.Agent
	Uploader services.AssetUploader
	Log      *zap.Logger

	ServiceToken    string
	AllowedOrigins  []string
	VerifyPerMinute int
	FreeCredits     int
	SystemPrompt    string
	// CreditStreamInterval defaults to services.DefaultStreamInterval.
	CreditStreamInterval time.Duration
}

// openPaths skip gateway auth.
var openPaths = []string{"/health", "/metrics"}

func newApp(d serverDeps) *fiber.App {
	app := fiber.New(fiber.Config{
		BodyLimit:    10 * 1024 * 1024,
		ErrorHandler: errorHandler(d.Log),
	})

	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  strings.Join(d.AllowedOrigins, ","),
		AllowMethods:  "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-Wallet-Address",
		ExposeHeaders: "Content-Length, Content-Type, X-Request-ID, Retry-After",
		MaxAge:        86400,
	}))

	identities := services.NewIdentityService(d.DB, d.Log)
	vaults := services.NewVaultService(d.DB, d.Uploader, d.Log)
	users := services.NewUserService(d.DB, identities, d.Log)
	users.StreamInterval = d.CreditStreamInterval

	// Registered ahead of the gateway check: streams authenticate by query token.
	app.Get("/users/:wallet/credits/stream", middleware.SSEAuthMiddleware(d.ServiceToken, d.Log), users.StreamCredits)

	// 🔐❗ GLOBAL: only gateway requests, apart from health and metrics
	app.Use(middleware.GatewayAuthMiddleware(d.ServiceToken, d.Log, openPaths...))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	handlers.SetupVerificationRoutes(app, services.NewVerificationService(d.Prober, identities, d.Log), d.VerifyPerMinute)
	handlers.SetupIdentityRoutes(app, identities)
	handlers.SetupRewardRoutes(app, services.NewRewardService(d.DB, d.Log, d.FreeCredits))
	handlers.SetupVaultRoutes(app, vaults, users)
	if d.Agent != nil {
		handlers.SetupChatRoutes(app, services.NewChatService(d.DB, d.Agent, d.SystemPrompt, d.Log))
	} else {
		d.Log.Warn("⚠️ [CHAT] no agent configured, chat routes disabled")
	}
	return app
}

func errorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}
		if code >= fiber.StatusInternalServerError {
			log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
		}
		return c.Status(code).JSON(fiber.Map{"error": err.Error()})
	}
}
