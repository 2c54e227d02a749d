package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"vault-gate/chat"
	"vault-gate/probes"
	"vault-gate/services"
	"vault-gate/utils"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	logger, err := utils.NewLogger(utils.Getenv("LOG_LEVEL", "info"))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if err := run(logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dsn, err := utils.MustGetenv("DATABASE_URL")
	if err != nil {
		return err
	}
	token, err := utils.MustGetenv("SERVICE_TOKEN")
	if err != nil {
		return err
	}
	upstreamURL, err := utils.MustGetenv("TWITTER_API_BASE_URL")
	if err != nil {
		return err
	}

	db, err := utils.OpenDB(dsn)
	if err != nil {
		return err
	}
	if err := utils.Migrate(db); err != nil {
		return err
	}

	var uploader services.AssetUploader
	if r2cfg, ok := utils.R2ConfigFromEnv(); ok {
		up, err := utils.NewR2Uploader(ctx, r2cfg)
		if err != nil {
			return err
		}
		uploader = up
	} else {
		logger.Warn("⚠️  R2 not configured, sponsor logo uploads disabled")
	}

	probeTimeout := utils.GetenvDuration("PROBE_TIMEOUT", probes.DefaultUpstreamTimeout)
	upstream, err := probes.NewUpstreamClient(probes.UpstreamConfig{
		BaseURL:           upstreamURL,
		APIKey:            utils.Getenv("TWITTER_API_KEY", ""),
		APIHost:           utils.Getenv("TWITTER_API_HOST", ""),
		Timeout:           probeTimeout,
		RequestsPerSecond: utils.GetenvFloat("TWITTER_RPS", 5),
		Burst:             utils.GetenvInt("TWITTER_BURST", 5),
		HTTPClient:        utils.NewHTTPClient(probeTimeout),
		Logger:            logger.Named("upstream"),
	})
	if err != nil {
		return err
	}
	cache := probes.NewVerdictCache(nil,
		utils.GetenvDuration("PROBE_CACHE_TTL", probes.DefaultPositiveTTL),
		utils.GetenvDuration("PROBE_NEGATIVE_TTL", probes.DefaultNegativeTTL))
	prober := probes.NewProber(upstream, cache, probes.DefaultConfig(), logger.Named("probes"))

	sched, err := services.StartCachePurge(cache, services.CachePurgeInterval, logger)
	if err != nil {
		return err
	}
	defer func() { _ = sched.Shutdown() }()

	var agent chat.Agent
	if key := utils.Getenv("OPENAI_API_KEY", ""); key != "" {
		a, err := chat.NewOpenAIAgent(chat.OpenAIConfig{
			APIKey:  key,
			BaseURL: utils.Getenv("OPENAI_BASE_URL", ""),
			Model:   utils.Getenv("OPENAI_MODEL", ""),
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		agent = a
	}

	origins := utils.GetenvList("ALLOWED_ORIGINS", "http://localhost:3000")
	app := newApp(serverDeps{
		DB:              db,
		Prober:          prober,
		Agent:           agent,
		Uploader:        uploader,
		Log:             logger,
		ServiceToken:    token,
		AllowedOrigins:  origins,
		VerifyPerMinute: utils.GetenvInt("VERIFY_RATE_PER_MINUTE", 60),
		FreeCredits:     utils.GetenvInt("FREE_CREDITS_FALLBACK", services.DefaultFreeCredits),
		SystemPrompt:    utils.Getenv("AGENT_SYSTEM_PROMPT", ""),
	})

	addr := ":" + utils.Getenv("PORT", "8080")
	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(addr)
	}()

	logger.Info("✅ Server running", zap.String("addr", addr))
	logger.Info("✅ GatewayAuthMiddleware enforced globally", zap.Strings("open", openPaths))
	logger.Info("✅ CORS configured", zap.Strings("origins", origins))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return app.ShutdownWithContext(shutdownCtx)
}
