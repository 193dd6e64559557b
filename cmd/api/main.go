package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/culture-survey/backend/internal/api/handlers"
	"github.com/culture-survey/backend/internal/app"
	"github.com/culture-survey/backend/internal/metrics"
	"github.com/culture-survey/backend/internal/middleware/ratelimit"
	"github.com/culture-survey/backend/internal/middleware/security"
	"github.com/culture-survey/backend/internal/middleware/validation"
	"github.com/culture-survey/backend/pkg/config"
	appLogger "github.com/culture-survey/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting culture survey API server")

	metrics.Init()

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	core, err := app.Build(startCtx, cfg)
	cancel()
	if err != nil {
		appLogger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer core.Close()

	var probe handlers.StorageProbe
	if client := core.RemoteProbe(); client != nil {
		probe = client
	}

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.Server.RateLimitPerMinute,
		CleanupInterval:      5 * time.Minute,
		Logger:               appLogger.Named("ratelimit"),
	})
	defer limiter.Stop()

	fiberApp := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	fiberApp.Use(recover.New())
	fiberApp.Use(logger.New())
	fiberApp.Use(security.HeadersMiddleware(security.HeadersConfig{IsDevelopment: cfg.Server.Development}))
	fiberApp.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.Server.AllowedOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))

	fiberApp.Get("/metrics", metrics.MetricsHandler())

	handlers.Register(fiberApp.Group("/api/v1"), handlers.Routes{
		Health:      handlers.NewHealthHandler(core.Store.Name(), probe),
		Results:     handlers.NewResultsHandler(core.Aggregation, core.Comparison),
		Sessions:    handlers.NewSessionHandler(core.Repo),
		ValidateIDs: validation.Middleware(validation.Config{Logger: appLogger.Named("validation")}),
		LimitWrites: limiter.Middleware(),
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr), zap.String("store", core.Store.Name()))

	go func() {
		if err := fiberApp.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := fiberApp.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Error("Shutdown did not complete cleanly", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
