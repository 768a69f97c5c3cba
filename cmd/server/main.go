package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"snaplink/config"
	"snaplink/internal/cache"
	"snaplink/internal/filter"
	"snaplink/internal/handler"
	"snaplink/internal/logging"
	"snaplink/internal/middleware"
	"snaplink/internal/repository"
	"snaplink/internal/service"
	"snaplink/internal/shortcode"
)

func main() {
	// Load configuration
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize MySQL repositories
	linkRepo, err := repository.NewLinkRepository(
		cfg.MySQL.DSN(),
		cfg.MySQL.MaxIdleConns,
		cfg.MySQL.MaxOpenConns,
	)
	if err != nil {
		logger.Fatal("Failed to initialize link repository", zap.Error(err))
	}
	defer linkRepo.Close()

	clickRepo, err := repository.NewClickRepository(
		linkRepo.DB(),
		cfg.Snowflake.DatacenterID,
		cfg.Snowflake.WorkerID,
	)
	if err != nil {
		logger.Fatal("Failed to initialize click repository", zap.Error(err))
	}

	// Initialize Redis cache
	redisCache, err := cache.NewRedisCache(
		cfg.Redis.Addr(),
		cfg.Redis.Password,
		cfg.Redis.DB,
		cfg.Redis.PoolSize,
		logger,
	)
	if err != nil {
		logger.Fatal("Failed to initialize Redis cache", zap.Error(err))
	}
	defer redisCache.Close()

	// Initialize code filter and generator
	codeFilter := filter.NewCodeFilter(
		cfg.BloomFilter.Capacity,
		cfg.BloomFilter.FalsePositiveRate,
	)
	generator := shortcode.NewGenerator(nil)

	var titles *service.TitleFetcher
	if cfg.Title.Enabled {
		titles = service.NewTitleFetcher(cfg.Title.Timeout())
	}

	// Initialize link service
	linkService := service.NewLinkService(linkRepo, clickRepo, redisCache, codeFilter,
		generator, titles, logger)
	defer linkService.Close()

	// Seed the code filter with all existing short codes
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := linkService.WarmCodeFilter(ctx); err != nil {
		logger.Warn("Failed to warm code filter", zap.Error(err))
	}

	// Set Gin mode
	gin.SetMode(cfg.Server.Mode)

	router := gin.New()
	router.Use(gin.Recovery())

	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(redisCache, middleware.RateLimitConfig{
			Limit:    cfg.RateLimit.Limit,
			Window:   cfg.RateLimit.Window(),
			SkipFunc: middleware.SkipHealthCheck,
		}))
	}

	baseURL := cfg.Server.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	linkHandler := handler.NewLinkHandler(linkService, baseURL)

	// Register routes
	router.GET("/health", linkHandler.HealthCheck)
	router.GET("/:code", linkHandler.Redirect)

	api := router.Group("/api/v1")
	{
		api.POST("/links", linkHandler.CreateLink)
		api.GET("/links", linkHandler.ListLinks)
		api.GET("/links/:code", linkHandler.GetLinkDetails)
		api.DELETE("/links/:code", linkHandler.DeleteLink)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
