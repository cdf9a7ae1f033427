package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gift-exchange-backend/internal/common/cache"
	"gift-exchange-backend/internal/common/config"
	"gift-exchange-backend/internal/common/logger"
	"gift-exchange-backend/internal/common/metrics"
	"gift-exchange-backend/internal/common/middleware"
	"gift-exchange-backend/internal/common/telemetry"
	"gift-exchange-backend/internal/common/validation"
	drawhttp "gift-exchange-backend/internal/features/draw/delivery/http"
	drawservice "gift-exchange-backend/internal/features/draw/service"
	eventhttp "gift-exchange-backend/internal/features/event/delivery/http"
	"gift-exchange-backend/internal/features/event/repository"
	"gift-exchange-backend/internal/features/event/repository/sqldb"
	eventservice "gift-exchange-backend/internal/features/event/service"
	wishlisthttp "gift-exchange-backend/internal/features/wishlist/delivery/http"
	wishlistservice "gift-exchange-backend/internal/features/wishlist/service"
	"gift-exchange-backend/internal/platform/lock"
	"gift-exchange-backend/internal/platform/postgres"
	"gift-exchange-backend/internal/platform/redis"
	"gift-exchange-backend/internal/platform/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.ServiceName, cfg.Debug)
	logger.Info().
		Str("storage", cfg.Storage.Driver).
		Bool("redis", cfg.Redis.Enabled).
		Bool("debug", cfg.Debug).
		Msg("Starting gift exchange backend")

	ctx := context.Background()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize tracing")
	}

	if err := validation.RegisterGinValidators(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to register validators")
	}

	// Инициализируем хранилище
	db, dialect, storage, err := openStorage(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer storage.Close()

	repo := sqldb.NewRepository(db, dialect)

	// Без Redis: локальная блокировка, кэш отключен
	var (
		locker       lock.Locker = lock.NewLocal()
		cacheService *cache.CacheService
		redisClient  *redis.Client
	)
	if cfg.Redis.Enabled {
		redisClient, err = redis.Open(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()

		locker = redis.NewLocker(redisClient, cfg.Draw.LockTTL, cfg.Draw.LockWait)
		cacheService = cache.NewCacheService(redisClient, cfg.Cache.TTL)
		logger.Info().Dur("ttl", cfg.Cache.TTL).Msg("Cache service initialized")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewPrometheus(registry, "gift_exchange")

	// Инициализируем сервисы
	eventSvc := eventservice.NewEventService(repo, cacheService, locker)
	drawSvc := drawservice.NewDrawService(repo, eventSvc, cacheService, locker,
		drawservice.WithMetrics(collector),
		drawservice.WithMaxRetries(cfg.Draw.MaxRetries),
	)
	wishlistSvc := wishlistservice.NewWishlistService(repo, cacheService, time.Now)

	logger.Info().Msg("Services initialized")

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger())
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.Errors())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{cfg.Server.Origin}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{
		"Content-Type", "Accept", "X-Request-ID",
		middleware.AdminTokenHeader, middleware.ParticipantTokenHeader,
	}
	router.Use(cors.New(corsConfig))

	v1 := router.Group("/api/v1")
	eventhttp.NewEventHandler(eventSvc).RegisterRoutes(v1)
	drawhttp.NewDrawHandler(drawSvc).RegisterRoutes(v1)
	wishlisthttp.NewWishlistHandler(wishlistSvc).RegisterRoutes(v1)

	setupProbes(router, cfg.ServiceName, repo, redisClient)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Ждем сигнала для graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to flush traces")
	}

	logger.Info().Msg("Server exited")
}

func openStorage(ctx context.Context, cfg *config.Config) (*sql.DB, sqldb.Dialect, io.Closer, error) {
	switch cfg.Storage.Driver {
	case config.StorageDriverSQLite:
		client, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, 0, nil, err
		}
		return client.GetDB(), sqldb.SQLite, client, nil
	default:
		client, err := postgres.NewClient(ctx, cfg)
		if err != nil {
			return nil, 0, nil, err
		}
		return client.GetDB(), sqldb.Postgres, client, nil
	}
}

func setupProbes(router *gin.Engine, service string, repo repository.EventRepository, redisClient *redis.Client) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC(),
			"service":   service,
		})
	})

	router.GET("/live", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := repo.HealthCheck(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unready",
				"error":   "database unavailable",
				"details": err.Error(),
			})
			return
		}

		if redisClient != nil {
			if err := redisClient.HealthCheck(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unready",
					"error":   "redis unavailable",
					"details": err.Error(),
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "ready",
			"timestamp": time.Now().UTC(),
			"service":   service,
		})
	})
}
