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

	"github.com/therealutkarshpriyadarshi/globalsound/internal/cache"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/config"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/database"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/logging"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/media"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/metrics"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/middleware"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/monitoring"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/queue"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/storage"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/tracing"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/upload"
)

// Job submissions allowed per caller per hour
const localizeQuota = 30

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	closer, err := tracing.Setup(cfg.Tracing.Enabled, cfg.Tracing.ServiceName+"-api", cfg.Tracing.Endpoint)
	if err != nil {
		logger.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer closer.Close()

	if cfg.Auth.Enabled {
		logger.Info("JWT authentication configured")
	}

	// Initialize database
	db, err := database.New(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	// Initialize storage
	stor, err := storage.New(cfg.Storage, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}

	// Initialize cache
	redisCache, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisCache.Close()

	// Initialize queue
	q, err := queue.New(cfg.Queue, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()

	if err := os.MkdirAll(cfg.Media.TempDir, 0o755); err != nil {
		logger.Fatalf("Failed to create temp directory: %v", err)
	}

	repo := database.NewRepository(db.Pool)

	api := &API{
		repo:           repo,
		storage:        stor,
		queue:          q,
		progress:       redisCache,
		meta:           redisCache,
		prober:         media.NewFFmpeg(cfg.Media.FFmpegPath, cfg.Media.FFprobePath),
		logger:         logger,
		tempDir:        cfg.Media.TempDir,
		maxUploadBytes: cfg.Server.MaxUploadBytes,
		cancelTTL:      cfg.Redis.ProgressTTL,
		metaTTL:        cfg.Redis.CacheTTL,
		health: map[string]HealthCheck{
			"database": db.Health,
			"redis":    redisCache.Ping,
			"storage":  stor.Ping,
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api.monitor = monitoring.NewMonitor(repo, q, monitoring.DefaultThresholds, logger)
	api.monitor.Start(ctx, 15*time.Second)

	api.uploads = upload.NewService(cfg.Media.TempDir, cfg.Server.UploadPartBytes, cfg.Server.MaxUploadBytes, logger)
	go api.uploads.CleanupExpired(ctx, time.Hour)

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	go limiter.Cleanup(ctx, 10*time.Minute)

	gin.SetMode(gin.ReleaseMode)
	router := setupRouter(api, routerConfig{
		authEnabled: cfg.Auth.Enabled,
		jwtSecret:   cfg.Auth.JWTSecret,
		limiter:     limiter,
		quota:       redisCache,
	})

	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics.Port, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.WithError(err).Error("Metrics server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server stopped")
}

type routerConfig struct {
	authEnabled bool
	jwtSecret   string
	limiter     *middleware.RateLimiter
	quota       middleware.QuotaChecker
}

func setupRouter(api *API, rc routerConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger(api.logger))

	// Health check
	router.GET("/health", api.healthCheck)

	// API routes
	v1 := router.Group("/api/v1")
	v1.Use(middleware.Auth(rc.authEnabled, rc.jwtSecret))
	if rc.limiter != nil {
		v1.Use(middleware.RateLimit(rc.limiter))
	}
	{
		v1.GET("/languages", api.listLanguages)

		// Videos
		v1.POST("/videos/upload", api.uploadVideo)
		v1.GET("/videos/:id", api.getVideo)
		v1.GET("/videos", api.listVideos)
		v1.DELETE("/videos/:id", api.deleteVideo)

		// Chunked uploads
		if api.uploads != nil {
			v1.POST("/uploads", api.initiateUpload)
			v1.GET("/uploads/:uploadId", api.getUpload)
			v1.PUT("/uploads/:uploadId/parts/:part", api.uploadPart)
			v1.POST("/uploads/:uploadId/complete", api.completeUpload)
			v1.DELETE("/uploads/:uploadId", api.abortUpload)
		}

		// Jobs
		localize := []gin.HandlerFunc{api.createLocalizeJob}
		if rc.quota != nil {
			localize = append([]gin.HandlerFunc{middleware.Quota(rc.quota, "localize", localizeQuota, time.Hour)}, localize...)
		}
		v1.POST("/videos/:id/localize", localize...)
		v1.GET("/videos/:id/jobs", api.getVideoJobs)
		v1.GET("/jobs", api.listJobs)
		v1.GET("/jobs/:id", api.getJob)
		v1.POST("/jobs/:id/cancel", api.cancelJob)
		v1.GET("/queue/stats", api.getQueueStats)
		if api.monitor != nil {
			v1.GET("/system/status", api.getSystemStatus)
		}

		// Subtitles
		v1.GET("/jobs/:id/subtitles", api.listSubtitles)
		v1.GET("/jobs/:id/subtitles/:lang", api.downloadSubtitle)
	}

	return router
}
