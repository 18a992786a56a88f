package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/therealutkarshpriyadarshi/globalsound/internal/cache"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/config"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/database"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/logging"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/metrics"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/queue"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/scheduler"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/storage"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/tracing"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/webhook"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/worker"
	"github.com/therealutkarshpriyadarshi/globalsound/pkg/models"
)

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

	closer, err := tracing.Setup(cfg.Tracing.Enabled, cfg.Tracing.ServiceName+"-worker", cfg.Tracing.Endpoint)
	if err != nil {
		logger.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer closer.Close()

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

	// Initialize database
	db, err := database.New(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	repo := database.NewRepository(db.Pool)

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
	q.SetMaxRetries(cfg.Worker.MaxRetries)

	if err := os.MkdirAll(cfg.Media.TempDir, 0o755); err != nil {
		logger.Fatalf("Failed to create temp directory: %v", err)
	}

	orchestrator := pipeline.NewOrchestrator(
		pipeline.NewCapabilities(cfg, logger),
		pipeline.OptionsFromConfig(cfg),
		logger,
	)

	notifier := webhook.NewNotifier(cfg.Webhook, logger)

	svc := worker.NewService(orchestrator, repo, stor, redisCache, worker.Options{
		WorkDir:     cfg.Media.TempDir,
		ProgressTTL: cfg.Redis.ProgressTTL,
		Notifier:    notifier,
	}, logger)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutting down worker gracefully...")
		cancel()
	}()

	// Jobs that exhausted their retries end up failed
	err = q.ConsumeDLQ(ctx, func(job *models.Job, reason string) error {
		finishCtx := context.WithoutCancel(ctx)
		updated, err := repo.FinishJob(finishCtx, job.ID, models.JobStatusFailed, nil, reason)
		if err != nil {
			return err
		}
		if !updated {
			// cancelled while waiting for a retry
			return nil
		}
		if err := notifier.NotifyJobFinished(finishCtx, job, models.JobStatusFailed, nil, reason); err != nil {
			logger.WithJobID(job.ID).WithError(err).Warn("Failed to deliver job callback")
		}
		return nil
	})
	if err != nil {
		logger.Fatalf("Failed to consume dead letter queue: %v", err)
	}

	if cfg.Worker.SweepInterval > 0 {
		sweeper := scheduler.NewSweeper(repo, q, redisCache, scheduler.Options{
			PendingAfter:    cfg.Worker.PendingAfter,
			ProcessingAfter: cfg.Worker.ProcessingAfter,
		}, logger)
		go sweeper.Run(ctx, cfg.Worker.SweepInterval)
	}

	// Start consuming jobs
	logger.WithWorkerID(svc.WorkerID()).Infof("Worker started with concurrency %d, waiting for jobs...", cfg.Worker.Concurrency)
	if err := q.ConsumeJobs(ctx, cfg.Worker.Concurrency, svc.ProcessJob); err != nil {
		logger.Fatalf("Failed to consume jobs: %v", err)
	}

	// Wait for shutdown
	<-ctx.Done()
	logger.Info("Worker stopped")
}
