package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/soihtufest/soihtufest-backend/internal/mailer"
	"github.com/soihtufest/soihtufest-backend/internal/receipts"
	"github.com/soihtufest/soihtufest-backend/internal/store"
	"github.com/soihtufest/soihtufest-backend/internal/tasks"
	"github.com/soihtufest/soihtufest-backend/pkg/config"
	"github.com/soihtufest/soihtufest-backend/pkg/db"
	"github.com/soihtufest/soihtufest-backend/pkg/logger"
	"github.com/soihtufest/soihtufest-backend/pkg/metrics"
	"github.com/soihtufest/soihtufest-backend/pkg/migrate"
	"github.com/soihtufest/soihtufest-backend/pkg/redis"
)

const lockKeyFormat = "soihtufest:worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	producer, err := tasks.NewProducer(redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create task producer", err)
		os.Exit(1)
	}

	receiptRepo := receipts.NewRepository(dbClient.DB())
	receiptService, err := receipts.NewService(receipts.ServiceParams{
		Repo:      receiptRepo,
		StoreRepo: store.NewRepository(dbClient.DB()),
		Queue:     producer,
		Sender:    mailer.NewSMTPSender(cfg.SMTP),
		Logger:    logg,
		Metrics:   metrics.NewReceiptMetrics(prometheus.DefaultRegisterer),
		Config:    cfg.Receipts,
		BaseURL:   cfg.App.BaseURL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create receipt service", err)
		os.Exit(1)
	}

	worker, err := tasks.NewWorker(tasks.WorkerParams{
		Store:    redisClient,
		Receipts: receiptService,
		Policy: tasks.RetryPolicy{
			MaxAttempts:    cfg.Receipts.MaxAttempts,
			InitialBackoff: cfg.Receipts.InitialBackoff,
			MaxBackoff:     cfg.Receipts.MaxBackoff,
		},
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create worker", err)
		os.Exit(1)
	}

	pendingJob, err := tasks.NewPendingReceiptsJob(tasks.PendingReceiptsJobParams{
		Logger:       logg,
		Repository:   receiptRepo,
		Producer:     producer,
		RequeueAfter: cfg.Receipts.RequeueAfter,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create pending receipts job", err)
		os.Exit(1)
	}

	lock, err := tasks.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create scheduler lock", err)
		os.Exit(1)
	}

	scheduler, err := tasks.NewScheduler(tasks.SchedulerParams{
		Logger:   logg,
		Registry: tasks.NewRegistry(pendingJob),
		Lock:     lock,
		Metrics:  metrics.NewJobMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create scheduler", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env})
	logg.Info(ctx, "starting receipt worker")

	go func() {
		if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logg.Error(ctx, "scheduler stopped unexpectedly", err)
			stop()
		}
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
