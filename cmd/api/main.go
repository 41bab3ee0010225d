package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/soihtufest/soihtufest-backend/api/routes"
	"github.com/soihtufest/soihtufest-backend/internal/ledger"
	"github.com/soihtufest/soihtufest-backend/internal/mailer"
	"github.com/soihtufest/soihtufest-backend/internal/receipts"
	"github.com/soihtufest/soihtufest-backend/internal/settlement"
	"github.com/soihtufest/soihtufest-backend/internal/store"
	"github.com/soihtufest/soihtufest-backend/internal/tasks"
	"github.com/soihtufest/soihtufest-backend/pkg/config"
	"github.com/soihtufest/soihtufest-backend/pkg/db"
	"github.com/soihtufest/soihtufest-backend/pkg/logger"
	"github.com/soihtufest/soihtufest-backend/pkg/metrics"
	"github.com/soihtufest/soihtufest-backend/pkg/migrate"
	"github.com/soihtufest/soihtufest-backend/pkg/paytrail"
	"github.com/soihtufest/soihtufest-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	storeRepo := store.NewRepository(dbClient.DB())
	storeService, err := store.NewService(storeRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create store service", err)
		os.Exit(1)
	}

	ledgerRepo := ledger.NewRepository(dbClient.DB())
	ledgerService, err := ledger.NewService(dbClient, ledgerRepo, storeRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	paytrailClient, err := paytrail.NewClient(paytrail.Config{
		MerchantID: cfg.Paytrail.MerchantID,
		Secret:     cfg.Paytrail.Secret,
		APIURL:     cfg.Paytrail.APIURL,
		Timeout:    cfg.Paytrail.RequestTimeout,
	}, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment client", err)
		os.Exit(1)
	}

	producer, err := tasks.NewProducer(redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create task producer", err)
		os.Exit(1)
	}

	receiptService, err := receipts.NewService(receipts.ServiceParams{
		Repo:      receipts.NewRepository(dbClient.DB()),
		StoreRepo: storeRepo,
		Queue:     producer,
		Sender:    mailer.NewSMTPSender(cfg.SMTP),
		Logger:    logg,
		Metrics:   metrics.NewReceiptMetrics(promRegistry),
		Config:    cfg.Receipts,
		BaseURL:   cfg.App.BaseURL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create receipt service", err)
		os.Exit(1)
	}

	settlementService, err := settlement.NewService(settlement.ServiceParams{
		LedgerRepo:        ledgerRepo,
		StoreRepo:         storeRepo,
		Provider:          paytrailClient,
		Receipts:          receiptService,
		TransactionRunner: dbClient,
		Guard:             redisClient,
		Logger:            logg,
		Metrics:           metrics.NewSettlementMetrics(promRegistry),
		BaseURL:           cfg.App.BaseURL,
		NoCostMethod:      cfg.Store.NoCostMethod,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create settlement service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			storeService,
			storeRepo,
			ledgerService,
			settlementService,
			paytrailClient,
			promRegistry,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
