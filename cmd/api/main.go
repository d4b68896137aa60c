package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"

	"github.com/streampay/backend/internal/config"
	"github.com/streampay/backend/internal/forecast"
	"github.com/streampay/backend/internal/handlers"
	"github.com/streampay/backend/internal/loans"
	"github.com/streampay/backend/internal/payments"
	"github.com/streampay/backend/internal/reputation"
	"github.com/streampay/backend/internal/repository"
	"github.com/streampay/backend/internal/risk"
	"github.com/streampay/backend/internal/schedule"
	"github.com/streampay/backend/internal/streams"
	"github.com/streampay/backend/internal/verification"
	"github.com/streampay/backend/internal/wallet"
)

// devSimBalance funds the system wallets when running against the in-process
// wallet simulator.
var devSimBalance = decimal.NewFromInt(1_000_000)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL (connection refused or invalid). Ensure Postgres is running, e.g. make dev-up or docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed. If the error is 'connection refused', start PostgreSQL first (e.g. make dev-up)", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	// Repositories
	workerRepo := repository.NewWorkerRepo(pool)
	streamRepo := repository.NewStreamRepo(pool)
	loanRepo := repository.NewLoanRepo(pool)
	txnRepo := repository.NewTransactionRepo(pool)
	reputationRepo := repository.NewReputationRepo(pool)
	taskRepo := repository.NewTaskRepo(pool)

	// Funds-movement provider: real client when configured, simulator for
	// local development.
	var walletClient wallet.Client
	if cfg.WalletBaseURL != "" {
		walletClient = wallet.NewHTTPClient(cfg.WalletBaseURL, cfg.WalletAPIKey)
	} else {
		sim := wallet.NewSim()
		sim.Fund(cfg.PlatformWalletRef, devSimBalance)
		walletClient = sim
		slog.Warn("WALLET_BASE_URL not set, using in-process wallet simulator")
	}

	// Task verification provider
	var verifier verification.Provider
	if cfg.VerificationURL != "" {
		verifier = verification.NewRemote(cfg.VerificationURL, cfg.VerificationAPIKey, logger)
	} else {
		verifier = verification.NewHeuristic()
	}

	// Payment receipt cache: Redis when configured, in-process otherwise.
	var receiptCache payments.ResultCache
	if cfg.RedisAddr != "" {
		receiptCache = payments.NewRedisCache(redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}))
	} else {
		receiptCache = payments.NewMemoryCache()
		slog.Warn("REDIS_ADDR not set, payment receipts cached in process only")
	}

	// Core engines
	ledger := reputation.NewLedger(pool, workerRepo, reputationRepo)
	predictor := forecast.NewPredictor(txnRepo)
	scorer := risk.NewScorer(workerRepo, reputationRepo, loanRepo, txnRepo)
	loanManager := loans.NewManager(pool, loanRepo, workerRepo, scorer, predictor, walletClient, cfg.PlatformWalletRef, logger)
	streamEngine := streams.NewEngine(pool, streamRepo, workerRepo, walletClient, cfg.EscrowWalletRef, logger)

	orchestrator := payments.NewOrchestrator(pool, txnRepo, taskRepo, workerRepo, ledger, loanManager,
		verifier, walletClient, cfg.PlatformWalletRef, receiptCache, logger)
	orchestrator.FeeRateBps = cfg.FeeRateBps

	// Background jobs
	workers := river.NewWorkers()
	river.AddWorker(workers, schedule.NewReleaseStreamsWorker(streamEngine, logger))
	river.AddWorker(workers, schedule.NewSweepLoanDefaultsWorker(loanManager, logger))
	river.AddWorker(workers, schedule.NewInstantPaymentWorker(orchestrator, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers:      workers,
		PeriodicJobs: schedule.PeriodicJobs(),
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	enqueuePayment := func(ctx context.Context, args schedule.InstantPaymentArgs) error {
		_, err := riverClient.Insert(ctx, args, nil)
		return err
	}

	// HTTP surface
	mux := http.NewServeMux()
	RegisterV1Routes(mux,
		&handlers.StreamHandler{Engine: streamEngine, Logger: logger},
		&handlers.LoanHandler{Manager: loanManager, Risk: scorer, Logger: logger},
		&handlers.PaymentHandler{Orchestrator: orchestrator, Logger: logger},
		&handlers.WorkerHandler{Workers: workerRepo, Ledger: ledger, Events: reputationRepo, Forecaster: predictor, Logger: logger},
		&handlers.TaskHandler{Tasks: taskRepo, EnqueuePayment: enqueuePayment, Logger: logger},
	)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
	}).Handler(mux)

	// Start River client (processes jobs)
	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	serverAddr := "0.0.0.0:" + cfg.Port
	slog.Info("Starting HTTP server", "addr", serverAddr)
	if err := http.ListenAndServe(serverAddr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
