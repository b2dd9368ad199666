package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/poolstake/backend/internal/auth"
	"github.com/poolstake/backend/internal/cache"
	"github.com/poolstake/backend/internal/config"
	"github.com/poolstake/backend/internal/db"
	"github.com/poolstake/backend/internal/execution"
	"github.com/poolstake/backend/internal/handlers"
	"github.com/poolstake/backend/internal/ledger"
	"github.com/poolstake/backend/internal/logging"
	"github.com/poolstake/backend/internal/metrics"
	"github.com/poolstake/backend/internal/repository"
	"github.com/poolstake/backend/internal/router"
	"github.com/poolstake/backend/internal/services"
)

func main() {
	// .env is optional; real deployments set POOLS_* directly.
	_ = godotenv.Load()

	configPath := os.Getenv("POOLS_CONFIG")
	cfg, err := config.Load(configPath, configPath == "")
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Log.Level, cfg.Log.Encoding)

	cutPercent, err := cfg.Engine.CutPercent()
	if err != nil {
		slog.Error("Invalid engine config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	poolCfg, err := pgxpool.ParseConfig(cfg.DB.URL)
	if err != nil {
		slog.Error("Invalid database URL", "error", err)
		os.Exit(1)
	}
	if cfg.DB.MaxConns > 0 {
		poolCfg.MaxConns = cfg.DB.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running and POOLS_DB_URL is correct", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL")

	if err := db.CreateSchema(ctx, pool); err != nil {
		slog.Error("Schema setup failed", "error", err)
		os.Exit(1)
	}

	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Migrations applied")

	reg := metrics.New()

	var store cache.Store
	if cfg.Cache.RedisURL != "" {
		rs, err := cache.NewRedisStore(cfg.Cache.RedisURL, cfg.Cache.Prefix)
		if err != nil {
			slog.Error("Invalid redis URL", "error", err)
			os.Exit(1)
		}
		if err := rs.Ping(ctx); err != nil {
			slog.Error("Cannot reach Redis", "error", err)
			os.Exit(1)
		}
		defer rs.Close()
		store = rs
	} else {
		store = cache.NewMemoryStore()
	}

	// Repositories
	settlementRepo := repository.NewSettlementRepo(pool)
	walletRepo := repository.NewWalletRepo(pool)
	settingsRepo := repository.NewSettingsRepo(pool)
	// The configured cut only seeds a fresh database; afterwards admins own it.
	if err := settingsRepo.EnsureDefaults(ctx, cutPercent); err != nil {
		slog.Error("Settings bootstrap failed", "error", err)
		os.Exit(1)
	}
	deps := services.Deps{
		DB:          pool,
		Pools:       repository.NewPoolRepo(pool),
		Entries:     repository.NewEntryRepo(pool),
		Settlements: settlementRepo,
		Wallet:      walletRepo,
		Ledger:      ledger.NewService(ledger.NewRepository(pool)),
		Retry: services.RetryPolicy{
			Timeout:     cfg.Engine.StoreTimeout,
			MaxAttempts: cfg.Engine.MaxRetries,
			Backoff:     cfg.Engine.RetryBackoff,
			OnRetry: func(op string, attempt int, err error) {
				reg.StoreRetry(op)
				logger.Warn("retrying store operation", "op", op, "attempt", attempt, "error", err)
			},
		},
		Metrics:  reg,
		Logger:   logger,
		Settings: settingsRepo,
	}

	// Finalize jobs are inserted in the settlement transaction. The insert func
	// is set after the River client exists (breaks init cycle).
	var insertMu sync.Mutex
	var insertFn services.InsertFinalizeTxFunc
	insertFinalize := func(ctx context.Context, tx pgx.Tx, args execution.FinalizeSettlementArgs) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			panic("river insert not wired")
		}
		return fn(ctx, tx, args)
	}

	rollover := services.NewRolloverService(deps)
	poolSvc := services.NewPoolService(deps, rollover)
	engine := services.NewSettlementEngine(deps, cutPercent, insertFinalize, store)
	machine := services.NewPoolMachine(poolSvc, engine)
	settingsSvc := services.NewSettingsService(deps)

	workers := river.NewWorkers()
	river.AddWorker(workers, execution.NewFinalizeSettlementWorker(engine, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.River.MaxWorkers},
		},
		Workers: workers,
		Logger:  logger,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, tx pgx.Tx, args execution.FinalizeSettlementArgs) error {
		_, err := riverClient.InsertTx(ctx, tx, args, nil)
		return err
	}
	insertMu.Unlock()

	// Auth
	authSvc := auth.NewService(auth.NewRepository(pool), cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if cfg.Auth.AdminEmail != "" && cfg.Auth.AdminPassword != "" {
		if _, err := authSvc.EnsureAdmin(ctx, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword, "Administrator"); err != nil {
			slog.Error("Admin bootstrap failed", "error", err)
			os.Exit(1)
		}
	}

	validator, err := services.NewValidator()
	if err != nil {
		slog.Error("Schema validator init failed", "error", err)
		os.Exit(1)
	}

	api := router.New(router.Deps{
		Auth:      auth.NewHandler(authSvc, logger),
		Tokens:    authSvc,
		Validator: validator,
		Pools:     &handlers.PoolHandler{Pools: poolSvc, Machine: machine, Ledgers: engine, Logger: logger},
		Rollover:  &handlers.RolloverHandler{Rollover: rollover, Logger: logger},
		Wallets:   &handlers.WalletHandler{Wallets: walletRepo, Logger: logger},
		Settings:  &handlers.SettingsHandler{Settings: settingsSvc, Logger: logger},
		Metrics:   reg.Handler(),
		Observer:  reg,
		Health:    pool,
		Logger:    logger,
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(api)

	// Start River client (processes finalize jobs)
	riverCtx, stopRiver := context.WithCancel(context.Background())
	defer stopRiver()
	if err := riverClient.Start(riverCtx); err != nil {
		slog.Error("River client failed to start", "error", err)
		os.Exit(1)
	}

	runner := execution.NewRunner(ctx, logger)
	if cfg.Reconciler.Enabled {
		reconciler := execution.NewReconciler(settlementRepo, func(ctx context.Context, args execution.FinalizeSettlementArgs) error {
			_, err := riverClient.Insert(ctx, args, nil)
			return err
		}, cfg.Reconciler.StaleAfter, logger)
		if _, err := runner.Add(cfg.Reconciler.Schedule, reconciler.Job); err != nil {
			slog.Error("Invalid reconciler schedule", "schedule", cfg.Reconciler.Schedule, "error", err)
			os.Exit(1)
		}
	}
	runner.Start()

	srv := &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      corsHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		slog.Info("Starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown", "error", err)
	}
	runner.Stop()
	if err := riverClient.Stop(shutdownCtx); err != nil {
		slog.Error("River stop", "error", err)
	}
}
