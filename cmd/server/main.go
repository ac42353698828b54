package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"redmansion/internal/ai"
	"redmansion/internal/catalog"
	"redmansion/internal/config"
	"redmansion/internal/database"
	"redmansion/internal/handlers"
	"redmansion/internal/logger"
	"redmansion/internal/metrics"
	"redmansion/internal/repository"
	"redmansion/internal/security"
	"redmansion/internal/service"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	startup := handlers.NewStartupStatus(
		handlers.StepDatabase,
		handlers.StepMigrations,
		handlers.StepCatalog,
		handlers.StepServices,
	)

	// Initialize database with config (supports sqlite, postgres, mysql)
	startup.SetCurrentStep(handlers.StepDatabase)
	db, err := database.InitializeWithConfig(cfg)
	if err != nil {
		log.Fatal("Failed to initialize database", "error", err)
	}
	defer db.Close()
	startup.CompleteStep(handlers.StepDatabase)
	log.Info("Database connection established", "type", cfg.DatabaseType)

	// Run migrations
	startup.SetCurrentStep(handlers.StepMigrations)
	if err := db.RunMigrations(context.Background()); err != nil {
		log.Fatal("Failed to run migrations", "error", err)
	}
	startup.CompleteStep(handlers.StepMigrations)
	log.Info("Migrations completed successfully")

	// Load the task catalog once so a broken file fails fast
	startup.SetCurrentStep(handlers.StepCatalog)
	taskCatalog := catalog.New(catalog.NewSource(cfg.TaskCatalogPath), cfg.TaskCacheTTL, log)
	tasks, err := taskCatalog.ListTasks(context.Background())
	if err != nil {
		log.Fatal("Failed to load task catalog", "path", cfg.TaskCatalogPath, "error", err)
	}
	startup.CompleteStep(handlers.StepCatalog)
	log.Info("Task catalog loaded", "tasks", len(tasks))

	// Initialize repositories
	startup.SetCurrentStep(handlers.StepServices)
	userRepo := repository.NewUserRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	progressRepo := repository.NewProgressRepository(db)

	// Initialize services
	ledgerService := service.NewLedgerService(db, userRepo, ledgerRepo, log)

	grader, err := ai.NewGrader(cfg)
	if err != nil {
		log.Warn("AI grader disabled, answers are scored heuristically", "provider", cfg.AIProvider, "error", err)
		grader = nil
	} else {
		log.Info("AI grader enabled", "provider", grader.Name())
	}
	evaluator := service.NewEvaluationService(grader, cfg.AITimeout, log)

	cooldown, closeCooldown := newCooldown(cfg, log)
	defer closeCooldown()

	policies := service.NewPolicySet(
		service.NewStandardPolicy(ledgerService),
		&service.FixedStatePolicy{TotalXP: service.LevelThreshold(1)},
		cfg.GuestUserIDs,
	)
	activityService := service.NewActivityService(policies, log)
	progressService := service.NewProgressService(
		progressRepo,
		taskCatalog,
		evaluator,
		ledgerService,
		userRepo,
		policies,
		cooldown,
		service.ProgressOptions{
			TasksPerDay:      cfg.TasksPerDay,
			Location:         cfg.Location(),
			AllowEphemeral:   cfg.AllowEphemeralProgress,
			EphemeralRewards: cfg.EphemeralRewards,
		},
		log,
	)

	tokens, err := security.NewTokenManager(cfg.JWTSecret)
	if err != nil {
		log.Fatal("JWT_SECRET must be set", "error", err)
	}

	// Initialize handlers
	limiter := security.NewRateLimiter(120, time.Minute)
	defer limiter.Close()

	handler := handlers.NewRouter(handlers.Routes{
		Tasks:      handlers.NewTaskHandler(progressService, log),
		Ledger:     handlers.NewLedgerHandler(ledgerService, activityService, log),
		Middleware: handlers.NewMiddleware(tokens, limiter, log),
		Startup:    startup,
		DB:         db,
		Metrics:    metrics.Handler(),
	})
	startup.CompleteStep(handlers.StepServices)

	// Start server
	addr := ":" + cfg.ServerPort
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: handlers.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start background lock cleanup
	go purgeExpiredLocks(ctx, ledgerService, cfg.LockRetention, log)
	go reloadCatalogOnHangup(ctx, taskCatalog, log)

	go func() {
		log.Info("Server starting", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed", "error", err)
		}
	}()
	startup.MarkReady()

	// Wait for interrupt signal
	<-ctx.Done()
	log.Info("Server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", "error", err)
	}
}

// newCooldown picks the shared Redis cooldown when REDIS_ADDR is set and
// reachable, the in-process one otherwise
func newCooldown(cfg *config.Config, log *logger.Logger) (security.Cooldown, func()) {
	if cfg.RedisAddr != "" {
		rc := security.NewRedisCooldown(cfg.RedisAddr, cfg.SubmissionCooldown, log)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		err := rc.Ping(ctx)
		if err == nil {
			log.Info("Using shared submission cooldown", "redis", cfg.RedisAddr)
			return rc, func() { _ = rc.Close() }
		}
		log.Warn("Redis unavailable, using in-process cooldown", "redis", cfg.RedisAddr, "error", err)
		_ = rc.Close()
	}
	mc := security.NewMemoryCooldown(cfg.SubmissionCooldown)
	return mc, mc.Close
}

// purgeExpiredLocks periodically removes xp_locks older than the retention
func purgeExpiredLocks(ctx context.Context, ledger *service.LedgerService, retention time.Duration, log *logger.Logger) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := ledger.PurgeExpiredLocks(ctx, retention); err != nil {
				log.Error("Error purging expired XP locks", "error", err)
			}
		}
	}
}

// reloadCatalogOnHangup drops the cached question bank on SIGHUP so an
// edited TASK_CATALOG_PATH is picked up without a restart
func reloadCatalogOnHangup(ctx context.Context, taskCatalog *catalog.Catalog, log *logger.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			taskCatalog.Invalidate()
			tasks, err := taskCatalog.ListTasks(ctx)
			if err != nil {
				log.Error("Task catalog reload failed", "error", err)
				continue
			}
			log.Info("Task catalog reloaded", "tasks", len(tasks))
		}
	}
}
