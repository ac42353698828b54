package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"redmansion/internal/catalog"
	"redmansion/internal/config"
	"redmansion/internal/database"
	"redmansion/internal/logger"
	"redmansion/internal/repository"
	"redmansion/internal/service"
)

// app holds the dependencies shared by every subcommand
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	db       *database.DB
	users    *repository.UserRepository
	ledgerDB *repository.LedgerRepository
	progress *repository.ProgressRepository
	ledger   *service.LedgerService
	tracker  *service.ProgressService
	backup   *service.BackupService
}

var a = &app{}

var rootCmd = &cobra.Command{
	Use:           "admin",
	Short:         "Operator tooling for the reward ledger and daily tasks",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return a.open(cmd.Context())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		a.close()
	},
}

func main() {
	registerCommands(rootCmd)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (a *app) open(ctx context.Context) error {
	a.cfg = config.Load()

	log, err := logger.New(a.cfg.LogMode)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	a.log = log

	db, err := database.InitializeWithConfig(a.cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.db = db

	// Run migrations to ensure schema is up to date
	if err := db.RunMigrations(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	a.users = repository.NewUserRepository(db)
	a.ledgerDB = repository.NewLedgerRepository(db)
	a.progress = repository.NewProgressRepository(db)
	a.ledger = service.NewLedgerService(db, a.users, a.ledgerDB, log)
	a.backup = service.NewBackupService(db, a.users, a.ledgerDB, a.progress, log)

	policies := service.NewPolicySet(
		service.NewStandardPolicy(a.ledger),
		&service.FixedStatePolicy{TotalXP: service.LevelThreshold(1)},
		a.cfg.GuestUserIDs,
	)
	// Only the reset path is used here; tasks are never graded offline
	a.tracker = service.NewProgressService(
		a.progress,
		catalog.New(catalog.NewSource(a.cfg.TaskCatalogPath), a.cfg.TaskCacheTTL, log),
		service.NewEvaluationService(nil, a.cfg.AITimeout, log),
		a.ledger,
		a.users,
		policies,
		nil,
		service.ProgressOptions{TasksPerDay: a.cfg.TasksPerDay, Location: a.cfg.Location()},
		log,
	)
	return nil
}

func (a *app) close() {
	if a.db != nil {
		a.db.Close()
	}
	if a.log != nil {
		a.log.Sync()
	}
}
