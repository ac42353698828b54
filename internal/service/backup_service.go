package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"redmansion/internal/database"
	"redmansion/internal/logger"
	"redmansion/internal/models"
	"redmansion/internal/repository"
)

const backupVersion = "1.0"

// BackupData represents the complete ledger backup structure
type BackupData struct {
	Version      string       `json:"version"`
	ExportedAt   time.Time    `json:"exported_at"`
	DatabaseType string       `json:"database_type"`
	Users        []UserBackup `json:"users"`
}

// UserBackup carries one user with everything the ledger and tracker hold for them
type UserBackup struct {
	User         models.User                 `json:"user"`
	Transactions []models.XPTransaction      `json:"transactions"`
	LevelUps     []models.LevelUpRecord      `json:"level_ups"`
	Progress     []*models.DailyTaskProgress `json:"progress"`
}

// BackupService handles ledger export and restore
type BackupService struct {
	db       *database.DB
	users    *repository.UserRepository
	ledger   *repository.LedgerRepository
	progress *repository.ProgressRepository
	logger   *logger.Logger
}

// NewBackupService creates a new backup service
func NewBackupService(db *database.DB, users *repository.UserRepository, ledger *repository.LedgerRepository, progress *repository.ProgressRepository, log *logger.Logger) *BackupService {
	if log == nil {
		log = logger.Nop()
	}
	return &BackupService{
		db:       db,
		users:    users,
		ledger:   ledger,
		progress: progress,
		logger:   log.With("service", "BackupService"),
	}
}

// Export writes a complete backup to a file
func (s *BackupService) Export(ctx context.Context, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	if err := s.ExportToWriter(ctx, file); err != nil {
		return err
	}
	return file.Sync()
}

// ExportToWriter exports every user, their ledger and their progress as JSON
func (s *BackupService) ExportToWriter(ctx context.Context, w io.Writer) error {
	backup := &BackupData{
		Version:      backupVersion,
		ExportedAt:   time.Now().UTC(),
		DatabaseType: s.db.Dialect.Name(),
	}

	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to export users: %w", err)
	}
	for _, user := range users {
		entry := UserBackup{User: user}
		if entry.Transactions, err = s.ledger.ListTransactions(ctx, user.ID, 0); err != nil {
			return fmt.Errorf("failed to export transactions of %s: %w", user.ID, err)
		}
		if entry.LevelUps, err = s.ledger.ListLevelUps(ctx, user.ID); err != nil {
			return fmt.Errorf("failed to export level ups of %s: %w", user.ID, err)
		}
		if entry.Progress, err = s.progress.ListByUser(ctx, user.ID); err != nil {
			return fmt.Errorf("failed to export progress of %s: %w", user.ID, err)
		}
		backup.Users = append(backup.Users, entry)
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(backup); err != nil {
		return fmt.Errorf("failed to encode backup: %w", err)
	}
	s.logger.Info("Backup exported", "users", len(backup.Users))
	return nil
}

// Import restores a backup file
func (s *BackupService) Import(ctx context.Context, inputPath string) error {
	file, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("failed to open input file: %w", err)
	}
	defer file.Close()
	return s.ImportFromReader(ctx, file)
}

// ImportFromReader restores users and their ledger in one transaction; any
// conflict with existing rows aborts the whole import. Every restored
// transaction gets its lock back so the source cannot be granted again.
func (s *BackupService) ImportFromReader(ctx context.Context, reader io.Reader) error {
	var backup BackupData
	if err := json.NewDecoder(reader).Decode(&backup); err != nil {
		return fmt.Errorf("failed to decode backup: %w", err)
	}
	if backup.Version != backupVersion {
		return fmt.Errorf("unsupported backup version %q", backup.Version)
	}
	s.logger.Info("Importing backup", "version", backup.Version, "exported_at", backup.ExportedAt, "users", len(backup.Users))

	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		for i := range backup.Users {
			entry := &backup.Users[i]
			if err := s.users.RestoreUser(ctx, tx, &entry.User); err != nil {
				return err
			}
			for j := range entry.Transactions {
				txn := &entry.Transactions[j]
				lock := &models.XPLock{ID: txn.ID, UserID: txn.UserID, SourceID: txn.SourceID, CreatedAt: txn.CreatedAt}
				if err := s.ledger.InsertLock(ctx, tx, lock); err != nil {
					return fmt.Errorf("failed to restore lock %s: %w", txn.SourceID, err)
				}
				if err := s.ledger.InsertTransaction(ctx, tx, txn); err != nil {
					return fmt.Errorf("failed to restore transaction %s: %w", txn.ID, err)
				}
			}
			for j := range entry.LevelUps {
				if err := s.ledger.InsertLevelUp(ctx, tx, &entry.LevelUps[j]); err != nil {
					return fmt.Errorf("failed to restore level up %s: %w", entry.LevelUps[j].ID, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to import ledger: %w", err)
	}

	// Progress rows are upserts and safe to replay after the ledger commit
	for _, entry := range backup.Users {
		for _, p := range entry.Progress {
			if err := s.progress.Save(ctx, p); err != nil {
				return fmt.Errorf("failed to import progress %s: %w", p.ID, err)
			}
		}
	}
	s.logger.Info("Backup import completed")
	return nil
}
