package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"redmansion/internal/database"
	"redmansion/internal/models"
)

// LedgerRepository persists XP locks, transactions and level-up records.
// Insert methods return the driver error untouched so callers can test it
// with database.DB.IsUniqueViolation.
type LedgerRepository struct {
	db *database.DB
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *database.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) querier(q database.Querier) database.Querier {
	if q == nil {
		return r.db
	}
	return q
}

// InsertLock records that (UserID, SourceID) has been processed
func (r *LedgerRepository) InsertLock(ctx context.Context, q database.Querier, lock *models.XPLock) error {
	query := `INSERT INTO xp_locks (id, user_id, source_id, created_at) VALUES (?, ?, ?, ?)`
	_, err := r.querier(q).ExecContext(ctx, query, lock.ID, lock.UserID, lock.SourceID, lock.CreatedAt)
	return err
}

// InsertTransaction appends an XP transaction
func (r *LedgerRepository) InsertTransaction(ctx context.Context, q database.Querier, txn *models.XPTransaction) error {
	query := `
		INSERT INTO xp_transactions (id, user_id, amount, reason, source, source_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.querier(q).ExecContext(ctx, query,
		txn.ID, txn.UserID, txn.Amount, txn.Reason, string(txn.Source), txn.SourceID, txn.CreatedAt)
	return err
}

// InsertLevelUp appends a level-up record
func (r *LedgerRepository) InsertLevelUp(ctx context.Context, q database.Querier, rec *models.LevelUpRecord) error {
	content, err := json.Marshal(rec.UnlockedContent)
	if err != nil {
		return fmt.Errorf("failed to encode unlocked content: %w", err)
	}
	permissions, err := json.Marshal(rec.UnlockedPermissions)
	if err != nil {
		return fmt.Errorf("failed to encode unlocked permissions: %w", err)
	}

	query := `
		INSERT INTO level_ups (id, user_id, from_level, to_level, unlocked_content, unlocked_permissions, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.querier(q).ExecContext(ctx, query,
		rec.ID, rec.UserID, rec.FromLevel, rec.ToLevel, string(content), string(permissions), rec.CreatedAt)
	return err
}

// LockExists reports whether (userID, sourceID) has already been processed
func (r *LedgerRepository) LockExists(ctx context.Context, userID, sourceID string) (bool, error) {
	var count int
	query := `SELECT COUNT(*) FROM xp_locks WHERE user_id = ? AND source_id = ?`
	if err := r.db.QueryRowContext(ctx, query, userID, sourceID).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check lock: %w", err)
	}
	return count > 0, nil
}

// ListTransactions returns a user's transactions, newest first. A limit <= 0 returns all rows.
func (r *LedgerRepository) ListTransactions(ctx context.Context, userID string, limit int) ([]models.XPTransaction, error) {
	query := `
		SELECT id, user_id, amount, reason, source, source_id, created_at
		FROM xp_transactions
		WHERE user_id = ?
		ORDER BY created_at DESC, id
	`
	args := []interface{}{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txns []models.XPTransaction
	for rows.Next() {
		var txn models.XPTransaction
		var source string
		if err := rows.Scan(&txn.ID, &txn.UserID, &txn.Amount, &txn.Reason, &source, &txn.SourceID, &txn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txn.Source = models.XPSource(source)
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

// GetTransactionBySource returns the transaction recorded for (userID, sourceID),
// or nil, nil when the source never paid out
func (r *LedgerRepository) GetTransactionBySource(ctx context.Context, userID, sourceID string) (*models.XPTransaction, error) {
	query := `
		SELECT id, user_id, amount, reason, source, source_id, created_at
		FROM xp_transactions
		WHERE user_id = ? AND source_id = ?
	`
	var txn models.XPTransaction
	var source string
	err := r.db.QueryRowContext(ctx, query, userID, sourceID).Scan(
		&txn.ID, &txn.UserID, &txn.Amount, &txn.Reason, &source, &txn.SourceID, &txn.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	txn.Source = models.XPSource(source)
	return &txn, nil
}

// ListLevelUps returns a user's level-up history in order
func (r *LedgerRepository) ListLevelUps(ctx context.Context, userID string) ([]models.LevelUpRecord, error) {
	query := `
		SELECT id, user_id, from_level, to_level, unlocked_content, unlocked_permissions, created_at
		FROM level_ups
		WHERE user_id = ?
		ORDER BY to_level ASC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list level ups: %w", err)
	}
	defer rows.Close()

	var records []models.LevelUpRecord
	for rows.Next() {
		var rec models.LevelUpRecord
		var content, permissions string
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.FromLevel, &rec.ToLevel, &content, &permissions, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan level up: %w", err)
		}
		if err := decodeJSON(content, &rec.UnlockedContent); err != nil {
			return nil, fmt.Errorf("failed to decode unlocked content: %w", err)
		}
		if err := decodeJSON(permissions, &rec.UnlockedPermissions); err != nil {
			return nil, fmt.Errorf("failed to decode unlocked permissions: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// PurgeLocksBefore deletes locks created before cutoff and returns how many were removed
func (r *LedgerRepository) PurgeLocksBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM xp_locks WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge locks: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged locks: %w", err)
	}
	return n, nil
}
