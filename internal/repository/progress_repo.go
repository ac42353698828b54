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

// ProgressRepository persists one DailyTaskProgress row per (user, date).
// Assignment lists and aggregate sets are stored as JSON text columns.
type ProgressRepository struct {
	db *database.DB
}

// NewProgressRepository creates a new progress repository
func NewProgressRepository(db *database.DB) *ProgressRepository {
	return &ProgressRepository{db: db}
}

type progressRow struct {
	assignments, completed, skipped, gains, sources string
}

func encodeProgress(p *models.DailyTaskProgress) (progressRow, error) {
	var row progressRow
	fields := []struct {
		dst *string
		v   interface{}
	}{
		{&row.assignments, nonNilAssignments(p.Tasks)},
		{&row.completed, nonNilStrings(p.CompletedTaskIDs)},
		{&row.skipped, nonNilStrings(p.SkippedTaskIDs)},
		{&row.gains, nonNilGains(p.TotalAttributeGains)},
		{&row.sources, nonNilStrings(p.UsedSourceIDs)},
	}
	for _, f := range fields {
		b, err := json.Marshal(f.v)
		if err != nil {
			return row, fmt.Errorf("failed to encode progress: %w", err)
		}
		*f.dst = string(b)
	}
	return row, nil
}

// Create inserts a new progress row. When a row for (user, date) already
// exists the stored row is returned with created=false.
func (r *ProgressRepository) Create(ctx context.Context, p *models.DailyTaskProgress) (stored *models.DailyTaskProgress, created bool, err error) {
	row, err := encodeProgress(p)
	if err != nil {
		return nil, false, err
	}

	query := `
		INSERT INTO daily_task_progress (id, user_id, progress_date, assignments, completed_task_ids, skipped_task_ids,
			total_xp_earned, total_attribute_gains, used_source_ids, streak, ephemeral, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		p.ID, p.UserID, p.Date, row.assignments, row.completed, row.skipped,
		p.TotalXPEarned, row.gains, row.sources, p.Streak, p.Ephemeral, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if r.db.IsUniqueViolation(err) {
			existing, getErr := r.Get(ctx, p.UserID, p.Date)
			if getErr != nil {
				return nil, false, getErr
			}
			if existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("failed to create progress: %w", err)
	}
	return p, true, nil
}

const progressColumns = `id, user_id, progress_date, assignments, completed_task_ids, skipped_task_ids,
	total_xp_earned, total_attribute_gains, used_source_ids, streak, ephemeral, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProgress(sc rowScanner) (*models.DailyTaskProgress, error) {
	p := &models.DailyTaskProgress{}
	var row progressRow
	err := sc.Scan(
		&p.ID,
		&p.UserID,
		&p.Date,
		&row.assignments,
		&row.completed,
		&row.skipped,
		&p.TotalXPEarned,
		&row.gains,
		&row.sources,
		&p.Streak,
		&p.Ephemeral,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	decodes := []struct {
		raw string
		v   interface{}
	}{
		{row.assignments, &p.Tasks},
		{row.completed, &p.CompletedTaskIDs},
		{row.skipped, &p.SkippedTaskIDs},
		{row.gains, &p.TotalAttributeGains},
		{row.sources, &p.UsedSourceIDs},
	}
	for _, d := range decodes {
		if err := decodeJSON(d.raw, d.v); err != nil {
			return nil, fmt.Errorf("failed to decode progress %s: %w", p.ID, err)
		}
	}
	return p, nil
}

// Get retrieves the progress for a user and date. It returns nil, nil when no row exists.
func (r *ProgressRepository) Get(ctx context.Context, userID, date string) (*models.DailyTaskProgress, error) {
	query := `SELECT ` + progressColumns + ` FROM daily_task_progress WHERE user_id = ? AND progress_date = ?`
	p, err := scanProgress(r.db.QueryRowContext(ctx, query, userID, date))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get progress: %w", err)
	}
	return p, nil
}

// ListByUser returns every progress row of a user, oldest date first
func (r *ProgressRepository) ListByUser(ctx context.Context, userID string) ([]*models.DailyTaskProgress, error) {
	query := `SELECT ` + progressColumns + ` FROM daily_task_progress WHERE user_id = ? ORDER BY progress_date`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list progress: %w", err)
	}
	defer rows.Close()

	var out []*models.DailyTaskProgress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan progress: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Save writes the full progress row, inserting it if necessary
func (r *ProgressRepository) Save(ctx context.Context, p *models.DailyTaskProgress) error {
	row, err := encodeProgress(p)
	if err != nil {
		return err
	}
	p.UpdatedAt = time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = p.UpdatedAt
	}

	_, err = r.db.ExecContext(ctx, r.db.Dialect.UpsertProgressQuery(),
		p.ID, p.UserID, p.Date, row.assignments, row.completed, row.skipped,
		p.TotalXPEarned, row.gains, row.sources, p.Streak, p.Ephemeral, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}
	return nil
}

// Delete removes every progress row of a user and returns how many were removed
func (r *ProgressRepository) Delete(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM daily_task_progress WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete progress: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted progress: %w", err)
	}
	return n, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilAssignments(a []models.TaskAssignment) []models.TaskAssignment {
	if a == nil {
		return []models.TaskAssignment{}
	}
	return a
}

func nonNilGains(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}
