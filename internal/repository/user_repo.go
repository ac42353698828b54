package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"redmansion/internal/apperr"
	"redmansion/internal/database"
	"redmansion/internal/models"
)

// UserRepository handles database operations for users and their XP snapshot
type UserRepository struct {
	db *database.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) querier(q database.Querier) database.Querier {
	if q == nil {
		return r.db
	}
	return q
}

// CreateUser inserts a new user with a zero XP snapshot. An empty id is
// replaced by a generated UUID.
func (r *UserRepository) CreateUser(ctx context.Context, id, displayName string) (*models.User, error) {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO users (id, display_name, current_level, current_xp, total_xp, attributes, completed_chapters, created_at, updated_at)
		VALUES (?, ?, 0, 0, 0, '{}', '[]', ?, ?)
	`
	if _, err := r.db.ExecContext(ctx, query, id, displayName, now, now); err != nil {
		if r.db.IsUniqueViolation(err) {
			return nil, apperr.New(apperr.InvalidArgument, "CreateUser", "user %s already exists", id)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return &models.User{
		ID:                id,
		DisplayName:       displayName,
		Attributes:        map[string]int{},
		CompletedChapters: []int{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// EnsureUser returns the user, creating it when it does not exist yet
func (r *UserRepository) EnsureUser(ctx context.Context, id, displayName string) (*models.User, error) {
	user, err := r.GetUser(ctx, nil, id)
	if err != nil || user != nil {
		return user, err
	}

	user, err = r.CreateUser(ctx, id, displayName)
	if apperr.Is(err, apperr.InvalidArgument) {
		// Lost a creation race; the row is there now
		return r.GetUser(ctx, nil, id)
	}
	return user, err
}

// GetUser retrieves a user by ID. It returns nil, nil when no row exists.
func (r *UserRepository) GetUser(ctx context.Context, q database.Querier, id string) (*models.User, error) {
	return r.getUser(ctx, r.querier(q), id, "")
}

// GetUserForUpdate reads the user inside tx and holds its row lock until the
// transaction ends, so a read-modify-write of the XP snapshot cannot lose a
// concurrent update
func (r *UserRepository) GetUserForUpdate(ctx context.Context, tx *database.Tx, id string) (*models.User, error) {
	return r.getUser(ctx, tx, id, tx.GetDialect().ForUpdateClause())
}

func (r *UserRepository) getUser(ctx context.Context, q database.Querier, id, suffix string) (*models.User, error) {
	query := `
		SELECT id, display_name, current_level, current_xp, total_xp, attributes, completed_chapters, created_at, updated_at
		FROM users
		WHERE id = ?` + suffix
	user := &models.User{}
	var attributes, chapters string
	err := q.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.DisplayName,
		&user.CurrentLevel,
		&user.CurrentXP,
		&user.TotalXP,
		&attributes,
		&chapters,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if err := decodeJSON(attributes, &user.Attributes); err != nil {
		return nil, fmt.Errorf("failed to decode attributes for user %s: %w", id, err)
	}
	if err := decodeJSON(chapters, &user.CompletedChapters); err != nil {
		return nil, fmt.Errorf("failed to decode completed chapters for user %s: %w", id, err)
	}
	if user.Attributes == nil {
		user.Attributes = map[string]int{}
	}
	if user.CompletedChapters == nil {
		user.CompletedChapters = []int{}
	}

	return user, nil
}

// UpdateProgression writes the XP snapshot, attribute totals and completed
// chapters of user. Read the row with GetUserForUpdate in the same
// transaction first.
func (r *UserRepository) UpdateProgression(ctx context.Context, q database.Querier, user *models.User) error {
	chapters, err := json.Marshal(user.CompletedChapters)
	if err != nil {
		return fmt.Errorf("failed to encode completed chapters: %w", err)
	}
	attributes, err := json.Marshal(nonNilGains(user.Attributes))
	if err != nil {
		return fmt.Errorf("failed to encode attributes: %w", err)
	}
	user.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE users
		SET current_level = ?, current_xp = ?, total_xp = ?, attributes = ?, completed_chapters = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.querier(q).ExecContext(ctx, query,
		user.CurrentLevel, user.CurrentXP, user.TotalXP, string(attributes), string(chapters), user.UpdatedAt, user.ID)
	if err != nil {
		return fmt.Errorf("failed to update user progression: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return apperr.New(apperr.NotFound, "UpdateProgression", "user %s not found", user.ID)
	}
	return nil
}

// ListUsers returns every user ordered by id
func (r *UserRepository) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	users := make([]models.User, 0, len(ids))
	for _, id := range ids {
		user, err := r.GetUser(ctx, nil, id)
		if err != nil {
			return nil, err
		}
		if user != nil {
			users = append(users, *user)
		}
	}
	return users, nil
}

// RestoreUser inserts a user row with its full snapshot, as read from a backup
func (r *UserRepository) RestoreUser(ctx context.Context, q database.Querier, user *models.User) error {
	attributes, err := json.Marshal(nonNilGains(user.Attributes))
	if err != nil {
		return fmt.Errorf("failed to encode attributes: %w", err)
	}
	chapters := user.CompletedChapters
	if chapters == nil {
		chapters = []int{}
	}
	encodedChapters, err := json.Marshal(chapters)
	if err != nil {
		return fmt.Errorf("failed to encode completed chapters: %w", err)
	}

	query := `
		INSERT INTO users (id, display_name, current_level, current_xp, total_xp, attributes, completed_chapters, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.querier(q).ExecContext(ctx, query,
		user.ID, user.DisplayName, user.CurrentLevel, user.CurrentXP, user.TotalXP,
		string(attributes), string(encodedChapters), user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to restore user %s: %w", user.ID, err)
	}
	return nil
}

// DeleteUser removes a user; cascades remove its ledger and progress rows
func (r *UserRepository) DeleteUser(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

func decodeJSON(raw string, v interface{}) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), v)
}
