package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"redmansion/internal/apperr"
	"redmansion/internal/database"
	"redmansion/internal/logger"
	"redmansion/internal/metrics"
	"redmansion/internal/models"
	"redmansion/internal/repository"
)

// chapterSourcePattern marks sourceIds that also maintain users.completed_chapters
var chapterSourcePattern = regexp.MustCompile(`^chapter-(\d+)$`)

// errDuplicateGrant aborts the award transaction when a unique constraint fires
var errDuplicateGrant = errors.New("duplicate grant")

// AwardRequest is the input of LedgerService.AwardXP. Attributes are merged
// into the user's attribute points in the same transaction as the XP.
type AwardRequest struct {
	UserID     string
	Amount     int
	Reason     string
	Source     models.XPSource
	SourceID   string
	Attributes map[string]int
}

// AwardResult reports the outcome of an award and the user's totals after it
type AwardResult struct {
	Success             bool     `json:"success"`
	IsDuplicate         bool     `json:"isDuplicate"`
	AwardedXP           int      `json:"awardedXP"`
	NewTotalXP          int      `json:"newTotalXP"`
	NewCurrentXP        int      `json:"newCurrentXP"`
	NewLevel            int      `json:"newLevel"`
	LeveledUp           bool     `json:"leveledUp"`
	FromLevel           int      `json:"fromLevel,omitempty"`
	UnlockedContent     []string `json:"unlockedContent,omitempty"`
	UnlockedPermissions []string `json:"unlockedPermissions,omitempty"`
}

// LedgerService awards XP exactly once per (user, sourceId) and maintains
// the level snapshot on the user row
type LedgerService struct {
	db     *database.DB
	users  *repository.UserRepository
	ledger *repository.LedgerRepository
	logger *logger.Logger
	now    func() time.Time
}

// NewLedgerService creates a new ledger service
func NewLedgerService(db *database.DB, users *repository.UserRepository, ledger *repository.LedgerRepository, log *logger.Logger) *LedgerService {
	if log == nil {
		log = logger.Nop()
	}
	return &LedgerService{
		db:     db,
		users:  users,
		ledger: ledger,
		logger: log.With("service", "LedgerService"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// AwardXP grants amount XP to a user for sourceId. The user row is read
// under a row lock, then the lock row is inserted; a unique violation on it
// (or on the transaction row) is reported as a duplicate and leaves nothing
// written.
func (s *LedgerService) AwardXP(ctx context.Context, req AwardRequest) (*AwardResult, error) {
	const op = "AwardXP"

	req.UserID = strings.TrimSpace(req.UserID)
	req.SourceID = strings.TrimSpace(req.SourceID)
	switch {
	case req.UserID == "":
		return nil, apperr.New(apperr.InvalidArgument, op, "userId is required")
	case req.SourceID == "":
		return nil, apperr.New(apperr.InvalidArgument, op, "sourceId is required")
	case req.Amount < 0:
		return nil, apperr.New(apperr.InvalidArgument, op, "amount must be non-negative, got %d", req.Amount)
	}

	var result *AwardResult
	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		user, err := s.users.GetUserForUpdate(ctx, tx, req.UserID)
		if err != nil {
			return apperr.E(apperr.PersistenceFailure, op, err)
		}
		if user == nil {
			return apperr.New(apperr.NotFound, op, "user %s not found", req.UserID)
		}

		now := s.now()
		lock := &models.XPLock{ID: uuid.NewString(), UserID: req.UserID, SourceID: req.SourceID, CreatedAt: now}
		if err := s.ledger.InsertLock(ctx, tx, lock); err != nil {
			if s.db.IsUniqueViolation(err) {
				return errDuplicateGrant
			}
			return apperr.E(apperr.PersistenceFailure, op, fmt.Errorf("insert lock: %w", err))
		}

		changed := len(req.Attributes) > 0
		if chapter, ok := ParseChapterSource(req.SourceID); ok {
			if user.HasCompletedChapter(chapter) {
				return errDuplicateGrant
			}
			user.AddCompletedChapter(chapter)
			changed = true
		}
		user.AddAttributePoints(req.Attributes)

		if req.Amount == 0 {
			if changed {
				if err := s.users.UpdateProgression(ctx, tx, user); err != nil {
					return apperr.E(apperr.PersistenceFailure, op, err)
				}
			}
			result = snapshot(user)
			return nil
		}

		fromLevel := user.CurrentLevel
		user.TotalXP += req.Amount
		user.CurrentLevel = LevelForXP(user.TotalXP)
		if user.CurrentLevel < fromLevel {
			// Never demote, even if the table were to change underneath a user
			user.CurrentLevel = fromLevel
		}
		user.CurrentXP = user.TotalXP - LevelThreshold(user.CurrentLevel)
		if err := s.users.UpdateProgression(ctx, tx, user); err != nil {
			return apperr.E(apperr.PersistenceFailure, op, err)
		}

		txn := &models.XPTransaction{
			ID:        uuid.NewString(),
			UserID:    req.UserID,
			Amount:    req.Amount,
			Reason:    req.Reason,
			Source:    req.Source,
			SourceID:  req.SourceID,
			CreatedAt: now,
		}
		if err := s.ledger.InsertTransaction(ctx, tx, txn); err != nil {
			if s.db.IsUniqueViolation(err) {
				return errDuplicateGrant
			}
			return apperr.E(apperr.PersistenceFailure, op, fmt.Errorf("insert transaction: %w", err))
		}

		result = snapshot(user)
		result.AwardedXP = req.Amount
		if user.CurrentLevel > fromLevel {
			content, permissions := CumulativeUnlocks(user.CurrentLevel)
			rec := &models.LevelUpRecord{
				ID:                  uuid.NewString(),
				UserID:              req.UserID,
				FromLevel:           fromLevel,
				ToLevel:             user.CurrentLevel,
				UnlockedContent:     content,
				UnlockedPermissions: permissions,
				CreatedAt:           now,
			}
			if err := s.ledger.InsertLevelUp(ctx, tx, rec); err != nil {
				return apperr.E(apperr.PersistenceFailure, op, fmt.Errorf("insert level up: %w", err))
			}
			result.LeveledUp = true
			result.FromLevel = fromLevel
			result.UnlockedContent = content
			result.UnlockedPermissions = permissions
		}
		return nil
	})

	switch {
	case errors.Is(err, errDuplicateGrant):
		metrics.AwardsTotal.WithLabelValues("duplicate").Inc()
		s.logger.Info("Duplicate XP award ignored", "user_id", req.UserID, "source_id", req.SourceID)
		return s.duplicateResult(ctx, req.UserID, req.SourceID)
	case err != nil:
		metrics.AwardsTotal.WithLabelValues("error").Inc()
		if apperr.KindOf(err) == apperr.Unknown {
			err = apperr.E(apperr.PersistenceFailure, op, err)
		}
		return nil, err
	}

	if req.Amount == 0 {
		metrics.AwardsTotal.WithLabelValues("zero").Inc()
	} else {
		metrics.AwardsTotal.WithLabelValues("awarded").Inc()
		metrics.XPAwarded.WithLabelValues(string(req.Source)).Add(float64(req.Amount))
	}
	if result.LeveledUp {
		metrics.LevelUpsTotal.Inc()
		s.logger.Info("User leveled up", "user_id", req.UserID, "from", result.FromLevel, "to", result.NewLevel)
	}
	s.logger.Debug("XP awarded", "user_id", req.UserID, "source_id", req.SourceID, "amount", req.Amount, "total_xp", result.NewTotalXP)
	return result, nil
}

// duplicateResult reports the user's current totals and, in AwardedXP, what
// the earlier grant for sourceID paid out (0 for lock-only grants)
func (s *LedgerService) duplicateResult(ctx context.Context, userID, sourceID string) (*AwardResult, error) {
	user, err := s.users.GetUser(ctx, nil, userID)
	if err != nil {
		return nil, apperr.E(apperr.PersistenceFailure, "AwardXP", err)
	}
	if user == nil {
		return nil, apperr.New(apperr.NotFound, "AwardXP", "user %s not found", userID)
	}
	prior, err := s.ledger.GetTransactionBySource(ctx, userID, sourceID)
	if err != nil {
		return nil, apperr.E(apperr.PersistenceFailure, "AwardXP", err)
	}
	result := snapshot(user)
	result.Success = false
	result.IsDuplicate = true
	if prior != nil {
		result.AwardedXP = prior.Amount
	}
	return result, nil
}

func snapshot(user *models.User) *AwardResult {
	return &AwardResult{
		Success:      true,
		NewTotalXP:   user.TotalXP,
		NewCurrentXP: user.CurrentXP,
		NewLevel:     user.CurrentLevel,
	}
}

// ParseChapterSource extracts N from a "chapter-N" sourceId
func ParseChapterSource(sourceID string) (int, bool) {
	m := chapterSourcePattern.FindStringSubmatch(sourceID)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// IsChapterCompleted reports whether a chapter reward was already granted to the user
func (s *LedgerService) IsChapterCompleted(ctx context.Context, userID string, chapter int) (bool, error) {
	user, err := s.getUser(ctx, "IsChapterCompleted", userID)
	if err != nil {
		return false, err
	}
	return user.HasCompletedChapter(chapter), nil
}

// GetUser returns the user or a NotFound error
func (s *LedgerService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	return s.getUser(ctx, "GetUser", userID)
}

// GetLevelInfo summarises the user's level, progress to the next level and unlocks
func (s *LedgerService) GetLevelInfo(ctx context.Context, userID string) (*models.LevelInfo, error) {
	user, err := s.getUser(ctx, "GetLevelInfo", userID)
	if err != nil {
		return nil, err
	}
	info := BuildLevelInfo(user)
	return &info, nil
}

// ListTransactions returns the user's newest transactions
func (s *LedgerService) ListTransactions(ctx context.Context, userID string, limit int) ([]models.XPTransaction, error) {
	txns, err := s.ledger.ListTransactions(ctx, userID, limit)
	if err != nil {
		return nil, apperr.E(apperr.PersistenceFailure, "ListTransactions", err)
	}
	return txns, nil
}

// ListLevelUps returns the user's level-up history
func (s *LedgerService) ListLevelUps(ctx context.Context, userID string) ([]models.LevelUpRecord, error) {
	records, err := s.ledger.ListLevelUps(ctx, userID)
	if err != nil {
		return nil, apperr.E(apperr.PersistenceFailure, "ListLevelUps", err)
	}
	return records, nil
}

// PurgeExpiredLocks removes locks older than retention. Transactions keep
// their own unique constraint, so rewarded sources stay deduplicated.
func (s *LedgerService) PurgeExpiredLocks(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, apperr.New(apperr.InvalidArgument, "PurgeExpiredLocks", "retention must be positive")
	}
	n, err := s.ledger.PurgeLocksBefore(ctx, s.now().Add(-retention))
	if err != nil {
		return 0, apperr.E(apperr.PersistenceFailure, "PurgeExpiredLocks", err)
	}
	s.logger.Info("Purged expired XP locks", "count", n, "retention", retention.String())
	return n, nil
}

func (s *LedgerService) getUser(ctx context.Context, op, userID string) (*models.User, error) {
	user, err := s.users.GetUser(ctx, nil, userID)
	if err != nil {
		return nil, apperr.E(apperr.PersistenceFailure, op, err)
	}
	if user == nil {
		return nil, apperr.New(apperr.NotFound, op, "user %s not found", userID)
	}
	return user, nil
}
