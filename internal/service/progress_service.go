package service

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"redmansion/internal/apperr"
	"redmansion/internal/logger"
	"redmansion/internal/metrics"
	"redmansion/internal/models"
	"redmansion/internal/security"
)

const dateLayout = "2006-01-02"

// DefaultTasksPerDay is how many tasks a daily generation assigns
const DefaultTasksPerDay = 3

// ProgressStore persists DailyTaskProgress rows
type ProgressStore interface {
	Create(ctx context.Context, p *models.DailyTaskProgress) (*models.DailyTaskProgress, bool, error)
	Get(ctx context.Context, userID, date string) (*models.DailyTaskProgress, error)
	Save(ctx context.Context, p *models.DailyTaskProgress) error
	Delete(ctx context.Context, userID string) (int64, error)
}

// TaskCatalog resolves task definitions
type TaskCatalog interface {
	GetTaskByID(ctx context.Context, id string) (*models.Task, error)
	ListTasks(ctx context.Context) ([]models.Task, error)
}

// Evaluator scores an answer and writes feedback
type Evaluator interface {
	Evaluate(ctx context.Context, task *models.Task, response string) Evaluation
}

// Accounts is the user lookup the tracker needs
type Accounts interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
	IsChapterCompleted(ctx context.Context, userID string, chapter int) (bool, error)
}

// GuestAccounts creates demo users on first use
type GuestAccounts interface {
	EnsureUser(ctx context.Context, id, displayName string) (*models.User, error)
}

// PolicyResolver selects the reward policy for a user
type PolicyResolver interface {
	For(userID string) RewardPolicy
	IsGuest(userID string) bool
}

// ProgressOptions configures the tracker
type ProgressOptions struct {
	TasksPerDay      int
	Location         *time.Location
	AllowEphemeral   bool
	EphemeralRewards bool
}

// CompletionResult is returned by SubmitCompletion
type CompletionResult struct {
	Success             bool             `json:"success"`
	TaskID              string           `json:"taskId"`
	Score               int              `json:"score"`
	Feedback            string           `json:"feedback"`
	XPAwarded           int              `json:"xpAwarded"`
	StreakBonus         int              `json:"streakBonus"`
	MultiplierPct       int              `json:"multiplierPct"`
	Message             string           `json:"message"`
	AttributeGains      map[string]int   `json:"attributeGains,omitempty"`
	IsDuplicate         bool             `json:"isDuplicate"`
	LeveledUp           bool             `json:"leveledUp"`
	NewLevel            int              `json:"newLevel"`
	FromLevel           int              `json:"fromLevel,omitempty"`
	UnlockedContent     []string         `json:"unlockedContent,omitempty"`
	UnlockedPermissions []string         `json:"unlockedPermissions,omitempty"`
	DayCompleted        bool             `json:"dayCompleted"`
	Streak              int              `json:"streak"`
	StreakMilestone     *StreakMilestone `json:"streakMilestone,omitempty"`
	Ephemeral           bool             `json:"ephemeral,omitempty"`
}

// ProgressService owns the per-user, per-day task assignment state machine
type ProgressService struct {
	store     ProgressStore
	catalog   TaskCatalog
	evaluator Evaluator
	accounts  Accounts
	guests    GuestAccounts
	policies  PolicyResolver
	cooldown  security.Cooldown
	opts      ProgressOptions
	logger    *logger.Logger
	now       func() time.Time

	// userLocks serialises state changes of one user within this process
	userLocks sync.Map
}

// NewProgressService creates the tracker
func NewProgressService(
	store ProgressStore,
	catalog TaskCatalog,
	evaluator Evaluator,
	accounts Accounts,
	guests GuestAccounts,
	policies PolicyResolver,
	cooldown security.Cooldown,
	opts ProgressOptions,
	log *logger.Logger,
) *ProgressService {
	if opts.TasksPerDay <= 0 {
		opts.TasksPerDay = DefaultTasksPerDay
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ProgressService{
		store:     store,
		catalog:   catalog,
		evaluator: evaluator,
		accounts:  accounts,
		guests:    guests,
		policies:  policies,
		cooldown:  cooldown,
		opts:      opts,
		logger:    log.With("service", "ProgressService"),
		now:       time.Now,
	}
}

// Today returns the current date in the configured timezone
func (s *ProgressService) Today() string {
	return s.now().In(s.opts.Location).Format(dateLayout)
}

func (s *ProgressService) lockUser(userID string) func() {
	v, _ := s.userLocks.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// GenerateDailyTasks assigns the day's tasks. It is idempotent: an existing
// row for (user, date) is returned unchanged.
func (s *ProgressService) GenerateDailyTasks(ctx context.Context, userID, date string) (*models.DailyTaskProgress, error) {
	const op = "GenerateDailyTasks"

	date, err := s.resolveDate(op, date)
	if err != nil {
		return nil, err
	}
	if err := s.requireUser(ctx, op, userID); err != nil {
		return nil, err
	}

	existing, err := s.store.Get(ctx, userID, date)
	if err != nil {
		return nil, apperr.E(apperr.PersistenceFailure, op, err)
	}
	if existing != nil {
		return existing, nil
	}

	tasks, err := s.catalog.ListTasks(ctx)
	if err != nil {
		return nil, apperr.E(apperr.PersistenceFailure, op, err)
	}
	if len(tasks) == 0 {
		return nil, apperr.New(apperr.NotFound, op, "task catalog is empty")
	}

	carried, err := s.carriedStreak(ctx, userID, date)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	progress := &models.DailyTaskProgress{
		ID:                  uuid.NewString(),
		UserID:              userID,
		Date:                date,
		CompletedTaskIDs:    []string{},
		SkippedTaskIDs:      []string{},
		TotalAttributeGains: map[string]int{},
		UsedSourceIDs:       []string{},
		Streak:              carried,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	for _, task := range selectTasks(tasks, s.opts.TasksPerDay, userID, date) {
		progress.Tasks = append(progress.Tasks, models.TaskAssignment{
			TaskID:     task.ID,
			TaskType:   task.Type,
			SourceID:   task.SourceID,
			AssignedAt: now,
			Status:     models.StatusNotStarted,
		})
	}

	stored, created, err := s.store.Create(ctx, progress)
	if err != nil {
		return nil, apperr.E(apperr.PersistenceFailure, op, err)
	}
	if created {
		s.logger.Info("Daily tasks generated", "user_id", userID, "date", date, "tasks", len(stored.Tasks), "streak", carried)
	}
	return stored, nil
}

// GetProgress returns the user's progress for date, or nil when none was generated
func (s *ProgressService) GetProgress(ctx context.Context, userID, date string) (*models.DailyTaskProgress, error) {
	const op = "GetProgress"
	date, err := s.resolveDate(op, date)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.New(apperr.InvalidArgument, op, "userId is required")
	}
	progress, err := s.store.Get(ctx, userID, date)
	if err != nil {
		return nil, apperr.E(apperr.PersistenceFailure, op, err)
	}
	return progress, nil
}

// StartTask moves an assignment from not_started to in_progress
func (s *ProgressService) StartTask(ctx context.Context, userID, taskID string) (*models.DailyTaskProgress, error) {
	const op = "StartTask"
	unlock := s.lockUser(userID)
	defer unlock()

	progress, assignment, err := s.loadAssignment(ctx, op, userID, taskID)
	if err != nil {
		return nil, err
	}
	switch assignment.Status {
	case models.StatusInProgress:
		return progress, nil
	case models.StatusCompleted, models.StatusSkipped:
		return nil, apperr.New(apperr.AlreadyCompleted, op, "task %s is already %s", taskID, assignment.Status)
	}

	now := s.now().UTC()
	assignment.Status = models.StatusInProgress
	assignment.StartedAt = &now
	if err := s.store.Save(ctx, progress); err != nil {
		return nil, apperr.E(apperr.PersistenceFailure, op, err)
	}
	return progress, nil
}

// SkipTask moves a non-terminal assignment to skipped. No reward is granted;
// skipping the last open task still closes the day for the streak.
func (s *ProgressService) SkipTask(ctx context.Context, userID, taskID string) (*models.DailyTaskProgress, error) {
	const op = "SkipTask"
	unlock := s.lockUser(userID)
	defer unlock()

	progress, assignment, err := s.loadAssignment(ctx, op, userID, taskID)
	if err != nil {
		return nil, err
	}
	if assignment.Status.IsTerminal() {
		return nil, apperr.New(apperr.AlreadyCompleted, op, "task %s is already %s", taskID, assignment.Status)
	}

	now := s.now().UTC()
	assignment.Status = models.StatusSkipped
	assignment.CompletedAt = &now
	progress.SkippedTaskIDs = append(progress.SkippedTaskIDs, taskID)

	if progress.AllTerminal() {
		if err := s.closeDay(ctx, progress); err != nil {
			return nil, err
		}
	}
	if err := s.persistAndVerify(ctx, op, progress, func(got *models.DailyTaskProgress) bool {
		a := got.Assignment(taskID)
		return a != nil && a.Status == models.StatusSkipped
	}); err != nil {
		return nil, err
	}
	return progress, nil
}

// ResetProgress deletes every progress row of a demo account
func (s *ProgressService) ResetProgress(ctx context.Context, userID string) (int64, error) {
	const op = "ResetProgress"
	if !s.policies.For(userID).CanReset() {
		return 0, apperr.New(apperr.Forbidden, op, "progress of user %s cannot be reset", userID)
	}
	unlock := s.lockUser(userID)
	defer unlock()

	n, err := s.store.Delete(ctx, userID)
	if err != nil {
		return 0, apperr.E(apperr.PersistenceFailure, op, err)
	}
	s.logger.Info("Progress reset", "user_id", userID, "rows", n)
	return n, nil
}

// SubmitCompletion grades an answer, awards XP through the user's reward
// policy and marks the assignment completed. Rejections before the award
// leave no side effects; a failed read-back after persisting is an error.
func (s *ProgressService) SubmitCompletion(ctx context.Context, userID, taskID, response string) (result *CompletionResult, err error) {
	const op = "SubmitCompletion"
	defer func() {
		outcome := "completed"
		switch {
		case err != nil:
			outcome = apperr.KindOf(err).String()
		case result.IsDuplicate:
			outcome = "duplicate"
		}
		metrics.CompletionsTotal.WithLabelValues(outcome).Inc()
	}()

	userID, taskID = strings.TrimSpace(userID), strings.TrimSpace(taskID)
	if userID == "" || taskID == "" {
		return nil, apperr.New(apperr.InvalidArgument, op, "userId and taskId are required")
	}

	if s.cooldown != nil {
		ok, err := s.cooldown.Allow(ctx, userID)
		if err != nil {
			return nil, apperr.E(apperr.Unknown, op, err)
		}
		if !ok {
			return nil, apperr.New(apperr.RateLimited, op, "submissions are limited; please wait before submitting again")
		}
	}

	unlock := s.lockUser(userID)
	defer unlock()

	date := s.Today()
	progress, err := s.store.Get(ctx, userID, date)
	if err != nil {
		return nil, apperr.E(apperr.PersistenceFailure, op, err)
	}
	if progress == nil {
		progress, err = s.synthesizeEphemeral(ctx, op, userID, taskID, date)
		if err != nil {
			return nil, err
		}
	}

	assignment := progress.Assignment(taskID)
	if assignment == nil {
		return nil, apperr.New(apperr.NotFound, op, "task %s is not assigned for %s", taskID, date)
	}
	if assignment.Status.IsTerminal() || progress.HasCompleted(taskID) {
		return nil, apperr.New(apperr.AlreadyCompleted, op, "task %s is already %s", taskID, assignment.Status)
	}

	task, err := s.catalog.GetTaskByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	contentSource := task.SourceID
	if contentSource == "" {
		contentSource = "task-" + task.ID
	}
	if progress.HasUsedSource(contentSource) {
		return nil, apperr.New(apperr.DuplicateContent, op, "content %s already earned a reward today", contentSource)
	}
	// A chapter the reading tracker already rewarded cannot pay again here.
	// The reverse is not enforced: daily awards use date-suffixed source ids
	// so the same content can be re-earned on another day, and they never
	// mark the chapter completed.
	if chapter, ok := ParseChapterSource(task.SourceID); ok {
		done, err := s.accounts.IsChapterCompleted(ctx, userID, chapter)
		if err != nil {
			return nil, err
		}
		if done {
			return nil, apperr.New(apperr.DuplicateContent, op, "chapter %d was already rewarded", chapter)
		}
	}

	eval := s.evaluator.Evaluate(ctx, task, response)
	reward := ComputeReward(task.BaseXP, eval.Score, progress.Streak)

	amount := reward.XP
	if progress.Ephemeral && !s.opts.EphemeralRewards {
		amount = 0
	}
	var gains map[string]int
	if reward.MultiplierPct > 0 && len(task.AttributeRewards) > 0 {
		gains = make(map[string]int, len(task.AttributeRewards))
		for name, points := range task.AttributeRewards {
			gains[name] = points
		}
	}

	// XP and attribute points commit together, so a retry never finds one
	// applied without the other
	policy := s.policies.For(userID)
	award, err := policy.Award(ctx, AwardRequest{
		UserID:     userID,
		Amount:     amount,
		Reason:     "每日任務：" + task.Title,
		Source:     models.SourceDailyTask,
		SourceID:   contentSource + "-" + date,
		Attributes: gains,
	})
	if err != nil {
		s.logger.Error("Ledger award failed", "user_id", userID, "task_id", taskID, "error", err)
		return nil, err
	}

	// On a duplicate (a retry after a failed save, or a racing request) the
	// earlier grant's amount is recorded so the day's total matches the ledger
	xpAwarded := award.AwardedXP
	if award.IsDuplicate {
		s.logger.Warn("Completion matched an existing ledger grant", "user_id", userID, "task_id", taskID,
			"source_id", contentSource, "prior_xp", award.AwardedXP)
	}

	now := s.now().UTC()
	score := eval.Score
	assignment.Status = models.StatusCompleted
	assignment.CompletedAt = &now
	assignment.UserResponse = strings.TrimSpace(response)
	assignment.AIScore = &score
	assignment.XPAwarded = &xpAwarded
	assignment.AttributeGains = gains
	assignment.Feedback = eval.Feedback
	progress.CompletedTaskIDs = append(progress.CompletedTaskIDs, taskID)
	progress.AddUsedSource(contentSource)
	progress.TotalXPEarned += xpAwarded
	progress.AddAttributeGains(gains)

	dayCompleted := progress.AllTerminal()
	if dayCompleted {
		if err := s.closeDay(ctx, progress); err != nil {
			return nil, err
		}
	}

	expectedTotal := progress.TotalXPEarned
	if err := s.persistAndVerify(ctx, op, progress, func(got *models.DailyTaskProgress) bool {
		return got.HasCompleted(taskID) && got.TotalXPEarned == expectedTotal
	}); err != nil {
		return nil, err
	}

	result = &CompletionResult{
		Success:        true,
		TaskID:         taskID,
		Score:          eval.Score,
		Feedback:       eval.Feedback,
		XPAwarded:      xpAwarded,
		StreakBonus:    reward.StreakBonus,
		MultiplierPct:  reward.MultiplierPct,
		Message:        reward.Message,
		AttributeGains: gains,
		IsDuplicate:    award.IsDuplicate,
		LeveledUp:      award.LeveledUp,
		NewLevel:       award.NewLevel,
		FromLevel:      award.FromLevel,
		DayCompleted:   dayCompleted,
		Streak:         progress.Streak,
		Ephemeral:      progress.Ephemeral,
	}
	if award.IsDuplicate {
		result.StreakBonus = 0
	}
	if award.LeveledUp {
		result.UnlockedContent = award.UnlockedContent
		result.UnlockedPermissions = award.UnlockedPermissions
	}
	if dayCompleted {
		if m, ok := MilestoneReached(progress.Streak); ok {
			result.StreakMilestone = &m
		}
	}

	s.logger.Info("Task completed", "user_id", userID, "task_id", taskID, "score", eval.Score,
		"path", eval.Path, "xp", xpAwarded, "duplicate", award.IsDuplicate, "policy", policy.Name())
	return result, nil
}

func (s *ProgressService) synthesizeEphemeral(ctx context.Context, op, userID, taskID, date string) (*models.DailyTaskProgress, error) {
	if !s.opts.AllowEphemeral {
		return nil, apperr.New(apperr.NotFound, op, "no daily tasks generated for %s", date)
	}
	if err := s.requireUser(ctx, op, userID); err != nil {
		return nil, err
	}
	task, err := s.catalog.GetTaskByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	carried, err := s.carriedStreak(ctx, userID, date)
	if err != nil {
		return nil, err
	}
	s.logger.Warn("No progress for today, synthesizing ephemeral assignment",
		"user_id", userID, "task_id", taskID, "date", date, "rewards", s.opts.EphemeralRewards)

	now := s.now().UTC()
	return &models.DailyTaskProgress{
		ID:     uuid.NewString(),
		UserID: userID,
		Date:   date,
		Tasks: []models.TaskAssignment{{
			TaskID:     task.ID,
			TaskType:   task.Type,
			SourceID:   task.SourceID,
			AssignedAt: now,
			Status:     models.StatusNotStarted,
		}},
		CompletedTaskIDs:    []string{},
		SkippedTaskIDs:      []string{},
		TotalAttributeGains: map[string]int{},
		UsedSourceIDs:       []string{},
		Streak:              carried,
		Ephemeral:           true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}, nil
}

// closeDay recomputes the streak once every assignment is terminal
func (s *ProgressService) closeDay(ctx context.Context, progress *models.DailyTaskProgress) error {
	carried, err := s.carriedStreak(ctx, progress.UserID, progress.Date)
	if err != nil {
		return err
	}
	progress.Streak = carried + 1
	return nil
}

// carriedStreak is yesterday's streak if yesterday was fully closed, else 0
func (s *ProgressService) carriedStreak(ctx context.Context, userID, date string) (int, error) {
	day, err := time.ParseInLocation(dateLayout, date, s.opts.Location)
	if err != nil {
		return 0, apperr.E(apperr.InvalidArgument, "carriedStreak", err)
	}
	yesterday, err := s.store.Get(ctx, userID, day.AddDate(0, 0, -1).Format(dateLayout))
	if err != nil {
		return 0, apperr.E(apperr.PersistenceFailure, "carriedStreak", err)
	}
	if yesterday == nil || !yesterday.AllTerminal() {
		return 0, nil
	}
	return yesterday.Streak, nil
}

func (s *ProgressService) persistAndVerify(ctx context.Context, op string, progress *models.DailyTaskProgress, check func(*models.DailyTaskProgress) bool) error {
	if err := s.store.Save(ctx, progress); err != nil {
		s.logger.Error("Failed to persist progress", "user_id", progress.UserID, "date", progress.Date, "error", err)
		return apperr.E(apperr.PersistenceFailure, op, err)
	}

	got, err := s.store.Get(ctx, progress.UserID, progress.Date)
	if err != nil {
		return apperr.E(apperr.PersistenceFailure, op, fmt.Errorf("read back progress: %w", err))
	}
	if got == nil || !check(got) {
		s.logger.Error("Progress verification failed after save", "user_id", progress.UserID, "date", progress.Date)
		return apperr.New(apperr.PersistenceFailure, op, "progress for %s was not persisted", progress.Date)
	}
	return nil
}

func (s *ProgressService) loadAssignment(ctx context.Context, op, userID, taskID string) (*models.DailyTaskProgress, *models.TaskAssignment, error) {
	date := s.Today()
	progress, err := s.store.Get(ctx, userID, date)
	if err != nil {
		return nil, nil, apperr.E(apperr.PersistenceFailure, op, err)
	}
	if progress == nil {
		return nil, nil, apperr.New(apperr.NotFound, op, "no daily tasks generated for %s", date)
	}
	assignment := progress.Assignment(taskID)
	if assignment == nil {
		return nil, nil, apperr.New(apperr.NotFound, op, "task %s is not assigned for %s", taskID, date)
	}
	return progress, assignment, nil
}

func (s *ProgressService) requireUser(ctx context.Context, op, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return apperr.New(apperr.InvalidArgument, op, "userId is required")
	}
	if s.policies.IsGuest(userID) {
		if _, err := s.guests.EnsureUser(ctx, userID, "Guest"); err != nil {
			return apperr.E(apperr.PersistenceFailure, op, err)
		}
		return nil
	}
	_, err := s.accounts.GetUser(ctx, userID)
	return err
}

func (s *ProgressService) resolveDate(op, date string) (string, error) {
	date = strings.TrimSpace(date)
	if date == "" {
		return s.Today(), nil
	}
	if _, err := time.ParseInLocation(dateLayout, date, s.opts.Location); err != nil {
		return "", apperr.New(apperr.InvalidArgument, op, "date must be YYYY-MM-DD, got %q", date)
	}
	return date, nil
}

// selectTasks picks n tasks deterministically for (userID, date), preferring
// tasks whose content sources differ
func selectTasks(tasks []models.Task, n int, userID, date string) []models.Task {
	h := fnv.New64a()
	h.Write([]byte(userID + "|" + date))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	order := rng.Perm(len(tasks))
	picked := make([]models.Task, 0, n)
	taken := make(map[int]bool, n)
	sources := make(map[string]bool, n)

	for _, i := range order {
		if len(picked) == n {
			break
		}
		src := tasks[i].SourceID
		if src != "" && sources[src] {
			continue
		}
		sources[src] = true
		taken[i] = true
		picked = append(picked, tasks[i])
	}
	for _, i := range order {
		if len(picked) == n {
			break
		}
		if !taken[i] {
			taken[i] = true
			picked = append(picked, tasks[i])
		}
	}
	return picked
}
