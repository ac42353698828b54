package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"redmansion/internal/catalog"
	"redmansion/internal/database"
	"redmansion/internal/models"
	"redmansion/internal/repository"
	"redmansion/internal/security"
)

var testNow = time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)

const (
	testToday     = "2026-10-17"
	testYesterday = "2026-10-16"
)

type staticSource []models.Task

func (s staticSource) Load(ctx context.Context) ([]models.Task, error) { return s, nil }

type fixedEvaluator struct {
	score int
	calls int
}

func (e *fixedEvaluator) Evaluate(ctx context.Context, task *models.Task, response string) Evaluation {
	e.calls++
	return Evaluation{Score: e.score, IsRelevant: e.score > IrrelevantScore, Feedback: "ok", Path: "test"}
}

type harness struct {
	db        *database.DB
	users     *repository.UserRepository
	ledgerDB  *repository.LedgerRepository
	progress  *repository.ProgressRepository
	ledger    *LedgerService
	evaluator *fixedEvaluator
	svc       *ProgressService
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	tasks    []models.Task
	opts     ProgressOptions
	store    func(ProgressStore) ProgressStore
	cooldown security.Cooldown
	guests   []string
	policy   RewardPolicy
}

func withTasks(tasks ...models.Task) harnessOption {
	return func(c *harnessConfig) { c.tasks = tasks }
}

func withOptions(opts ProgressOptions) harnessOption {
	return func(c *harnessConfig) { c.opts = opts }
}

func withStore(wrap func(ProgressStore) ProgressStore) harnessOption {
	return func(c *harnessConfig) { c.store = wrap }
}

func withCooldown(cd security.Cooldown) harnessOption {
	return func(c *harnessConfig) { c.cooldown = cd }
}

func withGuests(ids ...string) harnessOption {
	return func(c *harnessConfig) { c.guests = ids }
}

func withStandardPolicy(p RewardPolicy) harnessOption {
	return func(c *harnessConfig) { c.policy = p }
}

func task(id string, taskType models.TaskType, sourceID string, baseXP int) models.Task {
	var content models.TaskContent
	switch taskType {
	case models.TaskCharacterInsight:
		content = models.CharacterContent{Character: "王熙鳳", Prompt: "分析"}
	case models.TaskCulturalExploration:
		content = models.CultureContent{Topic: "茶", Question: "問"}
	case models.TaskCommentaryDecode:
		content = models.CommentaryContent{OriginalText: "原", Commentary: "批"}
	default:
		content = models.ReadingContent{Passage: "原文", Question: "問"}
	}
	return models.Task{
		ID:               id,
		Type:             taskType,
		Title:            id,
		BaseXP:           baseXP,
		SourceID:         sourceID,
		Content:          content,
		AttributeRewards: map[string]int{"literaryTalent": 1},
	}
}

func defaultTasks() []models.Task {
	return []models.Task{
		task("t-reading", models.TaskMorningReading, "chapter-1", 50),
		task("t-character", models.TaskCharacterInsight, "character-xifeng", 50),
		task("t-culture", models.TaskCulturalExploration, "culture-tea", 50),
	}
}

func newHarness(t *testing.T, options ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{
		tasks: defaultTasks(),
		opts:  ProgressOptions{TasksPerDay: 3, Location: time.UTC},
	}
	for _, o := range options {
		o(&cfg)
	}

	db, err := database.Initialize(filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := &harness{
		db:        db,
		users:     repository.NewUserRepository(db),
		ledgerDB:  repository.NewLedgerRepository(db),
		progress:  repository.NewProgressRepository(db),
		evaluator: &fixedEvaluator{score: 70},
	}
	h.ledger = NewLedgerService(db, h.users, h.ledgerDB, nil)
	h.ledger.now = func() time.Time { return testNow }

	var store ProgressStore = h.progress
	if cfg.store != nil {
		store = cfg.store(store)
	}
	standard := cfg.policy
	if standard == nil {
		standard = NewStandardPolicy(h.ledger)
	}
	policies := NewPolicySet(standard, &FixedStatePolicy{TotalXP: 120}, cfg.guests)
	cat := catalog.New(staticSource(cfg.tasks), time.Minute, nil)

	h.svc = NewProgressService(store, cat, h.evaluator, h.ledger, h.users, policies, cfg.cooldown, cfg.opts, nil)
	h.svc.now = func() time.Time { return testNow }
	return h
}

func (h *harness) createUser(t *testing.T, id string) {
	t.Helper()
	_, err := h.users.CreateUser(context.Background(), id, id)
	require.NoError(t, err)
}

func (h *harness) user(t *testing.T, id string) *models.User {
	t.Helper()
	u, err := h.users.GetUser(context.Background(), nil, id)
	require.NoError(t, err)
	require.NotNil(t, u)
	return u
}

// seedDay stores a fully closed (or open) progress row for a past date
func (h *harness) seedDay(t *testing.T, userID, date string, streak int, closed bool) {
	t.Helper()
	status := models.StatusInProgress
	if closed {
		status = models.StatusCompleted
	}
	p := &models.DailyTaskProgress{
		ID:        "seed-" + userID + "-" + date,
		UserID:    userID,
		Date:      date,
		Tasks:     []models.TaskAssignment{{TaskID: "old", Status: status}},
		Streak:    streak,
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}
	_, _, err := h.progress.Create(context.Background(), p)
	require.NoError(t, err)
}
