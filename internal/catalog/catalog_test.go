package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redmansion/internal/apperr"
	"redmansion/internal/models"
)

type countingSource struct {
	loads atomic.Int32
	tasks []models.Task
	err   error
	delay time.Duration
}

func (s *countingSource) Load(ctx context.Context) ([]models.Task, error) {
	s.loads.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.tasks, s.err
}

func TestEmbeddedBankParses(t *testing.T) {
	tasks, err := EmbeddedSource{}.Load(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, tasks)

	types := map[models.TaskType]bool{}
	for _, task := range tasks {
		types[task.Type] = true
		assert.Equal(t, task.Type, task.Content.TaskType(), "task %s content variant", task.ID)
		assert.Positive(t, task.BaseXP)
	}
	assert.Len(t, types, 4)
}

func TestParseTasksDecodesVariants(t *testing.T) {
	data := []byte(`
tasks:
  - id: r1
    type: morning_reading
    baseXP: 50
    sourceId: chapter-2
    gradingCriteria:
      minLength: 20
    content:
      chapter: 2
      passage: 冷子興演說榮國府
      question: 冷子興如何介紹賈府？
      expectedKeywords: [賈府, 衰敗]
  - id: c1
    type: commentary_decode
    difficulty: hard
    baseXP: 70
    content:
      originalText: 原文
      commentary: 批語
`)
	tasks, err := ParseTasks(data)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	reading, ok := tasks[0].Content.(models.ReadingContent)
	require.True(t, ok)
	assert.Equal(t, 2, reading.Chapter)
	assert.Equal(t, []string{"賈府", "衰敗"}, reading.ExpectedKeywords)
	assert.Equal(t, 20, tasks[0].Criteria.MinLength)
	assert.Equal(t, models.DifficultyMedium, tasks[0].Difficulty)

	_, ok = tasks[1].Content.(models.CommentaryContent)
	assert.True(t, ok)
}

func TestParseTasksRejectsInvalidBanks(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing id", "tasks:\n  - type: morning_reading\n    baseXP: 10\n"},
		{"unknown type", "tasks:\n  - id: x\n    type: riddle\n    baseXP: 10\n    content: {question: q}\n"},
		{"missing content", "tasks:\n  - id: x\n    type: cultural_exploration\n    baseXP: 10\n"},
		{"zero xp", "tasks:\n  - id: x\n    type: cultural_exploration\n    content: {question: q}\n"},
		{"incomplete reading", "tasks:\n  - id: x\n    type: morning_reading\n    baseXP: 10\n    content: {question: q}\n"},
		{"duplicate id", "tasks:\n  - id: x\n    type: cultural_exploration\n    baseXP: 10\n    content: {question: q}\n  - id: x\n    type: cultural_exploration\n    baseXP: 10\n    content: {question: q}\n"},
		{"not yaml", "tasks: [unclosed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTasks([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestCatalogGetTaskByID(t *testing.T) {
	c := New(EmbeddedSource{}, 0, nil)

	task, err := c.GetTaskByID(context.Background(), "reading-ch1-origin")
	require.NoError(t, err)
	assert.Equal(t, "chapter-1", task.SourceID)

	_, err = c.GetTaskByID(context.Background(), "nope")
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestCatalogCachesUntilTTL(t *testing.T) {
	src := &countingSource{tasks: []models.Task{{ID: "a", BaseXP: 10}}}
	c := New(src, time.Minute, nil)
	now := time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := c.GetTaskByID(ctx, "a")
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, src.loads.Load())

	now = now.Add(2 * time.Minute)
	_, err := c.GetTaskByID(ctx, "a")
	require.NoError(t, err)
	assert.EqualValues(t, 2, src.loads.Load())

	c.Invalidate()
	_, err = c.ListTasks(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, src.loads.Load())
}

func TestCatalogConcurrentMissesShareLoad(t *testing.T) {
	src := &countingSource{tasks: []models.Task{{ID: "a", BaseXP: 10}}, delay: 50 * time.Millisecond}
	c := New(src, time.Minute, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetTaskByID(context.Background(), "a")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, src.loads.Load())
}

func TestCatalogLoadError(t *testing.T) {
	c := New(&countingSource{err: errors.New("disk gone")}, time.Minute, nil)
	_, err := c.GetTaskByID(context.Background(), "a")
	assert.Error(t, err)
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bank.yaml")
	require.NoError(t, os.WriteFile(path, defaultBank, 0o644))

	tasks, err := NewSource(path).Load(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, tasks)

	_, err = NewSource(filepath.Join(t.TempDir(), "missing.yaml")).Load(context.Background())
	assert.Error(t, err)
}
