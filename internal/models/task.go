package models

// TaskType identifies the kind of daily task and therefore its content variant
type TaskType string

const (
	TaskMorningReading      TaskType = "morning_reading"
	TaskCharacterInsight    TaskType = "character_insight"
	TaskCulturalExploration TaskType = "cultural_exploration"
	TaskCommentaryDecode    TaskType = "commentary_decode"
)

// Difficulty of a task
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Task is an immutable definition from the question bank
type Task struct {
	ID               string          `json:"id"`
	Type             TaskType        `json:"type"`
	Difficulty       Difficulty      `json:"difficulty"`
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	BaseXP           int             `json:"baseXP"`
	Content          TaskContent     `json:"content"`
	SourceID         string          `json:"sourceId,omitempty"`
	Criteria         GradingCriteria `json:"gradingCriteria"`
	AttributeRewards map[string]int  `json:"attributeRewards,omitempty"`
}

// GradingCriteria is passed to the grader alongside the content
type GradingCriteria struct {
	MinLength int      `json:"minLength,omitempty"`
	Rubric    []string `json:"rubric,omitempty"`
}

// TaskContent is the closed set of per-type payloads. Each variant reports
// the task type it belongs to.
type TaskContent interface {
	TaskType() TaskType
}

// ReadingContent is a passage with a comprehension question
type ReadingContent struct {
	Chapter          int      `json:"chapter" yaml:"chapter"`
	Passage          string   `json:"passage" yaml:"passage"`
	Question         string   `json:"question" yaml:"question"`
	ExpectedKeywords []string `json:"expectedKeywords" yaml:"expectedKeywords"`
}

func (ReadingContent) TaskType() TaskType { return TaskMorningReading }

// CharacterContent asks for an analysis of one character
type CharacterContent struct {
	Character string   `json:"character" yaml:"character"`
	Chapter   int      `json:"chapter,omitempty" yaml:"chapter"`
	Prompt    string   `json:"prompt" yaml:"prompt"`
	Traits    []string `json:"traits" yaml:"traits"`
}

func (CharacterContent) TaskType() TaskType { return TaskCharacterInsight }

// CultureContent is a cultural knowledge quiz item
type CultureContent struct {
	Topic         string   `json:"topic" yaml:"topic"`
	Question      string   `json:"question" yaml:"question"`
	Options       []string `json:"options,omitempty" yaml:"options"`
	CorrectAnswer string   `json:"correctAnswer,omitempty" yaml:"correctAnswer"`
	Explanation   string   `json:"explanation" yaml:"explanation"`
	Keywords      []string `json:"keywords" yaml:"keywords"`
}

func (CultureContent) TaskType() TaskType { return TaskCulturalExploration }

// CommentaryContent asks the reader to interpret a classical commentary
type CommentaryContent struct {
	OriginalText string   `json:"originalText" yaml:"originalText"`
	Commentary   string   `json:"commentary" yaml:"commentary"`
	Hint         string   `json:"hint,omitempty" yaml:"hint"`
	Keywords     []string `json:"keywords" yaml:"keywords"`
}

func (CommentaryContent) TaskType() TaskType { return TaskCommentaryDecode }
