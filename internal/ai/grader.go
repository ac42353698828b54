// Package ai is the boundary to the external text grader. A Grader scores a
// free-text answer and writes feedback; the service layer bounds every call
// with a deadline and falls back to local heuristics on any error.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoProvider is returned by NewGrader when grading is disabled
var ErrNoProvider = errors.New("ai: no grader configured")

// GradeRequest is what the grader sees of a task and an answer
type GradeRequest struct {
	TaskType         string   `json:"taskType"`
	Passage          string   `json:"passage"`
	Question         string   `json:"question"`
	UserAnswer       string   `json:"userAnswer"`
	ExpectedKeywords []string `json:"expectedKeywords"`
	Difficulty       string   `json:"difficulty"`
	Rubric           []string `json:"rubric,omitempty"`
}

// Grade is the grader's verdict
type Grade struct {
	Score      int    `json:"score"`
	IsRelevant bool   `json:"isRelevant"`
	Feedback   string `json:"feedback"`
}

// Grader scores answers and writes feedback for a known score
type Grader interface {
	Grade(ctx context.Context, req GradeRequest) (*Grade, error)
	Feedback(ctx context.Context, req GradeRequest, score int) (string, error)
	Name() string
}

// Completer sends one prompt to a language model and returns the text reply
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// LLMGrader implements Grader on top of any Completer
type LLMGrader struct {
	name      string
	completer Completer
}

// NewLLMGrader wraps a completer as a grader
func NewLLMGrader(name string, c Completer) *LLMGrader {
	return &LLMGrader{name: name, completer: c}
}

// Name identifies the provider in logs
func (g *LLMGrader) Name() string { return g.name }

// Grade asks the model for a JSON verdict and validates it
func (g *LLMGrader) Grade(ctx context.Context, req GradeRequest) (*Grade, error) {
	reply, err := g.completer.Complete(ctx, gradingSystemPrompt, buildGradingPrompt(req))
	if err != nil {
		return nil, fmt.Errorf("%s grade: %w", g.name, err)
	}
	grade, err := ParseGrade(reply)
	if err != nil {
		return nil, fmt.Errorf("%s grade: %w", g.name, err)
	}
	return grade, nil
}

// Feedback asks the model for a short comment on an already scored answer
func (g *LLMGrader) Feedback(ctx context.Context, req GradeRequest, score int) (string, error) {
	reply, err := g.completer.Complete(ctx, feedbackSystemPrompt, buildFeedbackPrompt(req, score))
	if err != nil {
		return "", fmt.Errorf("%s feedback: %w", g.name, err)
	}
	text := strings.TrimSpace(stripFences(reply))
	if text == "" {
		return "", fmt.Errorf("%s feedback: empty reply", g.name)
	}
	return text, nil
}

// ParseGrade extracts the JSON verdict from a model reply. Replies wrapped in
// code fences or surrounded by prose are accepted.
func ParseGrade(reply string) (*Grade, error) {
	body := stripFences(reply)
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in reply")
	}

	var grade Grade
	if err := json.Unmarshal([]byte(body[start:end+1]), &grade); err != nil {
		return nil, fmt.Errorf("invalid grade JSON: %w", err)
	}
	if grade.Score < 0 || grade.Score > 100 {
		return nil, fmt.Errorf("score %d out of range", grade.Score)
	}
	return &grade, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}
