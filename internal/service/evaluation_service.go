package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"redmansion/internal/ai"
	"redmansion/internal/apperr"
	"redmansion/internal/logger"
	"redmansion/internal/metrics"
	"redmansion/internal/models"
)

const (
	// DefaultGraderTimeout bounds each call to the external grader
	DefaultGraderTimeout = 15 * time.Second

	// IrrelevantScore is given to degenerate and off-topic answers
	IrrelevantScore = 20

	minMeaningfulRunes = 10
	repeatedRuneLimit  = 10
)

// Scoring paths, also used as metric labels
const (
	PathShortcut = "shortcut"
	PathAI       = "ai"
	PathFallback = "fallback"
)

const irrelevantFeedback = "回答與題目關聯不足，請重新閱讀原文後，針對問題寫下你的想法。"

// domainKeywords decides whether a fallback-scored answer is on topic at all
var domainKeywords = []string{
	"紅樓", "石頭記", "曹雪芹", "脂硯", "賈", "寶玉", "黛玉", "寶釵", "熙鳳", "鳳姐", "湘雲", "探春",
	"迎春", "惜春", "元春", "妙玉", "晴雯", "襲人", "平兒", "劉姥姥", "甄士隱", "林", "薛", "王夫人",
	"大觀園", "榮國府", "寧國府", "太虛幻境", "判詞", "詩", "詞", "夢", "作者", "人物", "性格",
	"命運", "情節", "象徵", "伏筆", "批語", "文化", "禮", "茶", "家族", "興衰",
}

var punctuation = "，。！？；：、「」,.!?;:"

// Evaluation is the outcome of scoring one answer
type Evaluation struct {
	Score      int    `json:"score"`
	IsRelevant bool   `json:"isRelevant"`
	Feedback   string `json:"feedback"`
	Path       string `json:"-"`
}

// EvaluationService scores free-text answers. The AI grader is optional; any
// grader error or deadline falls back to deterministic heuristics.
type EvaluationService struct {
	grader  ai.Grader
	timeout time.Duration
	logger  *logger.Logger
}

// NewEvaluationService creates an evaluation service. grader may be nil.
func NewEvaluationService(grader ai.Grader, timeout time.Duration, log *logger.Logger) *EvaluationService {
	if timeout <= 0 {
		timeout = DefaultGraderTimeout
	}
	if log == nil {
		log = logger.Nop()
	}
	return &EvaluationService{
		grader:  grader,
		timeout: timeout,
		logger:  log.With("service", "EvaluationService"),
	}
}

// Evaluate scores response against task and writes feedback for the score
func (s *EvaluationService) Evaluate(ctx context.Context, task *models.Task, response string) Evaluation {
	eval := s.Score(ctx, task, response)
	eval.Feedback = s.Feedback(ctx, task, response, eval.Score)
	return eval
}

// Score returns a 0-100 score. Degenerate input never reaches the grader.
func (s *EvaluationService) Score(ctx context.Context, task *models.Task, response string) Evaluation {
	start := time.Now()
	answer := strings.TrimSpace(response)

	if IsDegenerate(answer) {
		s.observe(PathShortcut, start)
		return Evaluation{Score: IrrelevantScore, Path: PathShortcut}
	}

	if s.grader != nil {
		grade, err := s.grade(ctx, task, answer)
		if err == nil {
			score := clampScore(grade.Score)
			if !grade.IsRelevant && score > IrrelevantScore {
				score = IrrelevantScore
			}
			s.observe(PathAI, start)
			return Evaluation{Score: score, IsRelevant: grade.IsRelevant, Path: PathAI}
		}
		s.logger.Warn("AI grading failed, using fallback scoring",
			"task_id", task.ID, "grader", s.grader.Name(), "kind", apperr.KindOf(err).String(), "error", err)
	}

	score := FallbackScore(answer)
	s.observe(PathFallback, start)
	return Evaluation{Score: score, IsRelevant: score > IrrelevantScore, Path: PathFallback}
}

// Feedback writes a comment for an answer already scored. Irrelevant scores
// get a fixed message without calling the grader.
func (s *EvaluationService) Feedback(ctx context.Context, task *models.Task, response string, score int) string {
	if score <= IrrelevantScore {
		return irrelevantFeedback
	}
	if s.grader != nil {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		req := BuildGradeRequest(task, strings.TrimSpace(response))
		text, err := s.grader.Feedback(callCtx, req, score)
		if err == nil {
			return text
		}
		s.logger.Warn("AI feedback failed, using template", "task_id", task.ID, "error", err)
	}
	return templateFeedback(score)
}

func (s *EvaluationService) grade(ctx context.Context, task *models.Task, answer string) (*ai.Grade, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	grade, err := s.grader.Grade(callCtx, BuildGradeRequest(task, answer))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, apperr.E(apperr.UpstreamTimeout, "Grade", err)
		}
		return nil, err
	}
	return grade, nil
}

func (s *EvaluationService) observe(path string, start time.Time) {
	metrics.EvaluationsTotal.WithLabelValues(path).Inc()
	metrics.EvaluationDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
}

// BuildGradeRequest extracts passage, question and keywords from the task's content variant
func BuildGradeRequest(task *models.Task, answer string) ai.GradeRequest {
	req := ai.GradeRequest{
		TaskType:   string(task.Type),
		UserAnswer: answer,
		Difficulty: string(task.Difficulty),
		Rubric:     task.Criteria.Rubric,
	}

	switch c := task.Content.(type) {
	case models.ReadingContent:
		req.Passage = c.Passage
		req.Question = c.Question
		req.ExpectedKeywords = c.ExpectedKeywords
	case models.CharacterContent:
		req.Passage = "人物：" + c.Character
		req.Question = c.Prompt
		req.ExpectedKeywords = append([]string{c.Character}, c.Traits...)
	case models.CultureContent:
		req.Passage = c.Topic
		if c.Explanation != "" {
			req.Passage += "\n" + c.Explanation
		}
		req.Question = c.Question
		req.ExpectedKeywords = c.Keywords
		if c.CorrectAnswer != "" {
			req.ExpectedKeywords = append([]string{c.CorrectAnswer}, c.Keywords...)
		}
	case models.CommentaryContent:
		req.Passage = c.OriginalText + "\n批語：" + c.Commentary
		req.Question = "請解讀這則批語的含義"
		if c.Hint != "" {
			req.Question += "（提示：" + c.Hint + "）"
		}
		req.ExpectedKeywords = c.Keywords
	default:
		req.Passage = task.Description
		req.Question = task.Title
	}
	return req
}

// IsDegenerate reports answers that cannot be meaningful: empty, one
// character repeated, digits only, or shorter than ten characters
func IsDegenerate(answer string) bool {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return true
	}
	n := utf8.RuneCountInString(answer)
	if n < minMeaningfulRunes {
		return true
	}
	if n >= repeatedRuneLimit && isSingleRuneRepeated(answer) {
		return true
	}
	return isDigitsOnly(answer)
}

// FallbackScore scores an answer without the grader
func FallbackScore(answer string) int {
	answer = strings.TrimSpace(answer)
	if !containsAny(answer, domainKeywords) {
		return IrrelevantScore
	}

	n := utf8.RuneCountInString(answer)
	switch {
	case n < 30:
		return IrrelevantScore
	case n < 200:
		return 70
	case strings.ContainsAny(answer, punctuation):
		return 80
	default:
		return 70
	}
}

func templateFeedback(score int) string {
	switch {
	case score >= 85:
		return "非常出色！你的見解深入且緊扣原文，展現了對作品的細膩理解。"
	case score >= 70:
		return "回答不錯，抓住了重點。可以再引用原文細節，讓論點更有說服力。"
	case score >= 60:
		return "回答大致切題，但分析稍嫌簡略，試著多談談人物動機或情節意義。"
	default:
		return "還需要加油！建議重讀相關段落，從人物、情節或象徵入手思考。"
	}
}

func isSingleRuneRepeated(s string) bool {
	first, _ := utf8.DecodeRuneInString(s)
	for _, r := range s {
		if r != first {
			return false
		}
	}
	return true
}

func isDigitsOnly(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func clampScore(score int) int {
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	default:
		return score
	}
}
