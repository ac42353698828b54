package catalog

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"redmansion/internal/models"
)

type bankFile struct {
	Tasks []taskDocument `yaml:"tasks"`
}

type taskDocument struct {
	ID          string            `yaml:"id"`
	Type        models.TaskType   `yaml:"type"`
	Difficulty  models.Difficulty `yaml:"difficulty"`
	Title       string            `yaml:"title"`
	Description string            `yaml:"description"`
	BaseXP      int               `yaml:"baseXP"`
	SourceID    string            `yaml:"sourceId"`
	Criteria    struct {
		MinLength int      `yaml:"minLength"`
		Rubric    []string `yaml:"rubric"`
	} `yaml:"gradingCriteria"`
	AttributeRewards map[string]int `yaml:"attributeRewards"`
	Content          yaml.Node      `yaml:"content"`
}

// ParseTasks decodes a YAML question bank. The content block of each task is
// decoded into the variant selected by its type field.
func ParseTasks(data []byte) ([]models.Task, error) {
	var bank bankFile
	if err := yaml.Unmarshal(data, &bank); err != nil {
		return nil, fmt.Errorf("failed to parse task bank: %w", err)
	}

	seen := make(map[string]bool, len(bank.Tasks))
	tasks := make([]models.Task, 0, len(bank.Tasks))
	for i, doc := range bank.Tasks {
		if doc.ID == "" {
			return nil, fmt.Errorf("task #%d: id is required", i+1)
		}
		if seen[doc.ID] {
			return nil, fmt.Errorf("task %s: duplicate id", doc.ID)
		}
		seen[doc.ID] = true
		if doc.BaseXP <= 0 {
			return nil, fmt.Errorf("task %s: baseXP must be positive", doc.ID)
		}

		content, err := decodeContent(doc.Type, &doc.Content)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", doc.ID, err)
		}

		difficulty := doc.Difficulty
		if difficulty == "" {
			difficulty = models.DifficultyMedium
		}
		tasks = append(tasks, models.Task{
			ID:          doc.ID,
			Type:        doc.Type,
			Difficulty:  difficulty,
			Title:       doc.Title,
			Description: doc.Description,
			BaseXP:      doc.BaseXP,
			Content:     content,
			SourceID:    doc.SourceID,
			Criteria: models.GradingCriteria{
				MinLength: doc.Criteria.MinLength,
				Rubric:    doc.Criteria.Rubric,
			},
			AttributeRewards: doc.AttributeRewards,
		})
	}
	return tasks, nil
}

func decodeContent(taskType models.TaskType, node *yaml.Node) (models.TaskContent, error) {
	if node.Kind == 0 {
		return nil, fmt.Errorf("content is required")
	}

	switch taskType {
	case models.TaskMorningReading:
		var c models.ReadingContent
		if err := node.Decode(&c); err != nil {
			return nil, fmt.Errorf("invalid reading content: %w", err)
		}
		if c.Passage == "" || c.Question == "" {
			return nil, fmt.Errorf("reading content needs passage and question")
		}
		return c, nil
	case models.TaskCharacterInsight:
		var c models.CharacterContent
		if err := node.Decode(&c); err != nil {
			return nil, fmt.Errorf("invalid character content: %w", err)
		}
		if c.Character == "" || c.Prompt == "" {
			return nil, fmt.Errorf("character content needs character and prompt")
		}
		return c, nil
	case models.TaskCulturalExploration:
		var c models.CultureContent
		if err := node.Decode(&c); err != nil {
			return nil, fmt.Errorf("invalid culture content: %w", err)
		}
		if c.Question == "" {
			return nil, fmt.Errorf("culture content needs a question")
		}
		return c, nil
	case models.TaskCommentaryDecode:
		var c models.CommentaryContent
		if err := node.Decode(&c); err != nil {
			return nil, fmt.Errorf("invalid commentary content: %w", err)
		}
		if c.OriginalText == "" || c.Commentary == "" {
			return nil, fmt.Errorf("commentary content needs originalText and commentary")
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown task type %q", taskType)
	}
}
