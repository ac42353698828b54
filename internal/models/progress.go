package models

import "time"

// TaskStatus is the state of one assignment within a day
type TaskStatus string

const (
	StatusNotStarted TaskStatus = "not_started"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusSkipped    TaskStatus = "skipped"
)

// IsTerminal reports whether no further transition is allowed
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusSkipped
}

// TaskAssignment is one task handed to a user for a given day
type TaskAssignment struct {
	TaskID         string         `json:"taskId"`
	TaskType       TaskType       `json:"taskType"`
	SourceID       string         `json:"sourceId,omitempty"`
	AssignedAt     time.Time      `json:"assignedAt"`
	Status         TaskStatus     `json:"status"`
	StartedAt      *time.Time     `json:"startedAt,omitempty"`
	CompletedAt    *time.Time     `json:"completedAt,omitempty"`
	UserResponse   string         `json:"userResponse,omitempty"`
	AIScore        *int           `json:"aiScore,omitempty"`
	XPAwarded      *int           `json:"xpAwarded,omitempty"`
	AttributeGains map[string]int `json:"attributeGains,omitempty"`
	Feedback       string         `json:"feedback,omitempty"`
}

// DailyTaskProgress is the per-(user, date) assignment state
type DailyTaskProgress struct {
	ID                  string           `json:"id"`
	UserID              string           `json:"userId"`
	Date                string           `json:"date"`
	Tasks               []TaskAssignment `json:"tasks"`
	CompletedTaskIDs    []string         `json:"completedTaskIds"`
	SkippedTaskIDs      []string         `json:"skippedTaskIds"`
	TotalXPEarned       int              `json:"totalXPEarned"`
	TotalAttributeGains map[string]int   `json:"totalAttributeGains"`
	UsedSourceIDs       []string         `json:"usedSourceIds"`
	Streak              int              `json:"streak"`
	Ephemeral           bool             `json:"ephemeral,omitempty"`
	CreatedAt           time.Time        `json:"createdAt"`
	UpdatedAt           time.Time        `json:"updatedAt"`
}

// Assignment returns a pointer to the assignment for taskID, or nil
func (p *DailyTaskProgress) Assignment(taskID string) *TaskAssignment {
	for i := range p.Tasks {
		if p.Tasks[i].TaskID == taskID {
			return &p.Tasks[i]
		}
	}
	return nil
}

// AllTerminal reports whether every assignment is completed or skipped
func (p *DailyTaskProgress) AllTerminal() bool {
	if len(p.Tasks) == 0 {
		return false
	}
	for _, a := range p.Tasks {
		if !a.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// HasCompleted checks completedTaskIds for taskID
func (p *DailyTaskProgress) HasCompleted(taskID string) bool {
	return contains(p.CompletedTaskIDs, taskID)
}

// HasUsedSource checks the anti-farming set
func (p *DailyTaskProgress) HasUsedSource(sourceID string) bool {
	return contains(p.UsedSourceIDs, sourceID)
}

// AddUsedSource appends to the anti-farming set; the set only grows
func (p *DailyTaskProgress) AddUsedSource(sourceID string) {
	if sourceID == "" || p.HasUsedSource(sourceID) {
		return
	}
	p.UsedSourceIDs = append(p.UsedSourceIDs, sourceID)
}

// AddAttributeGains merges gains into the day's totals
func (p *DailyTaskProgress) AddAttributeGains(gains map[string]int) {
	if len(gains) == 0 {
		return
	}
	if p.TotalAttributeGains == nil {
		p.TotalAttributeGains = make(map[string]int, len(gains))
	}
	for name, points := range gains {
		p.TotalAttributeGains[name] += points
	}
}

func contains(items []string, s string) bool {
	for _, item := range items {
		if item == s {
			return true
		}
	}
	return false
}
