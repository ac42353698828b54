package models

import "time"

// XPSource tags where a reward came from
type XPSource string

const (
	SourceDailyTask XPSource = "daily_task"
	SourceReading   XPSource = "reading"
	SourceNote      XPSource = "note"
	SourceCommunity XPSource = "community"
	SourceAdmin     XPSource = "admin"
)

// XPTransaction is an immutable ledger entry. At most one exists per (UserID, SourceID).
type XPTransaction struct {
	ID        string    `json:"transactionId"`
	UserID    string    `json:"userId"`
	Amount    int       `json:"amount"`
	Reason    string    `json:"reason"`
	Source    XPSource  `json:"source"`
	SourceID  string    `json:"sourceId"`
	CreatedAt time.Time `json:"timestamp"`
}

// XPLock marks a (UserID, SourceID) pair as processed
type XPLock struct {
	ID        string
	UserID    string
	SourceID  string
	CreatedAt time.Time
}

// LevelUpRecord is written when an award crosses a level threshold
type LevelUpRecord struct {
	ID                  string    `json:"levelUpId"`
	UserID              string    `json:"userId"`
	FromLevel           int       `json:"fromLevel"`
	ToLevel             int       `json:"toLevel"`
	UnlockedContent     []string  `json:"unlockedContent"`
	UnlockedPermissions []string  `json:"unlockedPermissions"`
	CreatedAt           time.Time `json:"timestamp"`
}
