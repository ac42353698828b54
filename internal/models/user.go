package models

import (
	"sort"
	"time"
)

// User represents a reader and the XP/level snapshot maintained by the ledger
type User struct {
	ID                string         `json:"userId"`
	DisplayName       string         `json:"displayName"`
	CurrentLevel      int            `json:"currentLevel"`
	CurrentXP         int            `json:"currentXP"`
	TotalXP           int            `json:"totalXP"`
	Attributes        map[string]int `json:"attributes"`
	CompletedChapters []int          `json:"completedChapters"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// HasCompletedChapter checks whether a chapter already granted a reading reward
func (u *User) HasCompletedChapter(chapter int) bool {
	for _, c := range u.CompletedChapters {
		if c == chapter {
			return true
		}
	}
	return false
}

// AddCompletedChapter records a chapter, keeping the list sorted and unique
func (u *User) AddCompletedChapter(chapter int) {
	if u.HasCompletedChapter(chapter) {
		return
	}
	u.CompletedChapters = append(u.CompletedChapters, chapter)
	sort.Ints(u.CompletedChapters)
}

// AddAttributePoints merges gains into the attribute map. Negative gains are
// ignored so every attribute stays non-decreasing.
func (u *User) AddAttributePoints(gains map[string]int) {
	if u.Attributes == nil {
		u.Attributes = map[string]int{}
	}
	for name, points := range gains {
		if points > 0 {
			u.Attributes[name] += points
		}
	}
}

// LevelInfo summarises a user's position in the level table
type LevelInfo struct {
	Level               int      `json:"level"`
	Title               string   `json:"title"`
	CurrentXP           int      `json:"currentXP"`
	TotalXP             int      `json:"totalXP"`
	XPToNextLevel       int      `json:"xpToNextLevel"`
	IsMaxLevel          bool     `json:"isMaxLevel"`
	UnlockedContent     []string `json:"unlockedContent"`
	UnlockedPermissions []string `json:"unlockedPermissions"`
}
