package service

import "redmansion/internal/models"

const (
	// XPPerLevel is the XP step between consecutive level thresholds
	XPPerLevel = 90
	// MaxLevel is the highest reachable level
	MaxLevel = 7
)

// LevelDefinition describes what a level grants on top of the previous ones
type LevelDefinition struct {
	Level       int
	Title       string
	Content     []string
	Permissions []string
}

var levelTable = []LevelDefinition{
	{0, "賈府訪客", []string{"chapter_preview"}, []string{"read_chapters"}},
	{1, "陪讀書僮", []string{"daily_tasks", "character_cards"}, []string{"write_notes"}},
	{2, "門第清客", []string{"poetry_annotations"}, []string{"comment_posts"}},
	{3, "詩社雅士", []string{"poetry_club", "cultural_archive"}, []string{"create_posts"}},
	{4, "才藝鑑賞家", []string{"commentary_archive"}, []string{"share_highlights"}},
	{5, "紅學研究者", []string{"relationship_map"}, []string{"host_discussions"}},
	{6, "紅學專家", []string{"manuscript_variants"}, []string{"mentor_readers"}},
	{7, "一代宗師", []string{"master_collection"}, []string{"curate_content"}},
}

// LevelThreshold returns the total XP needed to reach level
func LevelThreshold(level int) int {
	if level <= 0 {
		return 0
	}
	if level > MaxLevel {
		level = MaxLevel
	}
	return level * XPPerLevel
}

// LevelForXP returns the level a lifetime XP total maps to
func LevelForXP(totalXP int) int {
	if totalXP <= 0 {
		return 0
	}
	level := totalXP / XPPerLevel
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}

// CurrentXP returns the XP accrued within the level reached by totalXP
func CurrentXP(totalXP int) int {
	return totalXP - LevelThreshold(LevelForXP(totalXP))
}

// LevelTitle returns the display title of level
func LevelTitle(level int) string {
	return levelTable[clampLevel(level)].Title
}

// CumulativeUnlocks returns everything unlocked at or below level
func CumulativeUnlocks(level int) (content, permissions []string) {
	content, permissions = []string{}, []string{}
	for _, def := range levelTable[:clampLevel(level)+1] {
		content = append(content, def.Content...)
		permissions = append(permissions, def.Permissions...)
	}
	return content, permissions
}

// BuildLevelInfo summarises a user's position in the level table
func BuildLevelInfo(user *models.User) models.LevelInfo {
	level := LevelForXP(user.TotalXP)
	content, permissions := CumulativeUnlocks(level)
	info := models.LevelInfo{
		Level:               level,
		Title:               LevelTitle(level),
		CurrentXP:           CurrentXP(user.TotalXP),
		TotalXP:             user.TotalXP,
		IsMaxLevel:          level == MaxLevel,
		UnlockedContent:     content,
		UnlockedPermissions: permissions,
	}
	if !info.IsMaxLevel {
		info.XPToNextLevel = LevelThreshold(level+1) - user.TotalXP
	}
	return info
}

func clampLevel(level int) int {
	switch {
	case level < 0:
		return 0
	case level > MaxLevel:
		return MaxLevel
	default:
		return level
	}
}
