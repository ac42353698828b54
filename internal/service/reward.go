package service

import "fmt"

// Reward is the output of ComputeReward. Percentages are integers so that
// floor(base × multiplier) is exact: 150 means ×1.5.
type Reward struct {
	XP            int    `json:"xp"`
	BaseXP        int    `json:"baseXP"`
	StreakBonus   int    `json:"streakBonus"`
	MultiplierPct int    `json:"multiplierPct"`
	Message       string `json:"message"`
}

// Multiplier returns the quality multiplier as a float for display
func (r Reward) Multiplier() float64 {
	return float64(r.MultiplierPct) / 100
}

// StreakMilestone is a streak length that grants a bonus percentage on top of the tiered XP
type StreakMilestone struct {
	Days     int    `json:"days"`
	BonusPct int    `json:"bonusPct"`
	Title    string `json:"title"`
}

// streakMilestones is sorted ascending by Days
var streakMilestones = []StreakMilestone{
	{Days: 7, BonusPct: 10, Title: "週讀不輟"},
	{Days: 30, BonusPct: 20, Title: "月讀有恆"},
	{Days: 100, BonusPct: 30, Title: "百日書香"},
	{Days: 365, BonusPct: 50, Title: "一年紅樓"},
}

// TierPercent maps a 0-100 score to the quality multiplier in percent
func TierPercent(score int) int {
	switch {
	case score <= 30:
		return 0
	case score <= 60:
		return 50
	case score < 85:
		return 100
	default:
		return 150
	}
}

// HighestMilestone returns the largest milestone satisfied by streak
func HighestMilestone(streak int) (StreakMilestone, bool) {
	for i := len(streakMilestones) - 1; i >= 0; i-- {
		if streak >= streakMilestones[i].Days {
			return streakMilestones[i], true
		}
	}
	return StreakMilestone{}, false
}

// MilestoneReached returns the milestone whose length equals streak exactly
func MilestoneReached(streak int) (StreakMilestone, bool) {
	for _, m := range streakMilestones {
		if m.Days == streak {
			return m, true
		}
	}
	return StreakMilestone{}, false
}

// ComputeReward converts a score into XP. The streak bonus is a percentage of
// the tiered XP added once; it is not compounded.
func ComputeReward(baseXP, score, streak int) Reward {
	if baseXP < 0 {
		baseXP = 0
	}
	pct := TierPercent(score)
	xp := baseXP * pct / 100

	reward := Reward{BaseXP: xp, MultiplierPct: pct}
	if xp > 0 {
		if m, ok := HighestMilestone(streak); ok {
			reward.StreakBonus = xp * m.BonusPct / 100
		}
	}
	reward.XP = xp + reward.StreakBonus
	reward.Message = rewardMessage(reward, streak)
	return reward
}

func rewardMessage(r Reward, streak int) string {
	var msg string
	switch {
	case r.MultiplierPct == 0:
		msg = "回答未達標準，本次不獲得經驗值"
	case r.MultiplierPct == 50:
		msg = fmt.Sprintf("獲得 %d 經驗值，再深入思考可獲得更多", r.BaseXP)
	case r.MultiplierPct == 100:
		msg = fmt.Sprintf("獲得 %d 經驗值", r.BaseXP)
	default:
		msg = fmt.Sprintf("表現優異！獲得 %d 經驗值", r.BaseXP)
	}
	if r.StreakBonus > 0 {
		msg += fmt.Sprintf("（連續 %d 天加成 +%d）", streak, r.StreakBonus)
	}
	return msg
}
