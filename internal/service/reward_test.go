package service

import (
	"testing"
)

func TestComputeRewardTiers(t *testing.T) {
	tests := []struct {
		name   string
		score  int
		wantXP int
		pct    int
	}{
		{"meaningless answer", 25, 0, 0},
		{"floor boundary", 30, 0, 0},
		{"half tier", 45, 25, 50},
		{"half tier upper bound", 60, 25, 50},
		{"full tier", 70, 50, 100},
		{"just below bonus tier", 84, 50, 100},
		{"bonus tier boundary", 85, 75, 150},
		{"bonus tier", 90, 75, 150},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeReward(50, tt.score, 0)
			if got.XP != tt.wantXP {
				t.Errorf("ComputeReward(50, %d, 0).XP = %d, want %d", tt.score, got.XP, tt.wantXP)
			}
			if got.MultiplierPct != tt.pct {
				t.Errorf("MultiplierPct = %d, want %d", got.MultiplierPct, tt.pct)
			}
			if got.StreakBonus != 0 {
				t.Errorf("unexpected streak bonus %d", got.StreakBonus)
			}
		})
	}
}

func TestComputeRewardStreakBonus(t *testing.T) {
	tests := []struct {
		name      string
		score     int
		streak    int
		wantBonus int
		wantXP    int
	}{
		{"below first milestone", 70, 6, 0, 50},
		{"seven days", 70, 7, 5, 55},
		{"thirty days", 70, 45, 10, 60},
		{"hundred days", 90, 100, 22, 97},
		{"a year", 70, 400, 25, 75},
		{"no bonus without base xp", 20, 365, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeReward(50, tt.score, tt.streak)
			if got.StreakBonus != tt.wantBonus || got.XP != tt.wantXP {
				t.Errorf("got bonus=%d xp=%d, want bonus=%d xp=%d", got.StreakBonus, got.XP, tt.wantBonus, tt.wantXP)
			}
		})
	}
}

func TestComputeRewardClampsNegativeBase(t *testing.T) {
	if got := ComputeReward(-10, 90, 0); got.XP != 0 {
		t.Errorf("expected 0 XP for negative base, got %d", got.XP)
	}
}

func TestMilestones(t *testing.T) {
	if _, ok := HighestMilestone(3); ok {
		t.Error("no milestone expected for a 3 day streak")
	}
	if m, ok := HighestMilestone(31); !ok || m.Days != 30 {
		t.Errorf("HighestMilestone(31) = %+v, %v", m, ok)
	}
	if m, ok := MilestoneReached(100); !ok || m.BonusPct != 30 {
		t.Errorf("MilestoneReached(100) = %+v, %v", m, ok)
	}
	if _, ok := MilestoneReached(101); ok {
		t.Error("101 is not a milestone")
	}
}

func TestLevelTable(t *testing.T) {
	tests := []struct {
		totalXP   int
		level     int
		currentXP int
	}{
		{0, 0, 0},
		{89, 0, 89},
		{90, 1, 0},
		{250, 2, 70},
		{630, 7, 0},
		{5000, 7, 4370},
	}

	for _, tt := range tests {
		if got := LevelForXP(tt.totalXP); got != tt.level {
			t.Errorf("LevelForXP(%d) = %d, want %d", tt.totalXP, got, tt.level)
		}
		if got := CurrentXP(tt.totalXP); got != tt.currentXP {
			t.Errorf("CurrentXP(%d) = %d, want %d", tt.totalXP, got, tt.currentXP)
		}
	}
}

func TestCumulativeUnlocksGrow(t *testing.T) {
	prevContent, prevPerms := CumulativeUnlocks(0)
	for level := 1; level <= MaxLevel; level++ {
		content, perms := CumulativeUnlocks(level)
		if len(content) <= len(prevContent) || len(perms) <= len(prevPerms) {
			t.Fatalf("level %d does not add unlocks", level)
		}
		for i := range prevContent {
			if content[i] != prevContent[i] {
				t.Fatalf("level %d dropped unlock %s", level, prevContent[i])
			}
		}
		prevContent, prevPerms = content, perms
	}
}

func TestParseChapterSource(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"chapter-12", 12, true},
		{"chapter-1-2026-10-17", 0, false},
		{"culture-tea", 0, false},
		{"chapter-", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseChapterSource(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseChapterSource(%q) = %d, %v", tt.in, got, ok)
		}
	}
}
