package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TASKS_PER_DAY", "")
	t.Setenv("SUBMISSION_COOLDOWN", "")
	t.Setenv("GUEST_USER_IDS", "")

	cfg := Load()

	assert.Equal(t, 3, cfg.TasksPerDay)
	assert.Equal(t, 5*time.Second, cfg.SubmissionCooldown)
	assert.Equal(t, 5*time.Minute, cfg.TaskCacheTTL)
	assert.Equal(t, 15*time.Second, cfg.AITimeout)
	assert.Equal(t, 24*time.Hour, cfg.LockRetention)
	assert.False(t, cfg.AllowEphemeralProgress)
	assert.Empty(t, cfg.GuestUserIDs)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TASKS_PER_DAY", "5")
	t.Setenv("SUBMISSION_COOLDOWN", "2s")
	t.Setenv("GUEST_USER_IDS", " guest-1, ,guest-2 ")
	t.Setenv("ALLOW_EPHEMERAL_PROGRESS", "true")
	t.Setenv("AI_PROVIDER", "Anthropic")

	cfg := Load()

	assert.Equal(t, 5, cfg.TasksPerDay)
	assert.Equal(t, 2*time.Second, cfg.SubmissionCooldown)
	assert.Equal(t, []string{"guest-1", "guest-2"}, cfg.GuestUserIDs)
	assert.True(t, cfg.AllowEphemeralProgress)
	assert.Equal(t, "anthropic", cfg.AIProvider)
}

func TestLocationFallsBackToUTC(t *testing.T) {
	cfg := &Config{Timezone: "Not/AZone"}
	assert.Equal(t, time.UTC, cfg.Location())
}
