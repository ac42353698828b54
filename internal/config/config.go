package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	ServerPort string
	LogMode    string

	// Database
	DatabaseType string
	DatabasePath string
	DatabaseURL  string

	// Task catalog and daily generation
	TaskCatalogPath string
	TaskCacheTTL    time.Duration
	TasksPerDay     int
	Timezone        string

	// Submission cooldown; REDIS_ADDR switches to the shared store
	SubmissionCooldown time.Duration
	RedisAddr          string

	// AI grader
	AIProvider      string
	AIModel         string
	AnthropicAPIKey string
	OpenAIAPIKey    string
	AITimeout       time.Duration

	// Auth
	JWTSecret string

	// Reward policy
	GuestUserIDs           []string
	AllowEphemeralProgress bool
	EphemeralRewards       bool
	LockRetention          time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is applied first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ServerPort:             getEnv("PORT", "8080"),
		LogMode:                getEnv("LOG_MODE", "development"),
		DatabaseType:           getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:           getEnv("DB_PATH", "./redmansion.db"),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		TaskCatalogPath:        getEnv("TASK_CATALOG_PATH", ""),
		TaskCacheTTL:           getDuration("TASK_CACHE_TTL", 5*time.Minute),
		TasksPerDay:            getInt("TASKS_PER_DAY", 3),
		Timezone:               getEnv("TIMEZONE", "Asia/Taipei"),
		SubmissionCooldown:     getDuration("SUBMISSION_COOLDOWN", 5*time.Second),
		RedisAddr:              getEnv("REDIS_ADDR", ""),
		AIProvider:             strings.ToLower(getEnv("AI_PROVIDER", "none")),
		AIModel:                getEnv("AI_MODEL", ""),
		AnthropicAPIKey:        getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:           getEnv("OPENAI_API_KEY", ""),
		AITimeout:              getDuration("AI_TIMEOUT", 15*time.Second),
		JWTSecret:              getEnv("JWT_SECRET", ""),
		GuestUserIDs:           getList("GUEST_USER_IDS"),
		AllowEphemeralProgress: getBool("ALLOW_EPHEMERAL_PROGRESS", false),
		EphemeralRewards:       getBool("EPHEMERAL_REWARDS", false),
		LockRetention:          getDuration("LOCK_RETENTION", 24*time.Hour),
	}
}

// Location resolves the configured timezone, falling back to UTC
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// getEnv reads an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}

func getBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}

func getList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
