package security

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"redmansion/internal/logger"
)

// DefaultCooldown is the minimum gap between two submissions of one user
const DefaultCooldown = 5 * time.Second

// Cooldown rejects a user's submission when the previous one was too recent
type Cooldown interface {
	Allow(ctx context.Context, userID string) (bool, error)
}

// MemoryCooldown is a per-process cooldown: a one-token bucket per user
// refilled once per window
type MemoryCooldown struct {
	limiter *RateLimiter
}

// NewMemoryCooldown creates an in-process cooldown
func NewMemoryCooldown(window time.Duration) *MemoryCooldown {
	if window <= 0 {
		window = DefaultCooldown
	}
	return &MemoryCooldown{limiter: NewRateLimiter(1, window)}
}

// Allow consumes the user's token if one is available
func (c *MemoryCooldown) Allow(ctx context.Context, userID string) (bool, error) {
	return c.limiter.Allow(userID), nil
}

// Close stops the limiter's cleanup goroutine
func (c *MemoryCooldown) Close() {
	c.limiter.Close()
}

// RedisCooldown shares the cooldown across server processes using SET NX
// with an expiry. Redis errors fail open: a cooldown is not a correctness
// guarantee, the ledger's unique constraints are.
type RedisCooldown struct {
	client *redis.Client
	window time.Duration
	prefix string
	logger *logger.Logger
}

// NewRedisCooldown creates a cooldown backed by the Redis server at addr
func NewRedisCooldown(addr string, window time.Duration, log *logger.Logger) *RedisCooldown {
	if window <= 0 {
		window = DefaultCooldown
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RedisCooldown{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		window: window,
		prefix: "redmansion:cooldown:",
		logger: log.With("service", "RedisCooldown"),
	}
}

// Ping checks connectivity at startup
func (c *RedisCooldown) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Allow sets the user's key if absent; an existing key means the user is cooling down
func (c *RedisCooldown) Allow(ctx context.Context, userID string) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.prefix+userID, time.Now().UnixMilli(), c.window).Result()
	if err != nil {
		c.logger.Warn("Cooldown check failed, allowing submission", "user_id", userID, "error", err)
		return true, nil
	}
	return ok, nil
}

// Close releases the Redis connection pool
func (c *RedisCooldown) Close() error {
	return c.client.Close()
}
