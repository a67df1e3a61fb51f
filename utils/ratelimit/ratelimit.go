package ratelimit

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Limiter defines the interface for rate limiting operations
type Limiter interface {
	// Allow checks if a message should be allowed based on rate limits.
	// Returns true if allowed, false if the limit is exceeded.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)

	// Count returns the number of messages recorded in the current window.
	Count(ctx context.Context, key string, window time.Duration) (int, error)

	// Reset clears the rate limit counter for a key.
	Reset(ctx context.Context, key string, window time.Duration) error
}

// WindowLimiter implements rate limiting with Redis counters bucketed by
// time window. Redis atomic increments keep it safe across processes, so
// the webhook handler and the task workers share one view of a sender's
// budget.
type WindowLimiter struct {
	redisClient *redis.Client
	logger      *zap.Logger
	fallback    bool // if true, allow requests when Redis is unavailable (fail-open)
}

// NewWindowLimiter creates a new window rate limiter.
//
// Parameters:
//   - redisClient: Redis client for storing rate limit state
//   - logger: Logger for recording rate limit events
//   - fallback: If true, allows requests when Redis fails (fail-open strategy)
func NewWindowLimiter(redisClient *redis.Client, logger *zap.Logger, fallback bool) *WindowLimiter {
	return &WindowLimiter{
		redisClient: redisClient,
		logger:      logger,
		fallback:    fallback,
	}
}

// Allow records one message for key and reports whether the sender is
// still inside the limit for the window.
func (l *WindowLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	bucketKey := l.bucketKey(key, time.Now(), window)

	pipe := l.redisClient.Pipeline()
	incrCmd := pipe.Incr(ctx, bucketKey)
	pipe.Expire(ctx, bucketKey, window+time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Error("rate limit check failed",
			zap.String("key", bucketKey),
			zap.Error(err),
		)
		if l.fallback {
			l.logger.Warn("rate limit check failed, allowing request (fail-open)",
				zap.String("key", key),
			)
			return true, nil
		}
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	count := incrCmd.Val()
	allowed := count <= int64(limit)
	if !allowed {
		l.logger.Warn("rate limit exceeded",
			zap.String("key", key),
			zap.Int64("count", count),
			zap.Int("limit", limit),
			zap.Duration("window", window),
		)
	}
	return allowed, nil
}

// Count returns the messages recorded for key in the current window.
func (l *WindowLimiter) Count(ctx context.Context, key string, window time.Duration) (int, error) {
	bucketKey := l.bucketKey(key, time.Now(), window)

	count, err := l.redisClient.Get(ctx, bucketKey).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get rate limit count: %w", err)
	}
	return int(count), nil
}

// Reset clears the current and previous window counters for a key.
func (l *WindowLimiter) Reset(ctx context.Context, key string, window time.Duration) error {
	now := time.Now()
	keys := []string{
		l.bucketKey(key, now, window),
		l.bucketKey(key, now.Add(-window), window),
	}
	if err := l.redisClient.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to reset rate limit for key %s: %w", key, err)
	}
	l.logger.Info("rate limit reset", zap.String("key", key))
	return nil
}

// bucketKey buckets time into window-sized slots so counters roll over
// without explicit cleanup.
func (l *WindowLimiter) bucketKey(key string, now time.Time, window time.Duration) string {
	bucket := now.UnixNano() / int64(window)
	return fmt.Sprintf("ratelimit:%s:%d", key, bucket)
}
