// Package ratelimit provides a fixed-window request limiter shared across server instances via Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts hits per key in fixed windows stored in Redis.
type Limiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

// NewRedisLimiter connects to redisURL and returns a limiter allowing limit hits per window.
func NewRedisLimiter(redisURL string, limit int, window time.Duration) (*Limiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewWithClient(client, limit, window), nil
}

// NewWithClient builds a limiter on an existing client.
func NewWithClient(client *redis.Client, limit int, window time.Duration) *Limiter {
	return &Limiter{
		client: client,
		prefix: "coachline:rl:",
		limit:  limit,
		window: window,
	}
}

func (l *Limiter) key(k string) string {
	return l.prefix + k
}

// Allow records one hit for key. A limit of zero or less disables limiting.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	if l.limit <= 0 {
		return Decision{Allowed: true, Remaining: -1}, nil
	}
	rk := l.key(key)
	n, err := l.client.Incr(ctx, rk).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("incr %s: %w", rk, err)
	}
	ttl, err := l.client.PTTL(ctx, rk).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("pttl %s: %w", rk, err)
	}
	// A key without expiry is either new or lost its EXPIRE; both start a window.
	if n == 1 || ttl < 0 {
		if err := l.client.PExpire(ctx, rk, l.window).Err(); err != nil {
			return Decision{}, fmt.Errorf("expire %s: %w", rk, err)
		}
		ttl = l.window
	}
	if n > int64(l.limit) {
		return Decision{Allowed: false, Remaining: 0, RetryAfter: ttl}, nil
	}
	return Decision{Allowed: true, Remaining: l.limit - int(n)}, nil
}

// Close releases the Redis connection.
func (l *Limiter) Close() error {
	return l.client.Close()
}
