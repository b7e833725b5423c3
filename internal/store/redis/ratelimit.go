// Package redis keeps the per-client request counters in Redis so every
// replica of the API draws from the same budget.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefixRateLimit is the prefix for rate limit window counters.
const KeyPrefixRateLimit = "pokefav:ratelimit:"

// RateLimitKey returns the counter key of client for the window starting at start.
func RateLimitKey(client string, start time.Time) string {
	return KeyPrefixRateLimit + client + ":" + strconv.FormatInt(start.Unix(), 10)
}

// RateLimiter is a fixed window counter: at most limit requests per client
// per window.
type RateLimiter struct {
	client redis.Cmdable
	limit  int
	window time.Duration
}

// NewRateLimiter creates a limiter allowing limit requests per window.
func NewRateLimiter(client redis.Cmdable, limit int, window time.Duration) *RateLimiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{client: client, limit: limit, window: window}
}

// Limit returns the number of requests allowed per window.
func (l *RateLimiter) Limit() int { return l.limit }

// Allow counts one request for key. retryAfter is in seconds and only set
// when the request is refused.
func (l *RateLimiter) Allow(ctx context.Context, key string, now time.Time) (ok bool, remaining int, retryAfter int, err error) {
	start := now.Truncate(l.window)
	rk := RateLimitKey(key, start)

	var incr *redis.IntCmd
	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, rk)
		// twice the window so a slow clock on another replica still finds the key
		pipe.Expire(ctx, rk, 2*l.window)
		return nil
	})
	if err != nil {
		return false, 0, 0, fmt.Errorf("rate limit %s: %w", rk, err)
	}

	count := int(incr.Val())
	if count <= l.limit {
		return true, l.limit - count, 0, nil
	}

	wait := start.Add(l.window).Sub(now)
	retryAfter = int(wait.Round(time.Second) / time.Second)
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, 0, retryAfter, nil
}
