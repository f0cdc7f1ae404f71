package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/campaign-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec int64 = 100
	defaultScope             = "default"
	window                   = time.Second
	minWait                  = time.Millisecond
)

// countScript increments the window counter and returns its new value; the
// first hit of a window sets the key to expire with it.
var countScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter is a fixed one-second window limiter on provider calls,
// shared by every process dispatching through the same provider account.
type RedisRateLimiter struct {
	client *goredis.Client
	scope  string
	limits channelLimits
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

type channelLimits struct {
	fallback int64
	byName   map[string]int64
}

func (l channelLimits) of(channel string) int64 {
	if limit, ok := l.byName[channel]; ok {
		return limit
	}
	return l.fallback
}

// NewRedisRateLimiter applies limitPerSec to every channel unless overrides
// names one. scope separates provider accounts sharing one Redis.
func NewRedisRateLimiter(client *goredis.Client, scope string, limitPerSec int, overrides map[string]int) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	limits := channelLimits{fallback: int64(limitPerSec), byName: make(map[string]int64, len(overrides))}
	if limits.fallback <= 0 {
		limits.fallback = defaultLimitPerSec
	}
	for channel, limit := range overrides {
		if limit > 0 {
			limits.byName[normalizeChannel(channel)] = int64(limit)
		}
	}

	scope = strings.TrimSpace(scope)
	if scope == "" {
		scope = defaultScope
	}

	return &RedisRateLimiter{
		client: client,
		scope:  scope,
		limits: limits,
		now:    time.Now,
		sleep:  sleepWithContext,
	}, nil
}

// Allow takes a slot in the current window if one is free.
func (r *RedisRateLimiter) Allow(ctx context.Context, channel string) (bool, error) {
	wait, err := r.reserve(ctx, channel)
	return wait == 0, err
}

// Wait blocks until a slot is taken or ctx is done.
func (r *RedisRateLimiter) Wait(ctx context.Context, channel string) error {
	for {
		wait, err := r.reserve(ctx, channel)
		if err != nil {
			return err
		}
		if wait == 0 {
			return nil
		}
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// reserve counts one call against the current window. A full window yields
// the time left until the next one opens.
func (r *RedisRateLimiter) reserve(ctx context.Context, channel string) (time.Duration, error) {
	if r == nil || r.client == nil {
		return 0, fmt.Errorf("rate limiter is not initialized")
	}
	channel = normalizeChannel(channel)
	if channel == "" {
		return 0, fmt.Errorf("channel is required")
	}

	now := r.now().UTC()
	start := now.Truncate(window)
	key := fmt.Sprintf("ratelimit:%s:%s:%d", r.scope, channel, start.Unix())

	count, err := countScript.Run(ctx, r.client, []string{key}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}
	if count <= r.limits.of(channel) {
		return 0, nil
	}
	return max(start.Add(window).Sub(now), minWait), nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func normalizeChannel(channel string) string {
	return strings.ToLower(strings.TrimSpace(channel))
}
