package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimiter caps intake per subject (the sender address).
type RateLimiter interface {
	Allow(ctx context.Context, subject string) (allowed bool, retryAfter time.Duration, err error)
}

var intakeRateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisRateLimiter implements a fixed-window limit shared by every relayer instance.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string, limitPerMinute int) *RedisRateLimiter {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "relayer"
	}
	return &RedisRateLimiter{
		client: client,
		prefix: trimmedPrefix + ":rate_limit",
		limit:  limitPerMinute,
		window: time.Minute,
	}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, subject string) (bool, time.Duration, error) {
	subject = strings.TrimSpace(subject)
	if r == nil || r.client == nil || r.limit <= 0 || subject == "" {
		return true, 0, nil
	}

	windowMs := r.window.Milliseconds()
	key := fmt.Sprintf("%s:intake:%s", r.prefix, subject)
	rawResult, err := intakeRateLimitScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return false, 0, err
	}

	values, ok := rawResult.([]interface{})
	if !ok || len(values) != 2 {
		return false, 0, fmt.Errorf("unexpected redis limiter response shape: %T", rawResult)
	}
	currentCount, ok := values[0].(int64)
	if !ok {
		return false, 0, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}
	ttlMs, ok := values[1].(int64)
	if !ok || ttlMs < 0 {
		ttlMs = windowMs
	}

	if int(currentCount) <= r.limit {
		return true, 0, nil
	}
	retryAfter := time.Duration(math.Ceil(float64(ttlMs)/1000.0)) * time.Second
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return false, retryAfter, nil
}

const localLimiterMaxSubjects = 10000

// LocalRateLimiter is the in-process token bucket used without a shared Redis.
type LocalRateLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewLocalRateLimiter(limitPerMinute int) *LocalRateLimiter {
	return &LocalRateLimiter{
		limit:    rate.Limit(float64(limitPerMinute) / 60.0),
		burst:    limitPerMinute,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *LocalRateLimiter) Allow(ctx context.Context, subject string) (bool, time.Duration, error) {
	subject = strings.TrimSpace(subject)
	if l == nil || l.burst <= 0 || subject == "" {
		return true, 0, nil
	}

	l.mu.Lock()
	limiter, ok := l.limiters[subject]
	if !ok {
		if len(l.limiters) >= localLimiterMaxSubjects {
			l.limiters = make(map[string]*rate.Limiter)
		}
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[subject] = limiter
	}
	l.mu.Unlock()

	reservation := limiter.Reserve()
	delay := reservation.Delay()
	if delay == 0 {
		return true, 0, nil
	}
	reservation.Cancel()
	return false, time.Duration(math.Ceil(delay.Seconds())) * time.Second, nil
}

type noopRateLimiter struct{}

func (noopRateLimiter) Allow(ctx context.Context, subject string) (bool, time.Duration, error) {
	return true, 0, nil
}

// NewRateLimiter picks the shared limiter when a Redis client is available.
func NewRateLimiter(client redis.UniversalClient, prefix string, limitPerMinute int) RateLimiter {
	switch {
	case limitPerMinute <= 0:
		return noopRateLimiter{}
	case client != nil:
		return NewRedisRateLimiter(client, prefix, limitPerMinute)
	default:
		return NewLocalRateLimiter(limitPerMinute)
	}
}
