package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the shared counters with Redis so multiple processes can
// share one classification budget.
type RedisStore struct {
	client *redis.Client
	limits Limits
	now    func() time.Time
}

func NewRedisStore(client *redis.Client, limits Limits) *RedisStore {
	return &RedisStore{
		client: client,
		limits: limits,
		now:    time.Now,
	}
}

// acquireScript atomically checks both windows and increments them only
// when capacity remains. KEYS[1]=minute key, KEYS[2]=day key,
// ARGV[1]=minute limit, ARGV[2]=day limit. Returns {allowed, minute, day}.
var acquireScript = redis.NewScript(`
local minute = tonumber(redis.call('GET', KEYS[1]) or '0')
local day = tonumber(redis.call('GET', KEYS[2]) or '0')
if minute >= tonumber(ARGV[1]) or day >= tonumber(ARGV[2]) then
  return {0, minute, day}
end
minute = redis.call('INCR', KEYS[1])
if minute == 1 then redis.call('EXPIRE', KEYS[1], 120) end
day = redis.call('INCR', KEYS[2])
if day == 1 then redis.call('EXPIRE', KEYS[2], 172800) end
return {1, minute, day}
`)

func (s *RedisStore) keys(resourceKey string, now time.Time) (string, string) {
	minuteKey := fmt.Sprintf("ratelimit:%s:m:%s", resourceKey, now.UTC().Format("200601021504"))
	dayKey := fmt.Sprintf("ratelimit:%s:d:%s", resourceKey, now.UTC().Format("20060102"))
	return minuteKey, dayKey
}

func (s *RedisStore) Acquire(ctx context.Context, resourceKey string) (*Decision, error) {
	now := s.now()
	minuteKey, dayKey := s.keys(resourceKey, now)

	raw, err := acquireScript.Run(ctx, s.client, []string{minuteKey, dayKey},
		s.limits.PerMinute, s.limits.PerDay).Result()
	if err != nil {
		return nil, fmt.Errorf("rate limit acquire failed: %w", err)
	}

	values := raw.([]interface{})
	allowed := values[0].(int64) == 1
	minuteCount := int(values[1].(int64))
	dayCount := int(values[2].(int64))

	resetAt := now.Truncate(time.Minute).Add(time.Minute)
	if !allowed && dayCount >= s.limits.PerDay {
		resetAt = now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	}

	remaining := 0
	if allowed {
		remaining = s.limits.PerMinute - minuteCount
		if dayRemaining := s.limits.PerDay - dayCount; dayRemaining < remaining {
			remaining = dayRemaining
		}
	}

	return &Decision{Allowed: allowed, RemainingAttempts: remaining, ResetAt: resetAt}, nil
}

func (s *RedisStore) Status(ctx context.Context, resourceKey string) (*Status, error) {
	now := s.now()
	minuteKey, dayKey := s.keys(resourceKey, now)

	minuteCount, err := s.client.Get(ctx, minuteKey).Int()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	dayCount, err := s.client.Get(ctx, dayKey).Int()
	if err != nil && err != redis.Nil {
		return nil, err
	}

	return &Status{
		MinuteCount:       minuteCount,
		MinuteLimit:       s.limits.PerMinute,
		DayCount:          dayCount,
		DayLimit:          s.limits.PerDay,
		CapacityAvailable: minuteCount < s.limits.PerMinute && dayCount < s.limits.PerDay,
		MinuteResetAt:     now.Truncate(time.Minute).Add(time.Minute),
	}, nil
}
