package rate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowLua prunes, counts and (when allowed) records one event in a
// ZSET-backed sliding window. The whole sequence runs atomically per key.
// KEYS[1] = window key
// ARGV[1] = now (unix ms)
// ARGV[2] = window (ms)
// ARGV[3] = max events in window
// ARGV[4] = unique member for this event
//
// Returns {allowed (0|1), count after the call, oldest score in window}.
var slidingWindowLua = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', '(' .. (now - window))

local count = redis.call('ZCARD', key)
if count >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  local oldestScore = now
  if oldest[2] then
    oldestScore = tonumber(oldest[2])
  end
  return {0, count, oldestScore}
end

redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, count + 1, now}
`)

// Decision is the outcome of a single CheckAndRecord call.
type Decision struct {
	Allowed bool
	Count   int
	// RetryAfter is set only on denial and always equals the full window.
	RetryAfter time.Duration
	// OldestAt is the timestamp of the oldest event still counted.
	OldestAt time.Time
}

// Limiter is a Redis sliding-window event counter. It knows nothing about
// what is being counted; policies live in internal/limiters.
type Limiter struct {
	redis redis.UniversalClient
	now   func() time.Time
}

// New creates a sliding-window [Limiter]. A nil clock uses time.Now.
func New(redisClient redis.UniversalClient, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		redis: redisClient,
		now:   now,
	}
}

// CheckAndRecord counts events for key inside [now-window, now] and records
// a new one when the count is below maxEvents. Denied calls are not recorded.
func (l *Limiter) CheckAndRecord(ctx context.Context, key string, window time.Duration, maxEvents int) (Decision, error) {
	if window <= 0 || maxEvents <= 0 {
		return Decision{}, ErrInvalidWindow
	}

	now := l.now()
	res, err := slidingWindowLua.Run(ctx, l.redis,
		[]string{key},
		now.UnixMilli(),
		window.Milliseconds(),
		maxEvents,
		strconv.FormatInt(now.UnixNano(), 10)+"-"+uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("%w: unexpected lua result", ErrRedisUnavailable)
	}

	d := Decision{
		Allowed:  res[0] == 1,
		Count:    int(res[1]),
		OldestAt: time.UnixMilli(res[2]),
	}
	if !d.Allowed {
		d.RetryAfter = window
	}
	return d, nil
}

// Count returns the number of events currently inside the window without
// recording anything.
func (l *Limiter) Count(ctx context.Context, key string, window time.Duration) (int, error) {
	now := l.now()
	min := "(" + strconv.FormatInt(now.Add(-window).UnixMilli(), 10)
	n, err := l.redis.ZCount(ctx, key, min, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(n), nil
}

// Reset drops every recorded event for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
