package intake

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// Limiter decides whether a client may submit.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// slidingWindow trims expired entries, counts what is left and records the
// request only when under the limit, so rejected attempts never take a slot.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_start = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local window_ms = tonumber(ARGV[4])
local member = ARGV[5]

redis.call("zremrangebyscore", key, "-inf", window_start)
local current = redis.call("zcard", key)
if current >= limit then
	return 0
end
redis.call("zadd", key, now, member)
redis.call("pexpire", key, window_ms)
return 1
`)

// RedisLimiter is a sliding-window limiter shared by every API instance.
type RedisLimiter struct {
	rdb    redis.Scripter
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

// NewRedisLimiter allows limit requests per key in any trailing window.
func NewRedisLimiter(rdb redis.Scripter, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		rdb:    rdb,
		limit:  limit,
		window: window,
		prefix: "rate_limit:",
		now:    time.Now,
	}
}

// Allow records one request for key and reports whether it is within the
// limit. On a Redis error the request is allowed and the error returned so
// the caller can log it.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := l.now()
	res, err := slidingWindow.Run(ctx, l.rdb, []string{l.prefix + key},
		now.UnixMilli(),
		now.Add(-l.window).UnixMilli(),
		l.limit,
		l.window.Milliseconds(),
		uuid.NewString(),
	).Int()
	if err != nil {
		return true, eris.Wrap(err, "intake: rate limit")
	}
	return res == 1, nil
}

// NopLimiter allows everything. It is used when Redis is not configured.
type NopLimiter struct{}

// Allow implements Limiter.
func (NopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }
