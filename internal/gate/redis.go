package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"forge/internal/domain"
)

// slidingWindowScript prunes expired entries, counts survivors and records the
// new request in one round trip so concurrent checks on the same key cannot
// race. Returns {1, 0} when admitted, {0, oldestScoreMillis} when rejected.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count >= max then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  return {0, oldest[2]}
end
redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window)
return {1, '0'}
`)

// RedisLimiter is the production Limiter: one sorted set of request
// timestamps per key, managed server-side by a Lua script.
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisLimiter creates a limiter on the given client. Keys are stored under
// the "rl:" prefix.
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: "rl:"}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	now := time.Now().UnixMilli()
	res, err := slidingWindowScript.Run(ctx, l.client,
		[]string{l.prefix + key},
		now, window.Milliseconds(), limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: rate limiter: %v", domain.ErrBackendUnavailable, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("%w: rate limiter: unexpected script reply", domain.ErrBackendUnavailable)
	}
	if res[0] == 1 {
		return Decision{Allowed: true}, nil
	}
	retryAfter := time.Duration(res[1]-now)*time.Millisecond + window
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return Decision{Allowed: false, RetryAfter: retryAfter}, nil
}

var _ Limiter = (*RedisLimiter)(nil)
