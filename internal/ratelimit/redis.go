package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript keeps one sorted set per key, scored by millisecond
// timestamp. Rejected attempts are not added.
//
// Returns {allowed, count, oldest_ms}.
const slidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)

local count = redis.call("ZCARD", key)
if count >= limit then
    local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
    return {0, count, tonumber(oldest[2])}
end

redis.call("ZADD", key, now, member)
redis.call("PEXPIRE", key, window)
local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
return {1, count + 1, tonumber(oldest[2])}
`

// RedisStore shares sliding-window state between instances.
type RedisStore struct {
	client *redis.Client
	script *redis.Script
	prefix string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		script: redis.NewScript(slidingWindowScript),
		prefix: "hearth:ratelimit:",
	}
}

// NewRedisStoreFromURL connects and pings before returning.
func NewRedisStoreFromURL(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisStore(client), nil
}

// Hit implements Store.
func (s *RedisStore) Hit(ctx context.Context, key string, p Policy, now time.Time) (Result, error) {
	nowMs := now.UnixMilli()
	raw, err := s.script.Run(ctx, s.client,
		[]string{s.prefix + key},
		nowMs,
		p.Window.Milliseconds(),
		p.Limit,
		fmt.Sprintf("%d-%s", nowMs, uuid.NewString()),
	).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(raw) != 3 {
		return Result{}, fmt.Errorf("rate limit script: unexpected reply length %d", len(raw))
	}

	count := int(raw[1])
	res := Result{
		Allowed: raw[0] == 1,
		Limit:   p.Limit,
		ResetAt: time.UnixMilli(raw[2]).Add(p.Window).UTC(),
	}
	if res.Allowed {
		res.Remaining = p.Limit - count
	}
	return res, nil
}

// Ping satisfies types.HealthProber.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
