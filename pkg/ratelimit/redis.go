package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/leadsradar/server/internal/models"
)

// consumeScript rolls and checks both windows of one counter hash and takes
// a slot only when both have room. Redis runs scripts atomically, so the
// check and the increment cannot interleave with another caller.
// KEYS[1] = counter key
// ARGV[1] = now (unix seconds)
// ARGV[2] = hourly ceiling
// ARGV[3] = daily ceiling
// ARGV[4] = key ttl (seconds)
// Returns: {allowed (1/0), remaining_hourly, remaining_daily}
var consumeScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local hourly = tonumber(ARGV[2])
local daily = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local hour_start = now - (now % 3600)
local day_start = now - (now % 86400)

local info = redis.call("HMGET", key, "hour_start", "hour_count", "day_start", "day_count")
local h_start = tonumber(info[1]) or 0
local h_count = tonumber(info[2]) or 0
local d_start = tonumber(info[3]) or 0
local d_count = tonumber(info[4]) or 0

if h_start < hour_start then
	h_start = hour_start
	h_count = 0
end
if d_start < day_start then
	d_start = day_start
	d_count = 0
end

if h_count >= hourly or d_count >= daily then
	return {0, hourly - h_count, daily - d_count}
end

h_count = h_count + 1
d_count = d_count + 1
redis.call("HSET", key, "hour_start", h_start, "hour_count", h_count, "day_start", d_start, "day_count", d_count)
redis.call("EXPIRE", key, ttl)

return {1, hourly - h_count, daily - d_count}
`)

// RedisLimiter enforces hourly and daily ceilings using Redis
type RedisLimiter struct {
	client  *redis.Client
	baseKey string
	ttl     time.Duration
}

// NewRedisLimiter connects to Redis and verifies the connection
func NewRedisLimiter(redisURL string, baseKey string) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisLimiterWithClient(client, baseKey), nil
}

// NewRedisLimiterWithClient wraps an existing client
func NewRedisLimiterWithClient(client *redis.Client, baseKey string) *RedisLimiter {
	return &RedisLimiter{
		client:  client,
		baseKey: baseKey,
		// The daily window is the longest one; keep idle counters a bit past it
		ttl: 25 * time.Hour,
	}
}

func (r *RedisLimiter) key(userID uuid.UUID, resource models.ResourceType) string {
	return fmt.Sprintf("%s:%s:%s", r.baseKey, resource, userID)
}

// CheckAndIncrement consumes one slot for (userID, resource) if both windows allow it
func (r *RedisLimiter) CheckAndIncrement(ctx context.Context, userID uuid.UUID, resource models.ResourceType, limit models.RateLimit, now time.Time) (models.RateLimitDecision, error) {
	res, err := consumeScript.Run(ctx, r.client,
		[]string{r.key(userID, resource)},
		now.Unix(), limit.Hourly, limit.Daily, int64(r.ttl/time.Second),
	).Int64Slice()
	if err != nil {
		log.Error().Err(err).Str("resource", string(resource)).Msg("RateLimiter: Redis error")
		return models.RateLimitDecision{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 3 {
		return models.RateLimitDecision{}, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}

	return models.RateLimitDecision{
		Allowed:         res[0] == 1,
		RemainingHourly: int(max(res[1], 0)),
		RemainingDaily:  int(max(res[2], 0)),
	}, nil
}

// PruneRateLimits is a no-op: idle counters expire through their TTL
func (r *RedisLimiter) PruneRateLimits(ctx context.Context, idleSince time.Time) (int64, error) {
	return 0, nil
}

// Ping checks the Redis connection
func (r *RedisLimiter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (r *RedisLimiter) Close() error {
	return r.client.Close()
}
