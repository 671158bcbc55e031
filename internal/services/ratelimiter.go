package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimitWindow is the trailing window requests are counted over
const RateLimitWindow = 60 * time.Second

// RateLimiter enforces the per-endpoint requests-per-minute policy.
// Allow returns nil to admit the request or a KindRateLimited error.
// A limit of zero or less disables the check.
type RateLimiter interface {
	Allow(ctx context.Context, endpointID uuid.UUID, limit int) error
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(redisURL string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisURL,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// LogRateLimiter counts admitted rows of the request log in the trailing
// window. Throttling accuracy depends on audit writes succeeding.
type LogRateLimiter struct {
	logs RequestLogStore
	now  func() time.Time
}

// NewLogRateLimiter creates a rate limiter backed by the request log
func NewLogRateLimiter(logs RequestLogStore) *LogRateLimiter {
	return &LogRateLimiter{logs: logs, now: time.Now}
}

// Allow checks the request log count against limit
func (rl *LogRateLimiter) Allow(ctx context.Context, endpointID uuid.UUID, limit int) error {
	if limit <= 0 {
		return nil
	}

	count, err := rl.logs.CountAdmittedSince(ctx, endpointID, rl.now().Add(-RateLimitWindow))
	if err != nil {
		return ErrInternal(fmt.Errorf("failed to count recent requests: %w", err))
	}
	if count >= limit {
		return ErrRateLimited()
	}
	return nil
}

// slidingWindowScript trims the window, then records the request only if it fits.
// Returns {admitted, count}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', '(' .. (now - window))
local count = redis.call('ZCARD', key)
if count >= limit then
  return {0, count}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, count + 1}
`)

// RedisRateLimiter keeps a sorted set of admitted request timestamps per endpoint
type RedisRateLimiter struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisRateLimiter creates a sliding window rate limiter on Redis
func NewRedisRateLimiter(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, now: time.Now}
}

// Allow atomically trims, counts and records the request
func (rl *RedisRateLimiter) Allow(ctx context.Context, endpointID uuid.UUID, limit int) error {
	if limit <= 0 {
		return nil
	}

	key := fmt.Sprintf("ratelimit:endpoint:%s", endpointID)
	nowMs := rl.now().UnixMilli()

	res, err := slidingWindowScript.Run(ctx, rl.client, []string{key},
		nowMs, RateLimitWindow.Milliseconds(), limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return ErrInternal(fmt.Errorf("failed to check rate limit: %w", err))
	}
	if len(res) != 2 {
		return ErrInternal(fmt.Errorf("unexpected rate limit reply: %v", res))
	}
	if res[0] == 0 {
		return ErrRateLimited()
	}
	return nil
}
