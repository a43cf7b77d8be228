package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills and consumes one actor's bucket atomically.
// KEYS[1] bucket key; ARGV: refill rate per second, capacity, cost,
// current unix time (fractional seconds).
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return allowed
`)

// Redis is the shared limiter: buckets live in Redis so every replica
// sees the same budget.
type Redis struct {
	client *redis.Client
	policy Policy
}

// NewRedis connects a limiter to one Redis instance.
func NewRedis(addr string, policy Policy) *Redis {
	return &Redis{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		policy: policy,
	}
}

func (r *Redis) Allow(ctx context.Context, fingerprint string) (bool, error) {
	perSec := float64(r.policy.RPM) / 60.0
	if perSec <= 0 {
		return true, nil
	}
	burst := r.policy.Burst
	if burst < 1 {
		burst = 1
	}
	now := float64(time.Now().UnixMicro()) / 1e6
	res, err := tokenBucketScript.Run(ctx, r.client, []string{"limiter:" + fingerprint},
		perSec, burst, 1, now).Int64()
	if err != nil {
		return false, fmt.Errorf("limiter: redis: %w", err)
	}
	return res == 1, nil
}

// Close releases the Redis connection.
func (r *Redis) Close() error { return r.client.Close() }
