package ratelimit

import (
	"context"
	"errors"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Tokens are kept in thousandths so fractional refills survive the trip
// through Lua integers.
var takeToken = redis.NewScript(`
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2]) * 1000
local ttl = tonumber(ARGV[3])

local t = redis.call("TIME")
local now = (t[1] * 1000) + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "milli", "ts")
local milli = tonumber(state[1])
local ts = tonumber(state[2])
if milli == nil then
  milli = burst
else
  local elapsed = math.max(0, now - ts)
  milli = math.min(burst, milli + elapsed * rate)
end

local allowed = 0
if milli >= 1000 then
  allowed = 1
  milli = milli - 1000
end

redis.call("HSET", KEYS[1], "milli", math.floor(milli), "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)
return {allowed, math.floor(milli), now}
`)

// Policy is a refill rate in tokens per second and a bucket size.
type Policy struct {
	Rate  float64
	Burst int
}

func (p Policy) validate() error {
	if p.Rate <= 0 || math.IsNaN(p.Rate) || math.IsInf(p.Rate, 0) {
		return errors.New("rate limiter rate must be positive")
	}
	if p.Burst <= 0 {
		return errors.New("rate limiter burst must be positive")
	}
	return nil
}

// idle buckets expire once they would have refilled twice over
func (p Policy) ttl() time.Duration {
	seconds := math.Ceil(float64(p.Burst) / p.Rate * 2)
	return time.Duration(math.Max(seconds, 1)) * time.Second
}

type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
	At         time.Time
}

// TokenBucket is a shared token bucket evaluated atomically in redis.
type TokenBucket struct {
	client *redis.Client
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{client: client}
}

func (t *TokenBucket) Take(ctx context.Context, key string, policy Policy) (Decision, error) {
	if t == nil || t.client == nil {
		return Decision{}, errors.New("rate limiter not configured")
	}
	if key == "" {
		return Decision{}, errors.New("rate limiter key is empty")
	}
	if err := policy.validate(); err != nil {
		return Decision{}, err
	}

	res, err := takeToken.Run(ctx, t.client, []string{key},
		policy.Rate, policy.Burst, policy.ttl().Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(res) != 3 {
		return Decision{}, errors.New("invalid rate limit script response")
	}

	d := Decision{
		Allowed:   res[0] == 1,
		Remaining: int(res[1] / 1000),
		At:        time.UnixMilli(res[2]),
	}
	if !d.Allowed {
		missing := float64(1000-res[1]) / 1000
		d.RetryAfter = time.Duration(missing / policy.Rate * float64(time.Second))
	}
	return d, nil
}
