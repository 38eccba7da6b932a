// Package ratelimit implements a per-tenant token bucket whose state lives
// in Redis, so admission is global across gateway instances. Bucket state is
// reconstructible from policy plus wall clock; losing it degrades to "fully
// refilled", never to "locked out".
package ratelimit

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vireopay/merchant-gateway/internal/apperr"
	"github.com/vireopay/merchant-gateway/internal/config"
	"github.com/vireopay/merchant-gateway/internal/logger"
	"github.com/vireopay/merchant-gateway/internal/metrics"
	"github.com/vireopay/merchant-gateway/internal/model"
)

const keyPrefix = "rl:tenant:"

// tokenBucket refills lazily from the stored timestamp, consumes if enough
// tokens remain, and reports the balance either way. One EVAL keeps the
// read-modify-write atomic across concurrent gateway instances.
var tokenBucket = redis.NewScript(`
local data = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end

local elapsed = (now - ts) / 1000.0
if elapsed > 0 then
  tokens = math.min(capacity, tokens + elapsed * refill)
end

local allowed = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'ts', now)
redis.call('PEXPIRE', KEYS[1], math.ceil(capacity / refill * 2000))

return {allowed, tostring(tokens)}
`)

type Limiter struct {
	rdb *redis.Client
	cfg config.RateLimitConfig
}

func NewLimiter(rdb *redis.Client, cfg config.RateLimitConfig) *Limiter {
	return &Limiter{rdb: rdb, cfg: cfg}
}

func (l *Limiter) bucketFor(kind model.TenantKind) (config.BucketConfig, bool) {
	switch kind {
	case model.KindMerchant:
		return l.cfg.Merchant, true
	case model.KindAgent:
		return l.cfg.Agent, true
	default:
		// employees are not metered
		return config.BucketConfig{}, false
	}
}

// Admit consumes cost tokens from the tenant's bucket. On exhaustion it
// returns a RateLimitError carrying the retry-after hint
// (tokens needed − available) / refill. If the shared store is unreachable
// the policy is fail-open: admit, warn, count.
func (l *Limiter) Admit(ctx context.Context, tenantID string, kind model.TenantKind, cost int) error {
	bucket, metered := l.bucketFor(kind)
	if !metered || bucket.Capacity <= 0 || bucket.Refill <= 0 {
		return nil
	}
	if cost <= 0 {
		cost = 1
	}

	key := keyPrefix + tenantID
	now := time.Now().UnixMilli()

	res, err := tokenBucket.Run(ctx, l.rdb, []string{key},
		bucket.Capacity, bucket.Refill, now, cost,
	).Slice()
	if err != nil {
		// Availability over strict enforcement: a cache outage must not
		// reject all traffic.
		logger.Log.Warn("rate limiter store unavailable, failing open",
			zap.String("tenant_id", tenantID), zap.Error(err))
		metrics.RateLimitFailOpenTotal.Inc()
		return nil
	}

	allowed, remaining := parseResult(res)
	if allowed {
		return nil
	}

	metrics.RateLimitedTotal.Inc()
	needed := float64(cost) - remaining
	if needed < 0 {
		needed = float64(cost)
	}
	retryAfter := time.Duration(math.Ceil(needed/bucket.Refill*1000)) * time.Millisecond
	return &apperr.RateLimitError{RetryAfter: retryAfter}
}

func parseResult(res []any) (bool, float64) {
	if len(res) != 2 {
		return true, 0
	}
	allowed, _ := res[0].(int64)
	var remaining float64
	if s, ok := res[1].(string); ok {
		remaining, _ = strconv.ParseFloat(s, 64)
	}
	return allowed == 1, remaining
}
