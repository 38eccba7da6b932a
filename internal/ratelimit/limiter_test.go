package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vireopay/merchant-gateway/internal/apperr"
	"github.com/vireopay/merchant-gateway/internal/config"
	"github.com/vireopay/merchant-gateway/internal/model"
)

func testCfg() config.RateLimitConfig {
	return config.RateLimitConfig{
		Merchant: config.BucketConfig{Capacity: 100, Refill: 50},
		Agent:    config.BucketConfig{Capacity: 20, Refill: 5},
	}
}

func TestBucketFor(t *testing.T) {
	l := NewLimiter(nil, testCfg())

	b, metered := l.bucketFor(model.KindMerchant)
	assert.True(t, metered)
	assert.Equal(t, 100, b.Capacity)

	b, metered = l.bucketFor(model.KindAgent)
	assert.True(t, metered)
	assert.Equal(t, 20, b.Capacity)

	_, metered = l.bucketFor(model.KindEmployee)
	assert.False(t, metered, "employees are not metered")
}

func TestAdmitUnmeteredKinds(t *testing.T) {
	// nil client: proof that unmetered paths never touch the store
	l := NewLimiter(nil, testCfg())

	assert.NoError(t, l.Admit(context.Background(), "employee", model.KindEmployee, 1))

	zero := NewLimiter(nil, config.RateLimitConfig{})
	assert.NoError(t, zero.Admit(context.Background(), "merch_x", model.KindMerchant, 1),
		"an unconfigured bucket admits everything")
}

func miniLimiter(t *testing.T, cfg config.RateLimitConfig) *Limiter {
	t.Helper()
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewLimiter(rdb, cfg)
}

func TestAdmitEnforcesBurstCapacity(t *testing.T) {
	l := miniLimiter(t, config.RateLimitConfig{
		Merchant: config.BucketConfig{Capacity: 3, Refill: 1},
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Admit(ctx, "merch_a", model.KindMerchant, 1), "call %d within capacity", i+1)
	}

	err := l.Admit(ctx, "merch_a", model.KindMerchant, 1)
	require.Error(t, err, "a burst above capacity is rejected")
	assert.ErrorIs(t, err, apperr.ErrRateLimited)

	var rl *apperr.RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Greater(t, rl.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, rl.RetryAfter, time.Second, "one token refills within a second at 1 token/s")
}

func TestAdmitIsolatesTenants(t *testing.T) {
	l := miniLimiter(t, config.RateLimitConfig{
		Merchant: config.BucketConfig{Capacity: 2, Refill: 1},
		Agent:    config.BucketConfig{Capacity: 1, Refill: 1},
	})
	ctx := context.Background()

	require.NoError(t, l.Admit(ctx, "merch_a", model.KindMerchant, 1))
	require.NoError(t, l.Admit(ctx, "merch_a", model.KindMerchant, 1))
	require.Error(t, l.Admit(ctx, "merch_a", model.KindMerchant, 1))

	assert.NoError(t, l.Admit(ctx, "merch_b", model.KindMerchant, 1),
		"one tenant exhausting its bucket leaves the others untouched")
	assert.NoError(t, l.Admit(ctx, "agent_a", model.KindAgent, 1),
		"agents draw from their own tier")
}

func TestAdmitRefillsOverTime(t *testing.T) {
	l := miniLimiter(t, config.RateLimitConfig{
		Merchant: config.BucketConfig{Capacity: 1, Refill: 40},
	})
	ctx := context.Background()

	require.NoError(t, l.Admit(ctx, "merch_a", model.KindMerchant, 1))
	require.Error(t, l.Admit(ctx, "merch_a", model.KindMerchant, 1))

	// 40 tokens/s puts a whole token back within 25ms
	time.Sleep(60 * time.Millisecond)
	assert.NoError(t, l.Admit(ctx, "merch_a", model.KindMerchant, 1))
}

func TestAdmitChargesMultiTokenCost(t *testing.T) {
	l := miniLimiter(t, config.RateLimitConfig{
		Merchant: config.BucketConfig{Capacity: 5, Refill: 1},
	})
	ctx := context.Background()

	require.NoError(t, l.Admit(ctx, "merch_a", model.KindMerchant, 3))
	require.Error(t, l.Admit(ctx, "merch_a", model.KindMerchant, 3),
		"two tokens left cannot cover a cost of three")
	assert.NoError(t, l.Admit(ctx, "merch_a", model.KindMerchant, 2))
}

func TestAdmitFailsOpenWhenStoreUnreachable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	l := NewLimiter(rdb, testCfg())

	err := l.Admit(context.Background(), "merch_x", model.KindMerchant, 1)
	assert.NoError(t, err, "a store outage must not reject traffic")
}

func TestParseResult(t *testing.T) {
	allowed, remaining := parseResult([]any{int64(1), "42.5"})
	assert.True(t, allowed)
	assert.Equal(t, 42.5, remaining)

	allowed, remaining = parseResult([]any{int64(0), "0.25"})
	assert.False(t, allowed)
	assert.Equal(t, 0.25, remaining)

	// malformed reply degrades to admit
	allowed, _ = parseResult(nil)
	assert.True(t, allowed)
}
