package psp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, b.TryAcquire())
		b.OnFailure()
	}
	assert.False(t, b.TryAcquire(), "third consecutive fault opens the breaker")
}

func TestBreakerFailuresResetOnSuccess(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	b.OnFailure()
	b.OnFailure()
	b.OnSuccess()
	b.OnFailure()
	b.OnFailure()
	assert.True(t, b.TryAcquire(), "non-consecutive faults must not open it")
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := NewBreaker(1, 10*time.Millisecond)

	b.OnFailure()
	assert.False(t, b.TryAcquire())

	time.Sleep(15 * time.Millisecond)

	assert.True(t, b.TryAcquire(), "open window elapsed: one probe goes through")
	assert.False(t, b.TryAcquire(), "second call while the probe is in flight is shed")

	b.OnSuccess()
	assert.True(t, b.TryAcquire(), "successful probe closes the breaker")
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	b := NewBreaker(1, 10*time.Millisecond)

	b.OnFailure()
	time.Sleep(15 * time.Millisecond)
	assert.True(t, b.TryAcquire())
	b.OnFailure()

	assert.False(t, b.TryAcquire(), "failed probe restarts the open window")
}
