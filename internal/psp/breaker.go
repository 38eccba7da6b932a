package psp

import (
	"sync"
	"time"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// Breaker sheds verification calls to a provider that keeps failing at the
// network level. Invalid-credential verdicts do not count as failures; only
// transport faults open it.
type Breaker struct {
	mu               sync.Mutex
	st               breakerState
	consecutiveFails int
	failThreshold    int
	openFor          time.Duration
	nextTryAt        time.Time
	probeInFlight    bool
}

func NewBreaker(threshold int, openFor time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 3
	}
	if openFor <= 0 {
		openFor = 15 * time.Second
	}
	return &Breaker{failThreshold: threshold, openFor: openFor}
}

// TryAcquire reports whether a call may proceed. When the open window has
// elapsed a single probe is let through.
func (b *Breaker) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	switch b.st {
	case stateClosed:
		return true
	case stateOpen:
		if now.After(b.nextTryAt) && !b.probeInFlight {
			b.st = stateHalfOpen
			b.probeInFlight = true
			return true
		}
		return false
	case stateHalfOpen:
		if !b.probeInFlight {
			b.probeInFlight = true
			return true
		}
		return false
	default:
		return true
	}
}

func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	b.consecutiveFails = 0
	b.st = stateClosed
	b.probeInFlight = false
	b.mu.Unlock()
}

func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.st == stateHalfOpen {
		b.st = stateOpen
		b.nextTryAt = time.Now().Add(b.openFor)
		b.probeInFlight = false
		return
	}

	b.consecutiveFails++
	if b.consecutiveFails >= b.failThreshold {
		b.st = stateOpen
		b.nextTryAt = time.Now().Add(b.openFor)
	}
}
