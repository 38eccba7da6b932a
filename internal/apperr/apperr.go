// Package apperr defines the rejection taxonomy shared by the onboarding
// state machine, the key manager, the limiter, and the gateway. Handlers
// match with errors.Is and map kinds to HTTP statuses; the usage ledger
// records the kind string so dashboards can tell abuse from integration bugs
// from PSP outages.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidation: bad input, the client's fault. Never retried.
	ErrValidation = errors.New("validation error")

	// ErrInvalidState: the requested transition is not legal from the
	// record's current status.
	ErrInvalidState = errors.New("invalid state")

	// ErrConcurrentModification: the status precondition raced with another
	// writer. Caller should re-fetch and decide.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrPSPVerification: the provider rejected the credential. Surfaced
	// verbatim, never silently retried.
	ErrPSPVerification = errors.New("psp verification failed")

	// ErrInvalidKey: no active key matches the presented secret.
	ErrInvalidKey = errors.New("invalid api key")

	// ErrRateLimited: token bucket exhausted. Usually carried inside a
	// RateLimitError with a retry hint.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrTenantNotEligible: business rule rejection (merchant not active,
	// agent deactivated).
	ErrTenantNotEligible = errors.New("tenant not eligible")

	// ErrTransientInfra: store or verifier network fault. Eligible for one
	// bounded retry, then surfaced.
	ErrTransientInfra = errors.New("transient infrastructure error")

	// ErrNotFound: no such record.
	ErrNotFound = errors.New("not found")
)

// RateLimitError carries the retry-after hint computed from the bucket's
// refill rate. errors.Is(err, ErrRateLimited) matches it.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// Kind returns the stable taxonomy tag recorded in the usage ledger.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrConcurrentModification):
		return "concurrent_modification"
	case errors.Is(err, ErrPSPVerification):
		return "psp_verification_error"
	case errors.Is(err, ErrInvalidKey):
		return "invalid_key"
	case errors.Is(err, ErrRateLimited):
		return "rate_limit_exceeded"
	case errors.Is(err, ErrTenantNotEligible):
		return "tenant_not_eligible"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTransientInfra):
		return "transient_infra_error"
	default:
		return "internal_error"
	}
}
