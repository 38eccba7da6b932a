// Package psp verifies payment-service-provider credentials through
// read-only provider endpoints. Verification is a pure function of
// (provider, credential); nothing here persists credentials.
package psp

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vireopay/merchant-gateway/internal/apperr"
	"github.com/vireopay/merchant-gateway/internal/config"
	"github.com/vireopay/merchant-gateway/internal/logger"
	"github.com/vireopay/merchant-gateway/internal/metrics"
)

// Verdict is a provider's answer about one credential.
type Verdict struct {
	Valid  bool
	Scopes []string
}

// Verifier checks a credential against one provider. A rejected credential
// is (Verdict{Valid: false}, nil); a returned error means the provider could
// not be asked (network, timeout) and is the only case eligible for retry.
type Verifier interface {
	Name() string
	Verify(ctx context.Context, credential string) (Verdict, error)
}

type wrapped struct {
	v       Verifier
	br      *Breaker
	timeout time.Duration
}

// Service fronts all configured providers with per-provider timeout,
// circuit breaking, and a single bounded retry on transport faults.
type Service struct {
	providers map[string]*wrapped
}

// NewService builds the provider set from config. Unknown names become
// generic HTTP verifiers; "stripe" gets the SDK-backed adapter.
func NewService(cfgs []config.PSPConfig) *Service {
	s := &Service{providers: make(map[string]*wrapped)}
	for _, c := range cfgs {
		if !c.Enabled {
			continue
		}
		timeout := time.Duration(c.TimeoutMs) * time.Millisecond
		if timeout <= 0 {
			timeout = 8 * time.Second
		}

		var v Verifier
		if c.Name == "stripe" {
			v = NewStripeVerifier(timeout)
		} else {
			v = NewHTTPVerifier(c.Name, c.BaseURL, c.VerifyPath, timeout)
		}

		s.providers[c.Name] = &wrapped{
			v:       v,
			br:      NewBreaker(c.Breaker.FailThreshold, time.Duration(c.Breaker.OpenForMs)*time.Millisecond),
			timeout: timeout,
		}
	}
	return s
}

// Register adds or replaces a provider. Tests use it to plug stubs.
func (s *Service) Register(name string, v Verifier, timeout time.Duration) {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	s.providers[name] = &wrapped{v: v, br: NewBreaker(0, 0), timeout: timeout}
}

// Verify asks the named provider about a credential. Transport faults get
// exactly one retry; invalid-credential verdicts are never retried.
func (s *Service) Verify(ctx context.Context, provider, credential string) (Verdict, error) {
	w, ok := s.providers[provider]
	if !ok {
		return Verdict{}, fmt.Errorf("%w: unknown psp provider %q", apperr.ErrValidation, provider)
	}

	if !w.br.TryAcquire() {
		metrics.PSPVerificationsTotal.WithLabelValues(provider, "error").Inc()
		return Verdict{}, fmt.Errorf("%w: provider %s circuit open", apperr.ErrTransientInfra, provider)
	}

	verdict, err := s.attempt(ctx, w, credential)
	if err != nil {
		// one bounded retry, transport faults only
		logger.Log.Warn("psp verify transient failure, retrying once",
			zap.String("provider", provider), zap.Error(err))
		verdict, err = s.attempt(ctx, w, credential)
	}

	if err != nil {
		w.br.OnFailure()
		metrics.PSPVerificationsTotal.WithLabelValues(provider, "error").Inc()
		return Verdict{}, fmt.Errorf("%w: verify via %s: %v", apperr.ErrTransientInfra, provider, err)
	}

	w.br.OnSuccess()
	if verdict.Valid {
		metrics.PSPVerificationsTotal.WithLabelValues(provider, "valid").Inc()
	} else {
		metrics.PSPVerificationsTotal.WithLabelValues(provider, "invalid").Inc()
	}
	return verdict, nil
}

func (s *Service) attempt(ctx context.Context, w *wrapped, credential string) (Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	return w.v.Verify(ctx, credential)
}
