package psp

import (
	"context"
	"errors"
	"net/http"
	"time"

	stripe "github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
)

// StripeVerifier confirms a merchant-supplied secret key is live by fetching
// the account balance, Stripe's cheapest credential-scoped read.
type StripeVerifier struct {
	httpClient *http.Client
}

func NewStripeVerifier(timeout time.Duration) *StripeVerifier {
	return &StripeVerifier{
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (v *StripeVerifier) Name() string { return "stripe" }

func (v *StripeVerifier) Verify(ctx context.Context, credential string) (Verdict, error) {
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient: v.httpClient,
		LeveledLogger: &stripe.LeveledLogger{Level: stripe.LevelError},
	})

	sc := &client.API{}
	sc.Init(credential, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})

	bal, err := sc.Balance.Get(&stripe.BalanceParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			switch stripeErr.Type {
			case stripe.ErrorTypeAuthentication, stripe.ErrorTypeInvalidRequest:
				// The provider answered: the credential is no good.
				return Verdict{Valid: false}, nil
			}
		}
		return Verdict{}, err
	}

	scopes := []string{"balance:read", "charges:write"}
	if bal.Livemode {
		scopes = append(scopes, "livemode")
	}
	return Verdict{Valid: true, Scopes: scopes}, nil
}
