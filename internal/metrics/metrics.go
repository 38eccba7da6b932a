package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchgw_requests_total",
			Help: "Gateway requests by tenant kind and outcome",
		},
		[]string{"kind", "outcome"}, // merchant|agent|employee , success|error
	)

	AuthFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchgw_auth_failures_total",
			Help: "Key authentication failures by reason",
		},
		[]string{"reason"}, // missing|invalid|revoked
	)

	RateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "merchgw_rate_limited_total",
			Help: "Requests rejected by the token bucket limiter",
		},
	)

	RateLimitFailOpenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "merchgw_rate_limit_fail_open_total",
			Help: "Admissions granted because the limiter store was unreachable",
		},
	)

	UsageDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "merchgw_usage_dropped_total",
			Help: "Usage records dropped after a failed ledger publish",
		},
	)

	PSPVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchgw_psp_verifications_total",
			Help: "PSP credential verifications by provider and verdict",
		},
		[]string{"provider", "verdict"}, // valid|invalid|error
	)
)

// MustRegister registers every gateway collector on r. Collectors already
// present are skipped, so constructing more than one server against the
// default registerer stays safe.
func MustRegister(r prometheus.Registerer) {
	collectors := []prometheus.Collector{
		RequestsTotal,
		AuthFailuresTotal,
		RateLimitedTotal,
		RateLimitFailOpenTotal,
		UsageDroppedTotal,
		PSPVerificationsTotal,
	}
	for _, c := range collectors {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}
