package middleware

import (
	"time"

	echo "github.com/labstack/echo/v4"

	"github.com/vireopay/merchant-gateway/internal/metrics"
	"github.com/vireopay/merchant-gateway/internal/model"
	"github.com/vireopay/merchant-gateway/internal/usage"
)

// RecordUsage ledgers every call that passes through the gateway, including
// short-circuited auth and rate-limit rejections, so analytics sees failures
// too. It sits outermost in the chain; recording is fire-and-forget and
// never affects the response.
func RecordUsage(rec *usage.Recorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			tenantID := "unknown"
			kind := model.TenantKind("")
			if tc, ok := TenantFromCtx(c); ok {
				tenantID = tc.TenantID
				kind = tc.Kind
			}

			outcome := model.OutcomeSuccess
			errorKind, _ := c.Get(ctxErrorKind).(string)
			if err != nil || errorKind != "" || c.Response().Status >= 400 {
				outcome = model.OutcomeError
				if errorKind == "" {
					errorKind = "internal_error"
				}
			}

			rec.Record(model.UsageRecord{
				TenantID:   tenantID,
				TenantKind: kind,
				Endpoint:   c.Request().Method + " " + c.Path(),
				Outcome:    outcome,
				ErrorKind:  errorKind,
				LatencyMs:  time.Since(start).Milliseconds(),
			})
			metrics.RequestsTotal.WithLabelValues(kind.String(), outcome.String()).Inc()

			return err
		}
	}
}
