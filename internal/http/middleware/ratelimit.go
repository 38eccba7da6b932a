package middleware

import (
	"errors"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v4"

	"github.com/vireopay/merchant-gateway/internal/apperr"
	"github.com/vireopay/merchant-gateway/internal/ratelimit"
)

// RateLimit admits requests through the shared token bucket. It expects the
// tenant context in echo.Context (set by TenantAuth).
func RateLimit(limiter *ratelimit.Limiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tc, ok := TenantFromCtx(c)
			if !ok {
				return next(c)
			}

			err := limiter.Admit(c.Request().Context(), tc.TenantID, tc.Kind, 1)
			if err == nil {
				return next(c)
			}

			c.Set(ctxErrorKind, apperr.Kind(err))

			var rl *apperr.RateLimitError
			if errors.As(err, &rl) {
				secs := int(rl.RetryAfter.Seconds())
				if secs < 1 {
					secs = 1
				}
				c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
			}
			return c.JSON(http.StatusTooManyRequests, map[string]string{
				"error":   "rate_limit_exceeded",
				"message": "rate limited",
			})
		}
	}
}
