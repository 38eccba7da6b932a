package middleware

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"

	"github.com/vireopay/merchant-gateway/internal/apperr"
	"github.com/vireopay/merchant-gateway/internal/keys"
	"github.com/vireopay/merchant-gateway/internal/metrics"
	"github.com/vireopay/merchant-gateway/internal/model"
)

const (
	ctxTenant    = "tenant"
	ctxErrorKind = "error_kind"
)

// TenantFromCtx extracts the authenticated tenant context set by TenantAuth.
func TenantFromCtx(c echo.Context) (*model.TenantContext, bool) {
	tc, ok := c.Get(ctxTenant).(*model.TenantContext)
	return tc, ok
}

// bearerSecret pulls the key from the Authorization header only. Secrets in
// query strings or bodies would leak into access logs, so those are never
// accepted.
func bearerSecret(c echo.Context) string {
	h := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[len("Bearer "):])
	}
	return ""
}

// TenantAuth authenticates requests by API key and stores the tenant context
// for downstream middleware and handlers.
func TenantAuth(mgr *keys.Manager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := bearerSecret(c)
			if raw == "" {
				metrics.AuthFailuresTotal.WithLabelValues("missing").Inc()
				c.Set(ctxErrorKind, apperr.Kind(apperr.ErrInvalidKey))
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error":   "invalid_key",
					"message": "missing api key",
				})
			}

			tc, err := mgr.Authenticate(c.Request().Context(), raw)
			if err != nil {
				metrics.AuthFailuresTotal.WithLabelValues("invalid").Inc()
				c.Set(ctxErrorKind, apperr.Kind(err))
				status := http.StatusUnauthorized
				msg := "invalid api key"
				if apperr.Kind(err) == "tenant_not_eligible" {
					status = http.StatusForbidden
					msg = "tenant is not eligible"
				}
				return c.JSON(status, map[string]string{
					"error":   apperr.Kind(err),
					"message": msg,
				})
			}

			if tc.DeprecatedKey {
				c.Response().Header().Set("Warning", `299 - "legacy api key format; rotate to a vk_ key"`)
			}
			c.Set(ctxTenant, tc)
			return next(c)
		}
	}
}
