package middleware

import (
	"crypto/subtle"
	"net/http"

	echo "github.com/labstack/echo/v4"

	"github.com/vireopay/merchant-gateway/internal/model"
)

// AdminAuth gates the employee review surface on operator-provisioned keys
// from config. Employees get an employee-kind tenant context; they are not
// metered by the token bucket.
func AdminAuth(adminKeys []string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			presented := bearerSecret(c)
			if presented == "" || !matchAdminKey(presented, adminKeys) {
				c.Set(ctxErrorKind, "invalid_key")
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error":   "invalid_key",
					"message": "employee key required",
				})
			}

			c.Set(ctxTenant, &model.TenantContext{
				TenantID: "employee",
				Kind:     model.KindEmployee,
				Scopes:   []string{"onboarding:review", "reports:read"},
			})
			return next(c)
		}
	}
}

func matchAdminKey(presented string, adminKeys []string) bool {
	ok := false
	for _, k := range adminKeys {
		if subtle.ConstantTimeCompare([]byte(presented), []byte(k)) == 1 {
			ok = true
		}
	}
	return ok
}
