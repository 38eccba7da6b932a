package http

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v4"

	"github.com/vireopay/merchant-gateway/internal/apperr"
	"github.com/vireopay/merchant-gateway/internal/http/middleware"
	"github.com/vireopay/merchant-gateway/internal/repository"
)

// timeWindow parses optional from/to query params (RFC3339), defaulting to
// the trailing span.
func timeWindow(c echo.Context, span time.Duration) (time.Time, time.Time) {
	to := time.Now().UTC()
	from := to.Add(-span)
	if v := c.QueryParam("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			from = t
		}
	}
	if v := c.QueryParam("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			to = t
		}
	}
	return from, to
}

func usageSummaryHandler(ledger repository.CHUsageRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		tc, ok := middleware.TenantFromCtx(c)
		if !ok {
			return respondError(c, apperr.ErrInvalidKey)
		}

		from, to := timeWindow(c, 24*time.Hour)
		rows, err := ledger.Summary(c.Request().Context(), tc.TenantID, from, to)
		if err != nil {
			c.Logger().Errorf("usage summary query failed: %v", err)
			return respondError(c, apperr.ErrTransientInfra)
		}

		return c.JSON(http.StatusOK, map[string]any{
			"from":    from,
			"to":      to,
			"count":   len(rows),
			"results": rows,
		})
	}
}

func usageTimelineHandler(ledger repository.CHUsageRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		tc, ok := middleware.TenantFromCtx(c)
		if !ok {
			return respondError(c, apperr.ErrInvalidKey)
		}

		from, to := timeWindow(c, 7*24*time.Hour)
		rows, err := ledger.Timeline(c.Request().Context(), tc.TenantID, from, to)
		if err != nil {
			c.Logger().Errorf("usage timeline query failed: %v", err)
			return respondError(c, apperr.ErrTransientInfra)
		}

		return c.JSON(http.StatusOK, map[string]any{
			"from":    from,
			"to":      to,
			"count":   len(rows),
			"results": rows,
		})
	}
}
