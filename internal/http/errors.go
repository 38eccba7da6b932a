package http

import (
	"errors"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v4"

	"github.com/vireopay/merchant-gateway/internal/apperr"
)

// errorBody is the wire error shape consumed by the SDKs.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrInvalidKey):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrTenantNotEligible):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidState),
		errors.Is(err, apperr.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrPSPVerification):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, apperr.ErrTransientInfra):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError maps a taxonomy error onto the wire and stashes its kind so
// the usage middleware can ledger the rejection.
func respondError(c echo.Context, err error) error {
	kind := apperr.Kind(err)
	c.Set("error_kind", kind)

	var rl *apperr.RateLimitError
	if errors.As(err, &rl) {
		secs := int(rl.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
	}

	msg := err.Error()
	if statusFor(err) >= http.StatusInternalServerError {
		// don't leak infra detail to tenants
		msg = "temporarily unavailable"
	}
	return c.JSON(statusFor(err), errorBody{Error: kind, Message: msg})
}
