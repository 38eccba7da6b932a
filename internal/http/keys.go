package http

import (
	"net/http"

	echo "github.com/labstack/echo/v4"

	"github.com/vireopay/merchant-gateway/internal/apperr"
	"github.com/vireopay/merchant-gateway/internal/http/middleware"
	"github.com/vireopay/merchant-gateway/internal/keys"
	"github.com/vireopay/merchant-gateway/internal/model"
)

func rotateKeyHandler(mgr *keys.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		tc, ok := middleware.TenantFromCtx(c)
		if !ok {
			return respondError(c, apperr.ErrInvalidKey)
		}

		issued, err := mgr.Rotate(c.Request().Context(), tc.TenantID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{
			"rotated": true,
			"api_key": issuedJSON(issued.Secret, issued.Key.ID, issued.Key.Prefix),
		})
	}
}

func listKeysHandler(mgr *keys.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		tc, ok := middleware.TenantFromCtx(c)
		if !ok {
			return respondError(c, apperr.ErrInvalidKey)
		}

		ks, err := mgr.List(c.Request().Context(), tc.TenantID)
		if err != nil {
			return respondError(c, err)
		}

		out := make([]map[string]any, 0, len(ks))
		for _, k := range ks {
			entry := map[string]any{
				"key_id":     k.ID,
				"prefix":     k.Prefix,
				"created_at": k.CreatedAt,
				"revoked":    k.Revoked(),
			}
			if k.RevokedAt != nil {
				entry["revoked_at"] = k.RevokedAt
			}
			if k.LastUsedAt != nil {
				entry["last_used_at"] = k.LastUsedAt
			}
			out = append(out, entry)
		}
		return c.JSON(http.StatusOK, map[string]any{"count": len(out), "keys": out})
	}
}

func revokeKeyHandler(mgr *keys.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		tc, ok := middleware.TenantFromCtx(c)
		if !ok {
			return respondError(c, apperr.ErrInvalidKey)
		}

		keyID := c.Param("id")
		// tenants may revoke only their own keys
		if tc.Kind != model.KindEmployee {
			owned, err := mgr.Owns(c.Request().Context(), tc.TenantID, keyID)
			if err != nil {
				return respondError(c, err)
			}
			if !owned {
				return respondError(c, apperr.ErrNotFound)
			}
		}

		if err := mgr.Revoke(c.Request().Context(), keyID); err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"revoked": true, "key_id": keyID})
	}
}

func whoamiHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		tc, ok := middleware.TenantFromCtx(c)
		if !ok {
			return respondError(c, apperr.ErrInvalidKey)
		}
		return c.JSON(http.StatusOK, map[string]any{
			"tenant_id":      tc.TenantID,
			"tenant_kind":    tc.Kind.String(),
			"scopes":         tc.Scopes,
			"deprecated_key": tc.DeprecatedKey,
		})
	}
}
