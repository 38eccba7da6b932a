package http

import (
	"net/http"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/vireopay/merchant-gateway/internal/model"
	"github.com/vireopay/merchant-gateway/internal/onboarding"
)

type registerReq struct {
	LegalName     string `json:"legal_name"`
	ContactEmail  string `json:"contact_email"`
	Country       string `json:"country"`
	MonthlyVolume int64  `json:"monthly_volume"`
}

func merchantJSON(m *model.MerchantAccount) map[string]any {
	out := map[string]any{
		"id":             m.ID,
		"legal_name":     m.LegalName,
		"contact_email":  m.ContactEmail,
		"country":        m.Country,
		"monthly_volume": m.MonthlyVolume,
		"status":         m.Status.String(),
		"created_at":     m.CreatedAt,
	}
	if m.RejectReason != nil && *m.RejectReason != "" {
		out["reject_reason"] = *m.RejectReason
	}
	if m.PSPProvider != nil {
		out["psp"] = map[string]any{
			"provider":    *m.PSPProvider,
			"validated":   m.PSPValidated,
			"verified_at": m.PSPVerifiedAt,
		}
	}
	return out
}

// issuedJSON carries the raw secret. It appears in exactly one response and
// is never logged.
func issuedJSON(secret, keyID, prefix string) map[string]any {
	return map[string]any{
		"key_id": keyID,
		"prefix": prefix,
		"secret": secret,
	}
}

func registerMerchantHandler(svc *onboarding.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req registerReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody{Error: "validation_error", Message: "bad request"})
		}

		m, err := svc.SubmitRegistration(c.Request().Context(), onboarding.Registration{
			LegalName:     req.LegalName,
			ContactEmail:  req.ContactEmail,
			Country:       req.Country,
			MonthlyVolume: req.MonthlyVolume,
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusCreated, merchantJSON(m))
	}
}

func getMerchantHandler(svc *onboarding.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		m, docs, err := svc.Get(c.Request().Context(), c.Param("id"))
		if err != nil {
			return respondError(c, err)
		}

		docList := make([]map[string]any, 0, len(docs))
		for _, d := range docs {
			docList = append(docList, map[string]any{
				"type":        d.Type,
				"blob_ref":    d.BlobRef,
				"uploaded_at": d.UploadedAt,
			})
		}
		out := merchantJSON(m)
		out["documents"] = docList
		return c.JSON(http.StatusOK, out)
	}
}

type uploadDocReq struct {
	Type    string `json:"type"`
	BlobRef string `json:"blob_ref"`
}

func uploadDocumentHandler(svc *onboarding.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req uploadDocReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody{Error: "validation_error", Message: "bad request"})
		}

		m, err := svc.UploadDocument(c.Request().Context(), c.Param("id"), req.Type, req.BlobRef)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, merchantJSON(m))
	}
}

type reviewReq struct {
	Decision string `json:"decision"` // "approve" | "reject"
	Reason   string `json:"reason"`
}

func reviewHandler(svc *onboarding.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req reviewReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody{Error: "validation_error", Message: "bad request"})
		}

		m, err := svc.Review(c.Request().Context(), c.Param("id"), onboarding.Decision(req.Decision), req.Reason)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, merchantJSON(m))
	}
}

func resetHandler(svc *onboarding.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		m, err := svc.Reset(c.Request().Context(), c.Param("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, merchantJSON(m))
	}
}

type connectPSPReq struct {
	Provider   string `json:"provider"`
	Credential string `json:"credential"`
}

func connectPSPHandler(svc *onboarding.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req connectPSPReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody{Error: "validation_error", Message: "bad request"})
		}

		m, issued, err := svc.ConnectPSP(c.Request().Context(), c.Param("id"), req.Provider, req.Credential)
		if err != nil {
			if m != nil {
				// activation committed but key issuance failed
				log.Errorf("psp connect: activation ok, key issue failed: %v", err)
			}
			return respondError(c, err)
		}

		out := merchantJSON(m)
		out["api_key"] = issuedJSON(issued.Secret, issued.Key.ID, issued.Key.Prefix)
		return c.JSON(http.StatusOK, out)
	}
}

func deleteMerchantHandler(svc *onboarding.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := svc.Delete(c.Request().Context(), c.Param("id")); err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"deleted": true, "id": c.Param("id")})
	}
}

func funnelHandler(svc *onboarding.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		counts, err := svc.Funnel(c.Request().Context())
		if err != nil {
			return respondError(c, err)
		}

		out := make(map[string]int64, len(counts))
		for st, n := range counts {
			out[st.String()] = n
		}
		return c.JSON(http.StatusOK, map[string]any{"funnel": out})
	}
}
