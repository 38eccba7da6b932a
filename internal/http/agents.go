package http

import (
	"net/http"

	echo "github.com/labstack/echo/v4"

	"github.com/vireopay/merchant-gateway/internal/agents"
)

type signinReq struct {
	Assertion string `json:"assertion"` // external identity JWT
}

func agentSigninHandler(svc *agents.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req signinReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody{Error: "validation_error", Message: "bad request"})
		}

		agent, issued, err := svc.SignIn(c.Request().Context(), req.Assertion)
		if err != nil {
			return respondError(c, err)
		}

		return c.JSON(http.StatusOK, map[string]any{
			"agent": map[string]any{
				"id":           agent.ID,
				"display_name": agent.DisplayName,
				"created_at":   agent.CreatedAt,
			},
			"api_key": issuedJSON(issued.Secret, issued.Key.ID, issued.Key.Prefix),
		})
	}
}
