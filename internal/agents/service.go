// Package agents provisions autonomous-agent tenants. An agent account is
// created lazily on the first sign-in that carries a valid external identity
// assertion; repeat sign-ins converge on the same row.
package agents

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/vireopay/merchant-gateway/internal/apperr"
	"github.com/vireopay/merchant-gateway/internal/config"
	"github.com/vireopay/merchant-gateway/internal/keys"
	"github.com/vireopay/merchant-gateway/internal/logger"
	"github.com/vireopay/merchant-gateway/internal/model"
	"github.com/vireopay/merchant-gateway/internal/repository"
)

type Service struct {
	agents repository.AgentsRepository
	keys   *keys.Manager
	cfg    config.AgentAuthConfig
}

func New(agentsRepo repository.AgentsRepository, keyManager *keys.Manager, cfg config.AgentAuthConfig) *Service {
	return &Service{agents: agentsRepo, keys: keyManager, cfg: cfg}
}

// identity is what we trust out of a verified assertion.
type identity struct {
	Subject string
	Name    string
	Email   string
}

func (s *Service) verifyAssertion(assertion string) (*identity, error) {
	tok, err := jwt.Parse(assertion, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithIssuer(s.cfg.Issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: identity assertion rejected: %v", apperr.ErrValidation, err)
	}

	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: malformed assertion claims", apperr.ErrValidation)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: assertion missing subject", apperr.ErrValidation)
	}

	id := &identity{Subject: sub}
	if v, ok := claims["name"].(string); ok {
		id.Name = v
	}
	if v, ok := claims["email"].(string); ok {
		id.Email = v
	}
	return id, nil
}

// SignIn verifies the assertion, resolves (or creates) the agent account,
// and rotates its API key so exactly one key is live afterwards. The raw
// secret is returned once.
func (s *Service) SignIn(ctx context.Context, assertion string) (*model.AgentAccount, *keys.Issued, error) {
	id, err := s.verifyAssertion(assertion)
	if err != nil {
		return nil, nil, err
	}

	agent, err := s.agents.GetOrCreate(ctx, id.Subject, id.Name, id.Email)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: agent get-or-create: %v", apperr.ErrTransientInfra, err)
	}
	if !agent.IsActive {
		return nil, nil, apperr.ErrTenantNotEligible
	}

	issued, err := s.keys.Rotate(ctx, agent.ID)
	if err != nil {
		return nil, nil, err
	}

	logger.Log.Info("agent signed in", zap.String("agent_id", agent.ID))
	return agent, issued, nil
}
