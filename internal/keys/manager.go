// Package keys issues, authenticates, rotates, and revokes tenant API keys.
// Secrets are ≥256-bit random values; only their sha256 hash is stored, and
// the raw value is returned exactly once at issuance.
package keys

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/vireopay/merchant-gateway/internal/apperr"
	"github.com/vireopay/merchant-gateway/internal/logger"
	"github.com/vireopay/merchant-gateway/internal/model"
	"github.com/vireopay/merchant-gateway/internal/repository"
	"github.com/vireopay/merchant-gateway/internal/util"
)

const (
	secretPrefix = "vk_"
	// displayLen covers "vk_" plus the first hex chars, enough for a tenant
	// to tell keys apart in a portal list.
	displayLen = 11
)

// Issued is the one-time issuance result. Secret is never persisted.
type Issued struct {
	Key    model.APIKey
	Secret string
}

type Manager struct {
	keys      repository.APIKeysRepository
	merchants repository.MerchantsRepository
	agents    repository.AgentsRepository
}

func NewManager(
	keysRepo repository.APIKeysRepository,
	merchantsRepo repository.MerchantsRepository,
	agentsRepo repository.AgentsRepository,
) *Manager {
	return &Manager{keys: keysRepo, merchants: merchantsRepo, agents: agentsRepo}
}

// newSecret returns (raw, hash, prefix). 32 bytes of entropy, hex encoded.
func newSecret() (string, string, string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", "", fmt.Errorf("key entropy: %w", err)
	}
	raw := secretPrefix + hex.EncodeToString(buf)
	sum := sha256.Sum256([]byte(raw))
	return raw, hex.EncodeToString(sum[:]), raw[:displayLen], nil
}

func hashSecret(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// kindOf derives the tenant class from the id prefix.
func kindOf(tenantID string) (model.TenantKind, bool) {
	switch {
	case strings.HasPrefix(tenantID, "merch_"):
		return model.KindMerchant, true
	case strings.HasPrefix(tenantID, "agent_"):
		return model.KindAgent, true
	}
	return "", false
}

// eligible reports whether the tenant may hold a usable key right now.
func (m *Manager) eligible(ctx context.Context, tenantID string, kind model.TenantKind) error {
	switch kind {
	case model.KindMerchant:
		mr, err := m.merchants.GetByID(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("%w: merchant lookup: %v", apperr.ErrTransientInfra, err)
		}
		if mr == nil {
			return apperr.ErrNotFound
		}
		if mr.Status != model.StatusActive || mr.DeletedAt != nil {
			return apperr.ErrTenantNotEligible
		}
	case model.KindAgent:
		ag, err := m.agents.GetByID(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("%w: agent lookup: %v", apperr.ErrTransientInfra, err)
		}
		if ag == nil {
			return apperr.ErrNotFound
		}
		if !ag.IsActive {
			return apperr.ErrTenantNotEligible
		}
	default:
		return apperr.ErrTenantNotEligible
	}
	return nil
}

func newKeyRow(tenantID string, kind model.TenantKind) (model.APIKey, string, error) {
	raw, hash, prefix, err := newSecret()
	if err != nil {
		return model.APIKey{}, "", err
	}
	return model.APIKey{
		ID:         "key_" + util.NewULID(),
		TenantID:   tenantID,
		TenantKind: kind,
		Hash:       hash,
		Prefix:     prefix,
	}, raw, nil
}

// Issue mints a key for an authorize-able tenant.
func (m *Manager) Issue(ctx context.Context, tenantID string) (*Issued, error) {
	kind, ok := kindOf(tenantID)
	if !ok {
		return nil, fmt.Errorf("%w: unrecognized tenant id", apperr.ErrValidation)
	}
	if err := m.eligible(ctx, tenantID, kind); err != nil {
		return nil, err
	}

	k, raw, err := newKeyRow(tenantID, kind)
	if err != nil {
		return nil, err
	}
	if err := m.keys.Insert(ctx, k); err != nil {
		return nil, fmt.Errorf("%w: insert key: %v", apperr.ErrTransientInfra, err)
	}
	return &Issued{Key: k, Secret: raw}, nil
}

// Authenticate resolves a presented raw secret to the owning tenant context.
// The presented value is re-hashed and compared; the stored hash is never
// reversed. Comparison is constant-time in the key content.
func (m *Manager) Authenticate(ctx context.Context, rawKey string) (*model.TenantContext, error) {
	if rawKey == "" {
		return nil, apperr.ErrInvalidKey
	}

	computed := hashSecret(rawKey)
	k, err := m.keys.GetActiveByHash(ctx, computed)
	if err != nil {
		return nil, fmt.Errorf("%w: key lookup: %v", apperr.ErrTransientInfra, err)
	}
	if k != nil {
		if subtle.ConstantTimeCompare([]byte(k.Hash), []byte(computed)) != 1 {
			return nil, apperr.ErrInvalidKey
		}
		if err := m.eligible(ctx, k.TenantID, k.TenantKind); err != nil {
			return nil, err
		}
		if err := m.keys.TouchLastUsed(ctx, k.ID); err != nil {
			logger.Log.Warn("last_used touch failed", zap.String("key_id", k.ID), zap.Error(err))
		}
		return &model.TenantContext{
			TenantID: k.TenantID,
			Kind:     k.TenantKind,
			Scopes:   scopesFor(k.TenantKind),
			KeyID:    k.ID,
		}, nil
	}

	// Deprecated fallback: plaintext keys from before the hash migration.
	// Tried only after the primary lookup misses.
	mr, err := m.merchants.GetByLegacyKey(ctx, rawKey)
	if err != nil {
		return nil, fmt.Errorf("%w: legacy key lookup: %v", apperr.ErrTransientInfra, err)
	}
	if mr == nil || mr.Status != model.StatusActive {
		return nil, apperr.ErrInvalidKey
	}
	return &model.TenantContext{
		TenantID:      mr.ID,
		Kind:          model.KindMerchant,
		Scopes:        scopesFor(model.KindMerchant),
		DeprecatedKey: true,
	}, nil
}

// Revoke logically destroys a key. Idempotent: an already-revoked key is a
// no-op success.
func (m *Manager) Revoke(ctx context.Context, keyID string) error {
	k, err := m.keys.GetByID(ctx, keyID)
	if err != nil {
		return fmt.Errorf("%w: key lookup: %v", apperr.ErrTransientInfra, err)
	}
	if k == nil {
		return apperr.ErrNotFound
	}
	if k.Revoked() {
		return nil
	}
	if err := m.keys.Revoke(ctx, keyID); err != nil {
		return fmt.Errorf("%w: revoke: %v", apperr.ErrTransientInfra, err)
	}
	return nil
}

// List returns every key row for the tenant, revoked ones included, newest
// first. Hashes stay server-side; callers show id/prefix only.
func (m *Manager) List(ctx context.Context, tenantID string) ([]model.APIKey, error) {
	out, err := m.keys.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: list keys: %v", apperr.ErrTransientInfra, err)
	}
	return out, nil
}

// Owns reports whether the key exists and belongs to the tenant.
func (m *Manager) Owns(ctx context.Context, tenantID, keyID string) (bool, error) {
	k, err := m.keys.GetByID(ctx, keyID)
	if err != nil {
		return false, fmt.Errorf("%w: key lookup: %v", apperr.ErrTransientInfra, err)
	}
	return k != nil && k.TenantID == tenantID, nil
}

// Rotate revokes every prior key for the tenant and mints a replacement
// atomically, so no window exists where old and new are both valid.
func (m *Manager) Rotate(ctx context.Context, tenantID string) (*Issued, error) {
	kind, ok := kindOf(tenantID)
	if !ok {
		return nil, fmt.Errorf("%w: unrecognized tenant id", apperr.ErrValidation)
	}
	if err := m.eligible(ctx, tenantID, kind); err != nil {
		return nil, err
	}

	k, raw, err := newKeyRow(tenantID, kind)
	if err != nil {
		return nil, err
	}
	if err := m.keys.Rotate(ctx, k); err != nil {
		return nil, fmt.Errorf("%w: rotate: %v", apperr.ErrTransientInfra, err)
	}
	return &Issued{Key: k, Secret: raw}, nil
}

// RevokeAll revokes every active key for a tenant (merchant deletion path).
func (m *Manager) RevokeAll(ctx context.Context, tenantID string) error {
	if err := m.keys.RevokeAllForTenant(ctx, tenantID); err != nil {
		return fmt.Errorf("%w: revoke all: %v", apperr.ErrTransientInfra, err)
	}
	return nil
}

func scopesFor(kind model.TenantKind) []string {
	switch kind {
	case model.KindMerchant:
		return []string{"payments:read", "payments:write", "usage:read", "keys:manage"}
	case model.KindAgent:
		return []string{"payments:read", "usage:read", "keys:manage"}
	default:
		return nil
	}
}
