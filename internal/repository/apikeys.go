package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/vireopay/merchant-gateway/internal/model"
)

type APIKeysRepository interface {
	Insert(ctx context.Context, k model.APIKey) error

	GetActiveByHash(ctx context.Context, hash string) (*model.APIKey, error)
	GetByID(ctx context.Context, id string) (*model.APIKey, error)
	ListByTenant(ctx context.Context, tenantID string) ([]model.APIKey, error)

	// Revoke sets revoked_at if unset. Revoking an already-revoked key is a
	// no-op; revocation is monotonic.
	Revoke(ctx context.Context, keyID string) error
	RevokeAllForTenant(ctx context.Context, tenantID string) error

	// Rotate revokes every active key for the tenant and inserts the
	// replacement in one transaction, so no moment exists where old and new
	// keys are both valid.
	Rotate(ctx context.Context, newKey model.APIKey) error

	TouchLastUsed(ctx context.Context, keyID string) error
}

type APIKeysRepositoryImpl struct {
	db *sqlx.DB
}

func NewAPIKeysRepository(db *sqlx.DB) *APIKeysRepositoryImpl {
	return &APIKeysRepositoryImpl{db: db}
}

var _ APIKeysRepository = (*APIKeysRepositoryImpl)(nil)

// withTx runs fn in a transaction that commits on nil error.
func (r *APIKeysRepositoryImpl) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}

	return t.Commit()
}

const insertKeyQ = `
	INSERT INTO api_keys
	    (id, tenant_id, tenant_kind, key_hash, key_prefix, created_at)
	VALUES
	    (?,  ?,         ?,           ?,        ?,          NOW())
`

const revokeTenantQ = `
	UPDATE api_keys SET revoked_at = NOW()
	 WHERE tenant_id = ? AND revoked_at IS NULL
`

func (r *APIKeysRepositoryImpl) Insert(ctx context.Context, k model.APIKey) error {
	_, err := r.db.ExecContext(ctx, insertKeyQ,
		k.ID, k.TenantID, k.TenantKind.String(), k.Hash, k.Prefix,
	)
	return err
}

func (r *APIKeysRepositoryImpl) GetActiveByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	var k model.APIKey
	err := r.db.GetContext(ctx, &k, `
		SELECT id, tenant_id, tenant_kind, key_hash, key_prefix, created_at, revoked_at, last_used_at
		  FROM api_keys
		 WHERE key_hash = ? AND revoked_at IS NULL LIMIT 1
	`, hash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (r *APIKeysRepositoryImpl) GetByID(ctx context.Context, id string) (*model.APIKey, error) {
	var k model.APIKey
	err := r.db.GetContext(ctx, &k, `
		SELECT id, tenant_id, tenant_kind, key_hash, key_prefix, created_at, revoked_at, last_used_at
		  FROM api_keys
		 WHERE id = ? LIMIT 1
	`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (r *APIKeysRepositoryImpl) ListByTenant(ctx context.Context, tenantID string) ([]model.APIKey, error) {
	var keys []model.APIKey
	err := r.db.SelectContext(ctx, &keys, `
		SELECT id, tenant_id, tenant_kind, key_hash, key_prefix, created_at, revoked_at, last_used_at
		  FROM api_keys
		 WHERE tenant_id = ?
		 ORDER BY created_at DESC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *APIKeysRepositoryImpl) Revoke(ctx context.Context, keyID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE api_keys SET revoked_at = NOW()
		 WHERE id = ? AND revoked_at IS NULL
	`, keyID)
	return err
}

func (r *APIKeysRepositoryImpl) RevokeAllForTenant(ctx context.Context, tenantID string) error {
	_, err := r.db.ExecContext(ctx, revokeTenantQ, tenantID)
	return err
}

func (r *APIKeysRepositoryImpl) Rotate(ctx context.Context, newKey model.APIKey) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, revokeTenantQ, newKey.TenantID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, insertKeyQ,
			newKey.ID, newKey.TenantID, newKey.TenantKind.String(), newKey.Hash, newKey.Prefix,
		)
		return err
	})
}

// TouchLastUsed is best-effort bookkeeping on the authentication hot path;
// callers ignore its error.
func (r *APIKeysRepositoryImpl) TouchLastUsed(ctx context.Context, keyID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE api_keys SET last_used_at = NOW() WHERE id = ?
	`, keyID)
	return err
}
