package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/vireopay/merchant-gateway/internal/model"
	"github.com/vireopay/merchant-gateway/internal/util"
)

type AgentsRepository interface {
	// GetOrCreate resolves the agent row for an external identity subject,
	// creating it on first sign-in. Idempotent: concurrent first sign-ins
	// converge on a single row keyed by the unique external_key.
	GetOrCreate(ctx context.Context, externalKey, displayName, contactEmail string) (*model.AgentAccount, error)
	GetByID(ctx context.Context, id string) (*model.AgentAccount, error)
	SetActive(ctx context.Context, id string, active bool) error
}

type AgentsRepositoryImpl struct {
	db *sqlx.DB
}

func NewAgentsRepository(db *sqlx.DB) *AgentsRepositoryImpl {
	return &AgentsRepositoryImpl{db: db}
}

var _ AgentsRepository = (*AgentsRepositoryImpl)(nil)

func (r *AgentsRepositoryImpl) GetOrCreate(ctx context.Context, externalKey, displayName, contactEmail string) (*model.AgentAccount, error) {
	// Insert-if-absent on the unique external_key; losers of the race
	// no-op and the follow-up SELECT reads the surviving row.
	const ins = `
		INSERT INTO agents (id, external_key, display_name, contact_email, is_active, created_at)
		VALUES (?, ?, ?, ?, TRUE, NOW())
		ON DUPLICATE KEY UPDATE id = id
	`
	if _, err := r.db.ExecContext(ctx, ins, util.NewID("agent"), externalKey, displayName, contactEmail); err != nil {
		return nil, err
	}

	var a model.AgentAccount
	err := r.db.GetContext(ctx, &a, `
		SELECT id, external_key, display_name, contact_email, is_active, created_at
		  FROM agents
		 WHERE external_key = ? LIMIT 1
	`, externalKey)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AgentsRepositoryImpl) GetByID(ctx context.Context, id string) (*model.AgentAccount, error) {
	var a model.AgentAccount
	err := r.db.GetContext(ctx, &a, `
		SELECT id, external_key, display_name, contact_email, is_active, created_at
		  FROM agents
		 WHERE id = ? LIMIT 1
	`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AgentsRepositoryImpl) SetActive(ctx context.Context, id string, active bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE agents SET is_active = ? WHERE id = ?
	`, active, id)
	return err
}
