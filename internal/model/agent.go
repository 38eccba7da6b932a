package model

import "time"

// AgentAccount is an autonomous-agent tenant. Created lazily on first
// authenticated sign-in (see AgentsRepository.GetOrCreate).
type AgentAccount struct {
	ID           string    `db:"id"` // agent_<hex>
	ExternalKey  string    `db:"external_key"` // subject of the identity assertion, unique
	DisplayName  string    `db:"display_name"`
	ContactEmail string    `db:"contact_email"`
	IsActive     bool      `db:"is_active"`
	CreatedAt    time.Time `db:"created_at"`
}
