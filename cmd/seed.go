package cmd

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/vireopay/merchant-gateway/internal/config"
	"github.com/vireopay/merchant-gateway/internal/db"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo merchants and agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		log.Println(">> Seeding demo tenants...")

		if err := seedMerchants(sqlDB); err != nil {
			return err
		}
		if err := seedAgents(sqlDB); err != nil {
			return err
		}
		if err := seedKeys(sqlDB); err != nil {
			return err
		}

		log.Println(">> Seed completed")
		return nil
	},
}

type seedMerchant struct {
	ID        string
	Name      string
	Email     string
	Country   string
	Volume    int64
	Status    string
	LegacyKey *string
}

// seedMerchants inserts deterministic demo merchants (idempotent).
func seedMerchants(dbx *sqlx.DB) error {
	legacy := "legacy-acme-0001"
	merchants := []seedMerchant{
		{
			ID:      "merch_0000000000000000000000a1",
			Name:    "Acme Ecommerce Inc",
			Email:   "ops@acme.example",
			Country: "US",
			Volume:  2_500_000,
			Status:  "active",
			// kept from the pre-hash era; exercises the deprecated auth path
			LegacyKey: &legacy,
		},
		{
			ID:      "merch_0000000000000000000000a2",
			Name:    "Borealis Goods OÜ",
			Email:   "billing@borealis.example",
			Country: "EE",
			Volume:  120_000,
			Status:  "pending_documents",
		},
		{
			ID:      "merch_0000000000000000000000a3",
			Name:    "Cinder Supply Co",
			Email:   "founders@cinder.example",
			Country: "GB",
			Volume:  640_000,
			Status:  "pending_review",
		},
		{
			ID:      "merch_0000000000000000000000a4",
			Name:    "Dunlin Trading",
			Email:   "admin@dunlin.example",
			Country: "DE",
			Volume:  90_000,
			Status:  "rejected",
		},
	}

	const q = `
INSERT INTO merchants
    (id, legal_name, contact_email, country, monthly_volume, status, legacy_api_key, created_at, updated_at)
VALUES
    (?, ?, ?, ?, ?, ?, ?, NOW(), NOW())
ON DUPLICATE KEY UPDATE
    legal_name     = VALUES(legal_name),
    contact_email  = VALUES(contact_email),
    status         = VALUES(status),
    legacy_api_key = VALUES(legacy_api_key),
    updated_at     = NOW()
`
	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, m := range merchants {
		if _, err := tx.Exec(q, m.ID, m.Name, m.Email, m.Country, m.Volume, m.Status, m.LegacyKey); err != nil {
			return fmt.Errorf("insert merchant %q: %w", m.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit merchants: %w", err)
	}
	return nil
}

func seedAgents(dbx *sqlx.DB) error {
	const q = `
INSERT INTO agents (id, external_key, display_name, contact_email, is_active, created_at)
VALUES (?, ?, ?, ?, ?, NOW())
ON DUPLICATE KEY UPDATE display_name = VALUES(display_name), is_active = VALUES(is_active)
`
	rows := []struct {
		ID, Ext, Name, Email string
		Active               bool
	}{
		{"agent_0000000000000000000000b1", "bot-pricing-01", "Pricing Bot", "bots@vireopay.example", true},
		{"agent_0000000000000000000000b2", "bot-recon-02", "Reconciliation Bot", "bots@vireopay.example", false},
	}
	for _, a := range rows {
		if _, err := dbx.Exec(q, a.ID, a.Ext, a.Name, a.Email, a.Active); err != nil {
			return fmt.Errorf("insert agent %q: %w", a.Name, err)
		}
	}
	return nil
}

// seedKeys gives the active demo merchant a usable key with a known secret.
// Dev convenience only.
func seedKeys(dbx *sqlx.DB) error {
	const secret = "vk_1111111111111111111111111111111111111111111111111111111111111111"
	sum := sha256.Sum256([]byte(secret))

	const q = `
INSERT INTO api_keys (id, tenant_id, tenant_kind, key_hash, key_prefix, created_at)
VALUES (?, ?, 'merchant', ?, ?, NOW())
ON DUPLICATE KEY UPDATE key_hash = VALUES(key_hash)
`
	_, err := dbx.Exec(q,
		"key_00000000000000000000000001",
		"merch_0000000000000000000000a1",
		hex.EncodeToString(sum[:]),
		secret[:11],
	)
	if err != nil {
		return fmt.Errorf("insert demo key: %w", err)
	}

	log.Printf(">> demo merchant secret: %s", secret)
	return nil
}
