package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vireopay/merchant-gateway/internal/apperr"
	"github.com/vireopay/merchant-gateway/internal/model"
)

// StatusPatch carries the extra columns a transition writes alongside the
// status flip. Nil fields are left untouched.
type StatusPatch struct {
	RejectReason  *string
	PSPProvider   *string
	PSPValidated  *bool
	PSPVerifiedAt *time.Time
	ClearDocs     bool // reset: drop the uploaded-document set
}

type MerchantsRepository interface {
	Create(ctx context.Context, m model.MerchantAccount) error
	GetByID(ctx context.Context, id string) (*model.MerchantAccount, error)
	GetByLegacyKey(ctx context.Context, rawKey string) (*model.MerchantAccount, error)

	// CompareAndSetStatus flips status from expected to next in a single
	// conditional UPDATE. When the precondition no longer holds it returns
	// apperr.ErrConcurrentModification and writes nothing.
	CompareAndSetStatus(ctx context.Context, id string, expected, next model.MerchantStatus, patch StatusPatch) error

	AppendDocument(ctx context.Context, doc model.Document) error
	ListDocuments(ctx context.Context, merchantID string) ([]model.Document, error)

	// SoftDelete marks the row deleted and reports whether this call changed
	// it. Rows are retained for the audit trail.
	SoftDelete(ctx context.Context, id string) (bool, error)

	// CountByStatus feeds the onboarding funnel report.
	CountByStatus(ctx context.Context) (map[model.MerchantStatus]int64, error)
}

type MerchantsRepositoryImpl struct {
	db *sqlx.DB
}

func NewMerchantsRepository(db *sqlx.DB) *MerchantsRepositoryImpl {
	return &MerchantsRepositoryImpl{db: db}
}

var _ MerchantsRepository = (*MerchantsRepositoryImpl)(nil)

func (r *MerchantsRepositoryImpl) Create(ctx context.Context, m model.MerchantAccount) error {
	const q = `
		INSERT INTO merchants
		    (id, legal_name, contact_email, country, monthly_volume, status, created_at, updated_at)
		VALUES
		    (?,  ?,          ?,             ?,       ?,              ?,      NOW(),      NOW())
	`
	_, err := r.db.ExecContext(ctx, q,
		m.ID, m.LegalName, m.ContactEmail, m.Country, m.MonthlyVolume, m.Status.String(),
	)
	return err
}

func (r *MerchantsRepositoryImpl) GetByID(ctx context.Context, id string) (*model.MerchantAccount, error) {
	var m model.MerchantAccount
	err := r.db.GetContext(ctx, &m, `
		SELECT id, legal_name, contact_email, country, monthly_volume, status,
		       reject_reason, psp_provider, psp_validated, psp_verified_at,
		       created_at, updated_at, deleted_at
		  FROM merchants
		 WHERE id = ? LIMIT 1
	`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetByLegacyKey looks up a merchant by the plaintext key column kept from
// the pre-hash era. Only the deprecated authentication fallback calls this.
func (r *MerchantsRepositoryImpl) GetByLegacyKey(ctx context.Context, rawKey string) (*model.MerchantAccount, error) {
	var m model.MerchantAccount
	err := r.db.GetContext(ctx, &m, `
		SELECT id, legal_name, contact_email, country, monthly_volume, status,
		       reject_reason, psp_provider, psp_validated, psp_verified_at,
		       created_at, updated_at, deleted_at
		  FROM merchants
		 WHERE legacy_api_key = ? AND deleted_at IS NULL LIMIT 1
	`, rawKey)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MerchantsRepositoryImpl) CompareAndSetStatus(ctx context.Context, id string, expected, next model.MerchantStatus, patch StatusPatch) error {
	var sb strings.Builder
	sb.WriteString(`UPDATE merchants SET status = ?, updated_at = NOW()`)
	args := []any{next.String()}

	if patch.RejectReason != nil {
		sb.WriteString(`, reject_reason = ?`)
		args = append(args, *patch.RejectReason)
	}
	if patch.PSPProvider != nil {
		sb.WriteString(`, psp_provider = ?`)
		args = append(args, *patch.PSPProvider)
	}
	if patch.PSPValidated != nil {
		sb.WriteString(`, psp_validated = ?`)
		args = append(args, *patch.PSPValidated)
	}
	if patch.PSPVerifiedAt != nil {
		sb.WriteString(`, psp_verified_at = ?`)
		args = append(args, *patch.PSPVerifiedAt)
	}

	sb.WriteString(` WHERE id = ? AND status = ? AND deleted_at IS NULL`)
	args = append(args, id, expected.String())

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.ErrConcurrentModification
	}

	if patch.ClearDocs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM merchant_documents WHERE merchant_id = ?`, id); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *MerchantsRepositoryImpl) AppendDocument(ctx context.Context, doc model.Document) error {
	const q = `
		INSERT INTO merchant_documents (merchant_id, doc_type, blob_ref, uploaded_at)
		VALUES (?, ?, ?, NOW())
	`
	_, err := r.db.ExecContext(ctx, q, doc.MerchantID, doc.Type, doc.BlobRef)
	return err
}

func (r *MerchantsRepositoryImpl) ListDocuments(ctx context.Context, merchantID string) ([]model.Document, error) {
	var docs []model.Document
	err := r.db.SelectContext(ctx, &docs, `
		SELECT id, merchant_id, doc_type, blob_ref, uploaded_at
		  FROM merchant_documents
		 WHERE merchant_id = ?
		 ORDER BY uploaded_at ASC, id ASC
	`, merchantID)
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *MerchantsRepositoryImpl) SoftDelete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE merchants
		   SET status = ?, deleted_at = NOW(), updated_at = NOW()
		 WHERE id = ? AND deleted_at IS NULL
	`, model.StatusDeleted.String(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *MerchantsRepositoryImpl) CountByStatus(ctx context.Context) (map[model.MerchantStatus]int64, error) {
	rows, err := r.db.QueryxContext(ctx, `
		SELECT status, COUNT(*) AS n FROM merchants GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[model.MerchantStatus]int64)
	for rows.Next() {
		var st string
		var n int64
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[model.MerchantStatus(st)] = n
	}
	return out, rows.Err()
}
