package model

import "time"

type MerchantStatus string

const (
	StatusPendingDocuments MerchantStatus = "pending_documents"
	StatusPendingReview    MerchantStatus = "pending_review"
	StatusPendingPSP       MerchantStatus = "pending_psp"
	StatusActive           MerchantStatus = "active"
	StatusRejected         MerchantStatus = "rejected"
	StatusDeleted          MerchantStatus = "deleted"
)

func (s MerchantStatus) String() string {
	return string(s)
}

func (s MerchantStatus) Valid() bool {
	switch s {
	case StatusPendingDocuments, StatusPendingReview, StatusPendingPSP,
		StatusActive, StatusRejected, StatusDeleted:
		return true
	}
	return false
}

// MerchantAccount is the DB entity persisted in the merchants table.
// Documents live in merchant_documents and are loaded separately.
type MerchantAccount struct {
	ID            string         `db:"id"` // merch_<hex>
	LegalName     string         `db:"legal_name"`
	ContactEmail  string         `db:"contact_email"`
	Country       string         `db:"country"`
	MonthlyVolume int64          `db:"monthly_volume"` // declared, minor units
	Status        MerchantStatus `db:"status"`
	RejectReason  *string        `db:"reject_reason"`

	// PSP binding. Provider is set only after a successful verification;
	// the raw credential itself is never stored.
	PSPProvider    *string    `db:"psp_provider"`
	PSPValidated   bool       `db:"psp_validated"`
	PSPVerifiedAt  *time.Time `db:"psp_verified_at"`

	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at"` // soft delete only
}

// Document is one uploaded KYB document reference.
type Document struct {
	ID         int64     `db:"id"`
	MerchantID string    `db:"merchant_id"`
	Type       string    `db:"doc_type"` // business_license | tax_id | proof_of_address | ...
	BlobRef    string    `db:"blob_ref"` // storage pointer, opaque to the core
	UploadedAt time.Time `db:"uploaded_at"`
}
