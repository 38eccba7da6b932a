// Package onboarding drives a merchant account through the KYB admission
// flow: registration → document collection → review → PSP linkage → active.
// Every transition is a compare-and-swap on the stored status, so two
// reviewers cannot double-apply a decision and a late upload cannot
// resurrect a rejected merchant.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vireopay/merchant-gateway/internal/apperr"
	"github.com/vireopay/merchant-gateway/internal/config"
	"github.com/vireopay/merchant-gateway/internal/keys"
	"github.com/vireopay/merchant-gateway/internal/logger"
	"github.com/vireopay/merchant-gateway/internal/model"
	"github.com/vireopay/merchant-gateway/internal/psp"
	"github.com/vireopay/merchant-gateway/internal/repository"
	"github.com/vireopay/merchant-gateway/internal/util"
)

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Registration is the submitted merchant profile.
type Registration struct {
	LegalName     string
	ContactEmail  string
	Country       string
	MonthlyVolume int64
}

type Service struct {
	merchants repository.MerchantsRepository
	keys      *keys.Manager
	psp       *psp.Service

	requiredDocs       []string
	allowRejectedReset bool
}

func New(
	merchantsRepo repository.MerchantsRepository,
	keyManager *keys.Manager,
	pspService *psp.Service,
	cfg config.OnboardingConfig,
) *Service {
	required := cfg.RequiredDocuments
	if len(required) == 0 {
		required = []string{"business_license", "tax_id", "proof_of_address"}
	}
	return &Service{
		merchants:          merchantsRepo,
		keys:               keyManager,
		psp:                pspService,
		requiredDocs:       required,
		allowRejectedReset: cfg.AllowRejectedReset,
	}
}

// SubmitRegistration creates a merchant in pending_documents.
func (s *Service) SubmitRegistration(ctx context.Context, reg Registration) (*model.MerchantAccount, error) {
	reg.LegalName = strings.TrimSpace(reg.LegalName)
	reg.ContactEmail = strings.TrimSpace(reg.ContactEmail)

	if reg.LegalName == "" {
		return nil, fmt.Errorf("%w: legal_name is required", apperr.ErrValidation)
	}
	if reg.ContactEmail == "" || !strings.Contains(reg.ContactEmail, "@") {
		return nil, fmt.Errorf("%w: contact_email is not a valid address", apperr.ErrValidation)
	}
	country, ok := util.NormalizeCountry(reg.Country)
	if !ok {
		return nil, fmt.Errorf("%w: unrecognized country code %q", apperr.ErrValidation, reg.Country)
	}
	if reg.MonthlyVolume < 0 {
		return nil, fmt.Errorf("%w: monthly_volume must not be negative", apperr.ErrValidation)
	}

	m := model.MerchantAccount{
		ID:            util.NewID("merch"),
		LegalName:     reg.LegalName,
		ContactEmail:  reg.ContactEmail,
		Country:       country,
		MonthlyVolume: reg.MonthlyVolume,
		Status:        model.StatusPendingDocuments,
	}
	if err := s.merchants.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("%w: create merchant: %v", apperr.ErrTransientInfra, err)
	}

	logger.Log.Info("merchant registered",
		zap.String("merchant_id", m.ID), zap.String("country", m.Country))
	return &m, nil
}

// Get returns the merchant and its uploaded documents.
func (s *Service) Get(ctx context.Context, merchantID string) (*model.MerchantAccount, []model.Document, error) {
	m, err := s.merchants.GetByID(ctx, merchantID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: merchant lookup: %v", apperr.ErrTransientInfra, err)
	}
	if m == nil {
		return nil, nil, apperr.ErrNotFound
	}
	docs, err := s.merchants.ListDocuments(ctx, merchantID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: documents lookup: %v", apperr.ErrTransientInfra, err)
	}
	return m, docs, nil
}

// UploadDocument appends a KYB document. Once every required type is present
// the account auto-advances to pending_review; duplicate uploads of an
// already-satisfied type leave the status untouched.
func (s *Service) UploadDocument(ctx context.Context, merchantID, docType, blobRef string) (*model.MerchantAccount, error) {
	docType = strings.TrimSpace(docType)
	if docType == "" || strings.TrimSpace(blobRef) == "" {
		return nil, fmt.Errorf("%w: doc type and blob ref are required", apperr.ErrValidation)
	}

	m, err := s.merchants.GetByID(ctx, merchantID)
	if err != nil {
		return nil, fmt.Errorf("%w: merchant lookup: %v", apperr.ErrTransientInfra, err)
	}
	if m == nil {
		return nil, apperr.ErrNotFound
	}
	if m.Status != model.StatusPendingDocuments && m.Status != model.StatusPendingReview {
		return nil, fmt.Errorf("%w: cannot upload documents in status %s", apperr.ErrInvalidState, m.Status)
	}

	if err := s.merchants.AppendDocument(ctx, model.Document{
		MerchantID: merchantID,
		Type:       docType,
		BlobRef:    blobRef,
	}); err != nil {
		return nil, fmt.Errorf("%w: append document: %v", apperr.ErrTransientInfra, err)
	}

	if m.Status == model.StatusPendingDocuments {
		complete, err := s.requiredComplete(ctx, merchantID)
		if err != nil {
			return nil, err
		}
		if complete {
			err := s.merchants.CompareAndSetStatus(ctx, merchantID,
				model.StatusPendingDocuments, model.StatusPendingReview, repository.StatusPatch{})
			if errors.Is(err, apperr.ErrConcurrentModification) {
				// A parallel upload won the advance. Benign as long as the
				// account really is in review now.
				cur, gerr := s.merchants.GetByID(ctx, merchantID)
				if gerr == nil && cur != nil && cur.Status == model.StatusPendingReview {
					return cur, nil
				}
				return nil, err
			}
			if err != nil {
				return nil, fmt.Errorf("%w: advance to review: %v", apperr.ErrTransientInfra, err)
			}
			m.Status = model.StatusPendingReview
			logger.Log.Info("merchant advanced to review", zap.String("merchant_id", merchantID))
		}
	}

	return m, nil
}

func (s *Service) requiredComplete(ctx context.Context, merchantID string) (bool, error) {
	docs, err := s.merchants.ListDocuments(ctx, merchantID)
	if err != nil {
		return false, fmt.Errorf("%w: documents lookup: %v", apperr.ErrTransientInfra, err)
	}
	have := make(map[string]bool, len(docs))
	for _, d := range docs {
		have[d.Type] = true
	}
	for _, req := range s.requiredDocs {
		if !have[req] {
			return false, nil
		}
	}
	return true, nil
}

// Review records a reviewer decision on an account in pending_review.
// Exactly one of two racing reviewers wins the CAS; the other gets
// ErrConcurrentModification and must re-fetch.
func (s *Service) Review(ctx context.Context, merchantID string, decision Decision, reason string) (*model.MerchantAccount, error) {
	m, err := s.merchants.GetByID(ctx, merchantID)
	if err != nil {
		return nil, fmt.Errorf("%w: merchant lookup: %v", apperr.ErrTransientInfra, err)
	}
	if m == nil {
		return nil, apperr.ErrNotFound
	}
	if m.Status != model.StatusPendingReview {
		return nil, fmt.Errorf("%w: review requires pending_review, merchant is %s", apperr.ErrInvalidState, m.Status)
	}

	switch decision {
	case DecisionApprove:
		if err := s.merchants.CompareAndSetStatus(ctx, merchantID,
			model.StatusPendingReview, model.StatusPendingPSP, repository.StatusPatch{}); err != nil {
			return nil, err
		}
		m.Status = model.StatusPendingPSP

	case DecisionReject:
		reason = strings.TrimSpace(reason)
		if reason == "" {
			return nil, fmt.Errorf("%w: rejection requires a reason", apperr.ErrValidation)
		}
		if err := s.merchants.CompareAndSetStatus(ctx, merchantID,
			model.StatusPendingReview, model.StatusRejected,
			repository.StatusPatch{RejectReason: &reason}); err != nil {
			return nil, err
		}
		m.Status = model.StatusRejected
		m.RejectReason = &reason

	default:
		return nil, fmt.Errorf("%w: decision must be approve or reject", apperr.ErrValidation)
	}

	logger.Log.Info("merchant reviewed",
		zap.String("merchant_id", merchantID), zap.String("decision", string(decision)))
	return m, nil
}

// Reset re-enters document collection from rejected. Explicit only; nothing
// resets automatically.
func (s *Service) Reset(ctx context.Context, merchantID string) (*model.MerchantAccount, error) {
	if !s.allowRejectedReset {
		return nil, fmt.Errorf("%w: resubmission after rejection is disabled", apperr.ErrTenantNotEligible)
	}

	m, err := s.merchants.GetByID(ctx, merchantID)
	if err != nil {
		return nil, fmt.Errorf("%w: merchant lookup: %v", apperr.ErrTransientInfra, err)
	}
	if m == nil {
		return nil, apperr.ErrNotFound
	}
	if m.Status != model.StatusRejected {
		return nil, fmt.Errorf("%w: reset requires rejected, merchant is %s", apperr.ErrInvalidState, m.Status)
	}

	empty := ""
	if err := s.merchants.CompareAndSetStatus(ctx, merchantID,
		model.StatusRejected, model.StatusPendingDocuments,
		repository.StatusPatch{RejectReason: &empty, ClearDocs: true}); err != nil {
		return nil, err
	}
	m.Status = model.StatusPendingDocuments
	m.RejectReason = nil
	return m, nil
}

// ConnectPSP verifies the supplied provider credential and, on a valid
// verdict, activates the merchant and issues its first API key. On an
// invalid verdict nothing is persisted and the status stays pending_psp.
func (s *Service) ConnectPSP(ctx context.Context, merchantID, provider, credential string) (*model.MerchantAccount, *keys.Issued, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, nil, fmt.Errorf("%w: credential is required", apperr.ErrValidation)
	}

	m, err := s.merchants.GetByID(ctx, merchantID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: merchant lookup: %v", apperr.ErrTransientInfra, err)
	}
	if m == nil {
		return nil, nil, apperr.ErrNotFound
	}
	if m.Status != model.StatusPendingPSP {
		return nil, nil, fmt.Errorf("%w: psp linkage requires pending_psp, merchant is %s", apperr.ErrInvalidState, m.Status)
	}

	// Detached from the caller: a disconnect mid-verification must not leave
	// the machine between states. The verifier carries its own timeout.
	opCtx := context.WithoutCancel(ctx)

	verdict, err := s.psp.Verify(opCtx, provider, credential)
	if err != nil {
		return nil, nil, err
	}
	if !verdict.Valid {
		return nil, nil, fmt.Errorf("%w: %s rejected the credential", apperr.ErrPSPVerification, provider)
	}

	now := time.Now().UTC()
	validated := true
	if err := s.merchants.CompareAndSetStatus(opCtx, merchantID,
		model.StatusPendingPSP, model.StatusActive,
		repository.StatusPatch{
			PSPProvider:   &provider,
			PSPValidated:  &validated,
			PSPVerifiedAt: &now,
		}); err != nil {
		return nil, nil, err
	}
	m.Status = model.StatusActive
	m.PSPProvider = &provider
	m.PSPValidated = true
	m.PSPVerifiedAt = &now

	issued, err := s.keys.Issue(opCtx, merchantID)
	if err != nil {
		// Activation committed; the merchant can still get a key through
		// rotation once the store recovers.
		logger.Log.Error("first key issuance failed after activation",
			zap.String("merchant_id", merchantID), zap.Error(err))
		return m, nil, err
	}

	logger.Log.Info("merchant activated",
		zap.String("merchant_id", merchantID), zap.String("provider", provider))
	return m, issued, nil
}

// Delete soft-deletes the account from any non-deleted state and revokes its
// keys. Rows are kept for the audit trail.
func (s *Service) Delete(ctx context.Context, merchantID string) error {
	changed, err := s.merchants.SoftDelete(ctx, merchantID)
	if err != nil {
		return fmt.Errorf("%w: soft delete: %v", apperr.ErrTransientInfra, err)
	}
	if !changed {
		m, gerr := s.merchants.GetByID(ctx, merchantID)
		if gerr != nil {
			return fmt.Errorf("%w: merchant lookup: %v", apperr.ErrTransientInfra, gerr)
		}
		if m == nil {
			return apperr.ErrNotFound
		}
		return fmt.Errorf("%w: merchant already deleted", apperr.ErrInvalidState)
	}

	if err := s.keys.RevokeAll(ctx, merchantID); err != nil {
		return err
	}
	logger.Log.Info("merchant deleted", zap.String("merchant_id", merchantID))
	return nil
}

// Funnel counts merchants by onboarding status for the analytics report.
func (s *Service) Funnel(ctx context.Context) (map[model.MerchantStatus]int64, error) {
	counts, err := s.merchants.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: funnel counts: %v", apperr.ErrTransientInfra, err)
	}
	return counts, nil
}
