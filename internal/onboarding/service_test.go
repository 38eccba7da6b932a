package onboarding

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vireopay/merchant-gateway/internal/apperr"
	"github.com/vireopay/merchant-gateway/internal/config"
	"github.com/vireopay/merchant-gateway/internal/keys"
	"github.com/vireopay/merchant-gateway/internal/model"
	"github.com/vireopay/merchant-gateway/internal/psp"
	"github.com/vireopay/merchant-gateway/internal/repository"
)

// ---- stubs ----

// memMerchants is an in-memory MerchantsRepository honoring the same CAS
// contract as the MySQL implementation. casErr, when set, poisons the next
// CompareAndSetStatus call to simulate a racing writer.
type memMerchants struct {
	mu     sync.Mutex
	rows   map[string]*model.MerchantAccount
	docs   map[string][]model.Document
	nextID int64

	// casErr poisons the next CompareAndSetStatus; casHook, if set, mutates
	// the row at that moment, standing in for the racing writer's commit.
	casErr  error
	casHook func(m *model.MerchantAccount)
}

var _ repository.MerchantsRepository = (*memMerchants)(nil)

func newMemMerchants() *memMerchants {
	return &memMerchants{
		rows: make(map[string]*model.MerchantAccount),
		docs: make(map[string][]model.Document),
	}
}

func (s *memMerchants) Create(_ context.Context, m model.MerchantAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.CreatedAt = time.Now()
	s.rows[m.ID] = &m
	return nil
}

func (s *memMerchants) GetByID(_ context.Context, id string) (*model.MerchantAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *memMerchants) GetByLegacyKey(context.Context, string) (*model.MerchantAccount, error) {
	return nil, nil
}

func (s *memMerchants) CompareAndSetStatus(_ context.Context, id string, expected, next model.MerchantStatus, patch repository.StatusPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.casErr != nil {
		err := s.casErr
		s.casErr = nil
		if s.casHook != nil {
			if m, ok := s.rows[id]; ok {
				s.casHook(m)
			}
			s.casHook = nil
		}
		return err
	}

	m, ok := s.rows[id]
	if !ok || m.Status != expected || m.DeletedAt != nil {
		return apperr.ErrConcurrentModification
	}
	m.Status = next
	if patch.RejectReason != nil {
		if *patch.RejectReason == "" {
			m.RejectReason = nil
		} else {
			r := *patch.RejectReason
			m.RejectReason = &r
		}
	}
	if patch.PSPProvider != nil {
		p := *patch.PSPProvider
		m.PSPProvider = &p
	}
	if patch.PSPValidated != nil {
		m.PSPValidated = *patch.PSPValidated
	}
	if patch.PSPVerifiedAt != nil {
		ts := *patch.PSPVerifiedAt
		m.PSPVerifiedAt = &ts
	}
	if patch.ClearDocs {
		delete(s.docs, id)
	}
	return nil
}

func (s *memMerchants) AppendDocument(_ context.Context, doc model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	doc.ID = s.nextID
	doc.UploadedAt = time.Now()
	s.docs[doc.MerchantID] = append(s.docs[doc.MerchantID], doc)
	return nil
}

func (s *memMerchants) ListDocuments(_ context.Context, merchantID string) ([]model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Document(nil), s.docs[merchantID]...), nil
}

func (s *memMerchants) SoftDelete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok || m.DeletedAt != nil {
		return false, nil
	}
	now := time.Now()
	m.DeletedAt = &now
	m.Status = model.StatusDeleted
	return true, nil
}

func (s *memMerchants) CountByStatus(context.Context) (map[model.MerchantStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[model.MerchantStatus]int64)
	for _, m := range s.rows {
		out[m.Status]++
	}
	return out, nil
}

type memKeys struct {
	mu   sync.Mutex
	rows map[string]*model.APIKey
}

var _ repository.APIKeysRepository = (*memKeys)(nil)

func newMemKeys() *memKeys { return &memKeys{rows: make(map[string]*model.APIKey)} }

func (s *memKeys) Insert(_ context.Context, k model.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[k.ID] = &k
	return nil
}

func (s *memKeys) GetActiveByHash(_ context.Context, hash string) (*model.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.rows {
		if k.Hash == hash && k.RevokedAt == nil {
			cp := *k
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memKeys) GetByID(_ context.Context, id string) (*model.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *k
	return &cp, nil
}

func (s *memKeys) ListByTenant(_ context.Context, tenantID string) ([]model.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.APIKey
	for _, k := range s.rows {
		if k.TenantID == tenantID {
			out = append(out, *k)
		}
	}
	return out, nil
}

func (s *memKeys) Revoke(_ context.Context, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.rows[keyID]; ok && k.RevokedAt == nil {
		now := time.Now()
		k.RevokedAt = &now
	}
	return nil
}

func (s *memKeys) RevokeAllForTenant(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, k := range s.rows {
		if k.TenantID == tenantID && k.RevokedAt == nil {
			k.RevokedAt = &now
		}
	}
	return nil
}

func (s *memKeys) Rotate(ctx context.Context, newKey model.APIKey) error {
	if err := s.RevokeAllForTenant(ctx, newKey.TenantID); err != nil {
		return err
	}
	return s.Insert(ctx, newKey)
}

func (s *memKeys) TouchLastUsed(context.Context, string) error { return nil }

func (s *memKeys) activeCount(tenantID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, k := range s.rows {
		if k.TenantID == tenantID && k.RevokedAt == nil {
			n++
		}
	}
	return n
}

type memAgents struct{}

var _ repository.AgentsRepository = (*memAgents)(nil)

func (memAgents) GetOrCreate(context.Context, string, string, string) (*model.AgentAccount, error) {
	return nil, nil
}
func (memAgents) GetByID(context.Context, string) (*model.AgentAccount, error) { return nil, nil }
func (memAgents) SetActive(context.Context, string, bool) error               { return nil }

// stubVerifier answers with a canned verdict, or a transport error.
type stubVerifier struct {
	name    string
	valid   bool
	failErr error
	calls   int
}

func (v *stubVerifier) Name() string { return v.name }

func (v *stubVerifier) Verify(context.Context, string) (psp.Verdict, error) {
	v.calls++
	if v.failErr != nil {
		return psp.Verdict{}, v.failErr
	}
	return psp.Verdict{Valid: v.valid, Scopes: []string{"charges:read"}}, nil
}

// ---- fixtures ----

type fixture struct {
	svc       *Service
	merchants *memMerchants
	keysRepo  *memKeys
	verifier  *stubVerifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := newMemMerchants()
	kr := newMemKeys()
	mgr := keys.NewManager(kr, mr, memAgents{})

	verifier := &stubVerifier{name: "testpsp", valid: true}
	pspSvc := psp.NewService(nil)
	pspSvc.Register("testpsp", verifier, time.Second)

	svc := New(mr, mgr, pspSvc, config.OnboardingConfig{
		RequiredDocuments:  []string{"business_license", "tax_id"},
		AllowRejectedReset: true,
	})
	return &fixture{svc: svc, merchants: mr, keysRepo: kr, verifier: verifier}
}

func (f *fixture) register(t *testing.T) *model.MerchantAccount {
	t.Helper()
	m, err := f.svc.SubmitRegistration(context.Background(), Registration{
		LegalName:     "Acme Ltd",
		ContactEmail:  "ops@acme.example",
		Country:       "de",
		MonthlyVolume: 250_000,
	})
	require.NoError(t, err)
	return m
}

func (f *fixture) toPendingPSP(t *testing.T) *model.MerchantAccount {
	t.Helper()
	ctx := context.Background()
	m := f.register(t)
	_, err := f.svc.UploadDocument(ctx, m.ID, "business_license", "s3://kyb/bl.pdf")
	require.NoError(t, err)
	_, err = f.svc.UploadDocument(ctx, m.ID, "tax_id", "s3://kyb/tax.pdf")
	require.NoError(t, err)
	m2, err := f.svc.Review(ctx, m.ID, DecisionApprove, "")
	require.NoError(t, err)
	return m2
}

// ---- tests ----

func TestSubmitRegistration(t *testing.T) {
	f := newFixture(t)

	m := f.register(t)
	assert.Equal(t, model.StatusPendingDocuments, m.Status)
	assert.Equal(t, "DE", m.Country, "country is normalized to upper case")
	assert.NotEmpty(t, m.ID)

	cases := []struct {
		name string
		reg  Registration
	}{
		{"missing legal name", Registration{ContactEmail: "a@b.c", Country: "DE"}},
		{"bad email", Registration{LegalName: "X", ContactEmail: "nope", Country: "DE"}},
		{"bad country", Registration{LegalName: "X", ContactEmail: "a@b.c", Country: "XX"}},
		{"negative volume", Registration{LegalName: "X", ContactEmail: "a@b.c", Country: "DE", MonthlyVolume: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.SubmitRegistration(context.Background(), tc.reg)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

func TestUploadAutoAdvancesWhenRequiredSetComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.register(t)

	// first required doc: still collecting
	cur, err := f.svc.UploadDocument(ctx, m.ID, "business_license", "s3://kyb/bl.pdf")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingDocuments, cur.Status)

	// an extra non-required doc does not advance either
	cur, err = f.svc.UploadDocument(ctx, m.ID, "bank_statement", "s3://kyb/bank.pdf")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingDocuments, cur.Status)

	// last required doc completes the set
	cur, err = f.svc.UploadDocument(ctx, m.ID, "tax_id", "s3://kyb/tax.pdf")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingReview, cur.Status)

	// late uploads while in review are accepted without a state change
	cur, err = f.svc.UploadDocument(ctx, m.ID, "proof_of_address", "s3://kyb/poa.pdf")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingReview, cur.Status)

	docs, err := f.merchants.ListDocuments(ctx, m.ID)
	require.NoError(t, err)
	assert.Len(t, docs, 4)
}

func TestUploadRejectedMerchantFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.register(t)
	_, err := f.svc.UploadDocument(ctx, m.ID, "business_license", "s3://x")
	require.NoError(t, err)
	_, err = f.svc.UploadDocument(ctx, m.ID, "tax_id", "s3://y")
	require.NoError(t, err)
	_, err = f.svc.Review(ctx, m.ID, DecisionReject, "shell company")
	require.NoError(t, err)

	_, err = f.svc.UploadDocument(ctx, m.ID, "tax_id", "s3://z")
	assert.ErrorIs(t, err, apperr.ErrInvalidState, "uploads must not resurrect a rejected merchant")
}

func TestUploadAdvanceRaceIsBenign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.register(t)
	_, err := f.svc.UploadDocument(ctx, m.ID, "business_license", "s3://x")
	require.NoError(t, err)

	// A parallel upload commits the advance between this call's read and
	// its CAS. The stale CAS fails, but the account landed where the
	// caller wanted it, so the upload still succeeds.
	f.merchants.casErr = apperr.ErrConcurrentModification
	f.merchants.casHook = func(row *model.MerchantAccount) {
		row.Status = model.StatusPendingReview
	}

	cur, err := f.svc.UploadDocument(ctx, m.ID, "tax_id", "s3://y")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingReview, cur.Status)
}

func TestReviewDecisions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("approve", func(t *testing.T) {
		m := f.toPendingPSP(t)
		assert.Equal(t, model.StatusPendingPSP, m.Status)
	})

	t.Run("reject requires reason", func(t *testing.T) {
		m := f.register(t)
		_, err := f.svc.UploadDocument(ctx, m.ID, "business_license", "s3://x")
		require.NoError(t, err)
		_, err = f.svc.UploadDocument(ctx, m.ID, "tax_id", "s3://y")
		require.NoError(t, err)

		_, err = f.svc.Review(ctx, m.ID, DecisionReject, "  ")
		assert.ErrorIs(t, err, apperr.ErrValidation)

		rej, err := f.svc.Review(ctx, m.ID, DecisionReject, "shell company")
		require.NoError(t, err)
		assert.Equal(t, model.StatusRejected, rej.Status)
		require.NotNil(t, rej.RejectReason)
		assert.Equal(t, "shell company", *rej.RejectReason)
	})

	t.Run("review outside pending_review", func(t *testing.T) {
		m := f.register(t)
		_, err := f.svc.Review(ctx, m.ID, DecisionApprove, "")
		assert.ErrorIs(t, err, apperr.ErrInvalidState)
	})

	t.Run("unknown decision", func(t *testing.T) {
		m := f.register(t)
		_, err := f.svc.UploadDocument(ctx, m.ID, "business_license", "s3://x")
		require.NoError(t, err)
		_, err = f.svc.UploadDocument(ctx, m.ID, "tax_id", "s3://y")
		require.NoError(t, err)
		_, err = f.svc.Review(ctx, m.ID, "escalate", "")
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})
}

func TestConcurrentReviewersOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.register(t)
	_, err := f.svc.UploadDocument(ctx, m.ID, "business_license", "s3://x")
	require.NoError(t, err)
	_, err = f.svc.UploadDocument(ctx, m.ID, "tax_id", "s3://y")
	require.NoError(t, err)

	// both reviewers read pending_review; the second CAS hits a flipped row
	f.merchants.casErr = nil
	_, err = f.svc.Review(ctx, m.ID, DecisionApprove, "")
	require.NoError(t, err)

	// loser read the old status before the winner committed
	f.merchants.rows[m.ID].Status = model.StatusPendingReview
	f.merchants.casErr = apperr.ErrConcurrentModification
	_, err = f.svc.Review(ctx, m.ID, DecisionReject, "fraud signals")
	assert.ErrorIs(t, err, apperr.ErrConcurrentModification)
}

func TestConnectPSPActivatesAndIssuesKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.toPendingPSP(t)

	cur, issued, err := f.svc.ConnectPSP(ctx, m.ID, "testpsp", "sk_test_good")
	require.NoError(t, err)
	require.NotNil(t, issued)

	assert.Equal(t, model.StatusActive, cur.Status)
	assert.True(t, cur.PSPValidated)
	require.NotNil(t, cur.PSPProvider)
	assert.Equal(t, "testpsp", *cur.PSPProvider)
	assert.NotNil(t, cur.PSPVerifiedAt)
	assert.NotEmpty(t, issued.Secret)
	assert.Equal(t, 1, f.keysRepo.activeCount(m.ID))
}

func TestConnectPSPInvalidCredentialPersistsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.toPendingPSP(t)
	f.verifier.valid = false

	_, _, err := f.svc.ConnectPSP(ctx, m.ID, "testpsp", "sk_test_bad")
	assert.ErrorIs(t, err, apperr.ErrPSPVerification)

	cur, _ := f.merchants.GetByID(ctx, m.ID)
	assert.Equal(t, model.StatusPendingPSP, cur.Status, "invalid verdict must not transition")
	assert.False(t, cur.PSPValidated)
	assert.Nil(t, cur.PSPProvider)
	assert.Equal(t, 0, f.keysRepo.activeCount(m.ID))
}

func TestConnectPSPStateGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.register(t)

	_, _, err := f.svc.ConnectPSP(ctx, m.ID, "testpsp", "sk_test_good")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	_, _, err = f.svc.ConnectPSP(ctx, m.ID, "testpsp", "")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, _, err = f.svc.ConnectPSP(ctx, "merch_nope", "testpsp", "sk")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestConnectPSPSurvivesCallerDisconnect(t *testing.T) {
	f := newFixture(t)
	m := f.toPendingPSP(t)

	// caller hangs up before the verification round-trip completes
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cur, issued, err := f.svc.ConnectPSP(ctx, m.ID, "testpsp", "sk_test_good")
	require.NoError(t, err, "a disconnect must not abort a started linkage")
	assert.Equal(t, model.StatusActive, cur.Status)
	assert.NotNil(t, issued)
}

func TestResetRejectedMerchant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := f.register(t)
	_, err := f.svc.UploadDocument(ctx, m.ID, "business_license", "s3://x")
	require.NoError(t, err)
	_, err = f.svc.UploadDocument(ctx, m.ID, "tax_id", "s3://y")
	require.NoError(t, err)
	_, err = f.svc.Review(ctx, m.ID, DecisionReject, "docs unreadable")
	require.NoError(t, err)

	cur, err := f.svc.Reset(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingDocuments, cur.Status)
	assert.Nil(t, cur.RejectReason)

	docs, err := f.merchants.ListDocuments(ctx, m.ID)
	require.NoError(t, err)
	assert.Empty(t, docs, "reset starts document collection over")

	// only rejected accounts reset
	_, err = f.svc.Reset(ctx, m.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestResetDisabledByConfig(t *testing.T) {
	f := newFixture(t)
	f.svc.allowRejectedReset = false

	_, err := f.svc.Reset(context.Background(), "merch_any")
	assert.ErrorIs(t, err, apperr.ErrTenantNotEligible)
}

func TestDeleteRevokesKeysAndIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.toPendingPSP(t)
	_, issued, err := f.svc.ConnectPSP(ctx, m.ID, "testpsp", "sk_test_good")
	require.NoError(t, err)
	require.NotNil(t, issued)

	require.NoError(t, f.svc.Delete(ctx, m.ID))
	assert.Equal(t, 0, f.keysRepo.activeCount(m.ID))

	cur, _ := f.merchants.GetByID(ctx, m.ID)
	assert.Equal(t, model.StatusDeleted, cur.Status)
	assert.NotNil(t, cur.DeletedAt)

	// second delete reports the terminal state
	err = f.svc.Delete(ctx, m.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	err = f.svc.Delete(ctx, "merch_nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestFunnel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.register(t)
	f.register(t)
	f.toPendingPSP(t)

	counts, err := f.svc.Funnel(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[model.StatusPendingDocuments])
	assert.Equal(t, int64(1), counts[model.StatusPendingPSP])
}

func TestGetUnknownMerchant(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.Get(context.Background(), "merch_nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}
