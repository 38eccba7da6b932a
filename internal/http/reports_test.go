package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vireopay/merchant-gateway/internal/model"
	"github.com/vireopay/merchant-gateway/internal/repository"
)

type fixedLedger struct {
	gotTenant string
	summary   []repository.SummaryRow
	timeline  []repository.TimelineRow
}

var _ repository.CHUsageRepository = (*fixedLedger)(nil)

func (f *fixedLedger) InsertBatch(context.Context, []model.UsageRecord) error { return nil }

func (f *fixedLedger) Summary(_ context.Context, tenantID string, _, _ time.Time) ([]repository.SummaryRow, error) {
	f.gotTenant = tenantID
	return f.summary, nil
}

func (f *fixedLedger) Timeline(_ context.Context, tenantID string, _, _ time.Time) ([]repository.TimelineRow, error) {
	f.gotTenant = tenantID
	return f.timeline, nil
}

func reportCtx(target string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("tenant", &model.TenantContext{TenantID: "merch_acme", Kind: model.KindMerchant})
	return c, rec
}

func TestTimeWindowDefaults(t *testing.T) {
	c, _ := reportCtx("/v1/usage/summary")
	from, to := timeWindow(c, 24*time.Hour)
	assert.WithinDuration(t, time.Now().UTC(), to, 2*time.Second)
	assert.WithinDuration(t, to.Add(-24*time.Hour), from, 2*time.Second)
}

func TestTimeWindowExplicitBounds(t *testing.T) {
	c, _ := reportCtx("/v1/usage/summary?from=2026-08-01T00:00:00Z&to=2026-08-02T00:00:00Z")
	from, to := timeWindow(c, 24*time.Hour)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC), to)
}

func TestUsageSummaryHandlerScopedToTenant(t *testing.T) {
	ledger := &fixedLedger{summary: []repository.SummaryRow{
		{Endpoint: "GET /v1/whoami", Outcome: "success", Count: 40, AvgLatencyMs: 3.5},
		{Endpoint: "POST /v1/keys/rotate", Outcome: "error", ErrorKind: "rate_limit_exceeded", Count: 2, AvgLatencyMs: 1.0},
	}}

	c, rec := reportCtx("/v1/usage/summary")
	require.NoError(t, usageSummaryHandler(ledger)(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "merch_acme", ledger.gotTenant, "a tenant sees only its own ledger")

	var body struct {
		Count   int                    `json:"count"`
		Results []repository.SummaryRow `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, uint64(40), body.Results[0].Count)
}

func TestUsageTimelineHandler(t *testing.T) {
	hour := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	ledger := &fixedLedger{timeline: []repository.TimelineRow{
		{Hour: hour, Outcome: "success", Count: 12},
	}}

	c, rec := reportCtx("/v1/usage/timeline")
	require.NoError(t, usageTimelineHandler(ledger)(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "merch_acme", ledger.gotTenant)
	assert.Contains(t, rec.Body.String(), `"count":1`)
}

func TestReportsRequireTenant(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/usage/summary", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, usageSummaryHandler(&fixedLedger{})(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
