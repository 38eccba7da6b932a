package repository

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vireopay/merchant-gateway/internal/model"
)

// SummaryRow is one (endpoint, outcome) aggregate over the usage ledger.
type SummaryRow struct {
	Endpoint     string  `db:"endpoint"     json:"endpoint"`
	Outcome      string  `db:"outcome"      json:"outcome"`
	ErrorKind    string  `db:"error_kind"   json:"error_kind,omitempty"`
	Count        uint64  `db:"n"            json:"count"`
	AvgLatencyMs float64 `db:"avg_latency"  json:"avg_latency_ms"`
}

// TimelineRow is one hourly bucket of ledger activity.
type TimelineRow struct {
	Hour     time.Time `db:"hour"    json:"hour"`
	Outcome  string    `db:"outcome" json:"outcome"`
	Count    uint64    `db:"n"       json:"count"`
}

// CHUsageRepository reads and appends the usage ledger in ClickHouse.
// Rows are immutable once written; both reads recompute from raw rows.
type CHUsageRepository interface {
	InsertBatch(ctx context.Context, rows []model.UsageRecord) error
	Summary(ctx context.Context, tenantID string, from, to time.Time) ([]SummaryRow, error)
	Timeline(ctx context.Context, tenantID string, from, to time.Time) ([]TimelineRow, error)
}

type chUsageRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHUsageRepository(ch *sqlx.DB) CHUsageRepository {
	return &chUsageRepository{ch: ch}
}

func (r *chUsageRepository) InsertBatch(ctx context.Context, rows []model.UsageRecord) error {
	if len(rows) == 0 {
		return nil
	}

	var sb strings.Builder
	args := make([]any, 0, len(rows)*8)

	sb.WriteString(`
		INSERT INTO merchgw.usage_records
		    (id, tenant_id, tenant_kind, endpoint, outcome, error_kind, latency_ms, created_at)
		VALUES `)
	for i, rw := range rows {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			rw.ID, rw.TenantID, rw.TenantKind.String(), rw.Endpoint,
			rw.Outcome.String(), rw.ErrorKind, rw.LatencyMs, rw.CreatedAt,
		)
	}

	_, err := r.ch.ExecContext(ctx, sb.String(), args...)
	return err
}

func (r *chUsageRepository) Summary(ctx context.Context, tenantID string, from, to time.Time) ([]SummaryRow, error) {
	var rows []SummaryRow
	err := r.ch.SelectContext(ctx, &rows, `
		SELECT endpoint,
		       outcome,
		       error_kind,
		       COUNT(*)        AS n,
		       AVG(latency_ms) AS avg_latency
		FROM merchgw.usage_records
		WHERE tenant_id = ? AND created_at >= ? AND created_at < ?
		GROUP BY endpoint, outcome, error_kind
		ORDER BY endpoint, outcome
	`, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *chUsageRepository) Timeline(ctx context.Context, tenantID string, from, to time.Time) ([]TimelineRow, error) {
	var rows []TimelineRow
	err := r.ch.SelectContext(ctx, &rows, `
		SELECT toStartOfHour(created_at) AS hour,
		       outcome,
		       COUNT(*) AS n
		FROM merchgw.usage_records
		WHERE tenant_id = ? AND created_at >= ? AND created_at < ?
		GROUP BY hour, outcome
		ORDER BY hour ASC
	`, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
