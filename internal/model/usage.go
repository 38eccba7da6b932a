package model

import "time"

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
)

func (o Outcome) String() string { return string(o) }

func (o Outcome) Valid() bool {
	return o == OutcomeSuccess || o == OutcomeError
}

// UsageRecord is one append-only ledger row. It doubles as the Kafka payload
// published by the gateway and consumed by the flush worker; aggregate views
// (summary, timeline, funnel) recompute from these rows and never mutate them.
type UsageRecord struct {
	ID         string     `db:"id"          json:"id"` // ULID
	TenantID   string     `db:"tenant_id"   json:"tenant_id"`
	TenantKind TenantKind `db:"tenant_kind" json:"tenant_kind"`
	Endpoint   string     `db:"endpoint"    json:"endpoint"` // action tag, e.g. "keys.rotate"
	Outcome    Outcome    `db:"outcome"     json:"outcome"`
	ErrorKind  string     `db:"error_kind"  json:"error_kind,omitempty"`
	LatencyMs  int64      `db:"latency_ms"  json:"latency_ms"`
	CreatedAt  time.Time  `db:"created_at"  json:"created_at"`
}
