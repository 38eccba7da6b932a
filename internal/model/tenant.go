package model

type TenantKind string

const (
	KindMerchant TenantKind = "merchant"
	KindAgent    TenantKind = "agent"
	KindEmployee TenantKind = "employee"
)

func (k TenantKind) String() string { return string(k) }

func (k TenantKind) Valid() bool {
	return k == KindMerchant || k == KindAgent || k == KindEmployee
}

// TenantContext is the immutable identity handed to business handlers after
// the gateway has authenticated a request. Handlers receive it as an
// argument; nothing reads it from ambient state.
type TenantContext struct {
	TenantID string
	Kind     TenantKind
	Scopes   []string
	KeyID    string

	// DeprecatedKey marks authentication through the legacy plaintext key
	// column so callers can warn the tenant to rotate.
	DeprecatedKey bool
}
