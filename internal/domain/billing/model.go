package billing

import (
	"time"

	"github.com/pewsoft/subscriptions/internal/types"
)

// Invoice mirrors a provider invoice/charge
type Invoice struct {
	ID              string                `db:"id" json:"id"`
	TenantID        string                `db:"tenant_id" json:"tenant_id"`
	Provider        types.PaymentProvider `db:"provider" json:"provider"`
	ProviderRef     string                `db:"provider_ref" json:"provider_ref"`
	SubscriptionID  *string               `db:"subscription_id" json:"subscription_id,omitempty"`
	AmountMinor     int64                 `db:"amount_minor" json:"amount_minor"`
	AmountPaidMinor int64                 `db:"amount_paid_minor" json:"amount_paid_minor"`
	Currency        string                `db:"currency" json:"currency"`
	Status          string                `db:"status" json:"status"`
	PeriodStart     *time.Time            `db:"period_start" json:"period_start,omitempty"`
	PeriodEnd       *time.Time            `db:"period_end" json:"period_end,omitempty"`
	PaidAt          *time.Time            `db:"paid_at" json:"paid_at,omitempty"`

	types.BaseModel
}

// Payout mirrors a provider settlement to the church's bank account
type Payout struct {
	ID          string                `db:"id" json:"id"`
	TenantID    string                `db:"tenant_id" json:"tenant_id"`
	Provider    types.PaymentProvider `db:"provider" json:"provider"`
	ProviderRef string                `db:"provider_ref" json:"provider_ref"`
	AmountMinor int64                 `db:"amount_minor" json:"amount_minor"`
	Currency    string                `db:"currency" json:"currency"`
	Status      string                `db:"status" json:"status"`
	ArrivalDate *time.Time            `db:"arrival_date" json:"arrival_date,omitempty"`

	types.BaseModel
}

// Refund mirrors a provider refund
type Refund struct {
	ID          string                `db:"id" json:"id"`
	TenantID    string                `db:"tenant_id" json:"tenant_id"`
	Provider    types.PaymentProvider `db:"provider" json:"provider"`
	ProviderRef string                `db:"provider_ref" json:"provider_ref"`
	PaymentRef  string                `db:"payment_ref" json:"payment_ref"`
	AmountMinor int64                 `db:"amount_minor" json:"amount_minor"`
	Currency    string                `db:"currency" json:"currency"`
	Status      string                `db:"status" json:"status"`
	Reason      string                `db:"reason" json:"reason"`

	types.BaseModel
}

// Dispute mirrors a provider chargeback
type Dispute struct {
	ID            string                `db:"id" json:"id"`
	TenantID      string                `db:"tenant_id" json:"tenant_id"`
	Provider      types.PaymentProvider `db:"provider" json:"provider"`
	ProviderRef   string                `db:"provider_ref" json:"provider_ref"`
	PaymentRef    string                `db:"payment_ref" json:"payment_ref"`
	AmountMinor   int64                 `db:"amount_minor" json:"amount_minor"`
	Currency      string                `db:"currency" json:"currency"`
	Status        string                `db:"status" json:"status"`
	Reason        string                `db:"reason" json:"reason"`
	EvidenceDueBy *time.Time            `db:"evidence_due_by" json:"evidence_due_by,omitempty"`

	types.BaseModel
}
