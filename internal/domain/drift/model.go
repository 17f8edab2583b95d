package drift

import (
	"context"
	"time"
)

// IntentWithoutDonation is a succeeded payment intent with no completed donation
type IntentWithoutDonation struct {
	PaymentIntentID string    `db:"payment_intent_id" json:"payment_intent_id"`
	TenantID        string    `db:"tenant_id" json:"tenant_id"`
	Provider        string    `db:"provider" json:"provider"`
	ProviderRef     string    `db:"provider_ref" json:"provider_ref"`
	AmountMinor     int64     `db:"amount_minor" json:"amount_minor"`
	Currency        string    `db:"currency" json:"currency"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// DonationWithoutIntent is a completed donation with no succeeded payment intent
type DonationWithoutIntent struct {
	DonationID      string    `db:"donation_id" json:"donation_id"`
	TenantID        string    `db:"tenant_id" json:"tenant_id"`
	PaymentIntentID *string   `db:"payment_intent_id" json:"payment_intent_id,omitempty"`
	AmountMinor     int64     `db:"amount_minor" json:"amount_minor"`
	Currency        string    `db:"currency" json:"currency"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// Filter narrows the drift views
type Filter struct {
	TenantID string
	Limit    int
}

// Repository exposes the read-only drift views over the giving tables
type Repository interface {
	IntentsWithoutDonation(ctx context.Context, filter Filter) ([]*IntentWithoutDonation, error)
	DonationsWithoutIntent(ctx context.Context, filter Filter) ([]*DonationWithoutIntent, error)
}
